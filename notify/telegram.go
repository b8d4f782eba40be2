// Package notify delivers payment notifications to a Telegram chat.
// Delivery is best-effort: failures are logged, never propagated into
// the payment flow.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Danylo-D87/library-service/model"
	"github.com/Danylo-D87/library-service/util/httpx"
)

type PaymentNote struct {
	UserEmail   string
	BookTitle   string
	Type        model.PaymentType
	Amount      decimal.Decimal
	BorrowingID int64
}

type Notifier interface {
	PaymentSucceeded(ctx context.Context, n PaymentNote) error
}

type telegram struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegram returns a Telegram-backed notifier, or a no-op one when
// the bot token is not configured.
func NewTelegram(token, chatID string) Notifier {
	if token == "" || chatID == "" {
		return nop{}
	}
	return &telegram{token: token, chatID: chatID, client: httpx.Client()}
}

func (t *telegram) PaymentSucceeded(ctx context.Context, n PaymentNote) error {
	message := fmt.Sprintf(
		"💸 *Payment success*\nUser: `%s`\nType: `%s`\nSum: `$%s`\nBorrow ID: `%d`\nBook: *%s*",
		n.UserEmail, n.Type, n.Amount.StringFixed(2), n.BorrowingID, n.BookTitle,
	)

	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", message)
	form.Set("parse_mode", "Markdown")

	endpoint := "https://api.telegram.org/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram sendMessage: %s", resp.Status)
	}
	return nil
}

type nop struct{}

func (nop) PaymentSucceeded(context.Context, PaymentNote) error { return nil }
