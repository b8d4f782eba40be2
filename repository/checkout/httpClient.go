package checkoutrepo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Danylo-D87/library-service/util/httpx"
)

const defaultBaseURL = "https://api.stripe.com"

var decimalHundred = decimal.NewFromInt(100)

// signatureTolerance bounds how stale a signed webhook may be before
// it is treated as a replay.
const signatureTolerance = 5 * time.Minute

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	BaseURL       string // defaults to the live API
}

type httpRepo struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

func NewHTTP(cfg Config) Repo {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &httpRepo{cfg: cfg, client: httpx.Client(), now: time.Now}
}

func (r *httpRepo) CreateSession(ctx context.Context, req CreateSessionReq) (*Session, error) {
	cents := req.Amount.Mul(decimalHundred).IntPart()

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", req.Currency)
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(cents, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", r.cfg.SuccessURL+"?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", r.cfg.CancelURL)
	form.Set("metadata[borrowing_id]", strconv.FormatInt(req.BorrowingID, 10))
	form.Set("metadata[payment_type]", req.PaymentType)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.cfg.BaseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+r.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("checkout session request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("checkout session create failed: %s", resp.Status)
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("checkout: empty session id")
	}
	return &Session{ID: out.ID, URL: out.URL}, nil
}

// VerifyCallbackSignature checks the provider's "t=<unix>,v1=<hex>"
// header: HMAC-SHA256 over "<t>.<body>" with the webhook secret, plus
// a freshness window.
func (r *httpRepo) VerifyCallbackSignature(sigHeader string, rawBody []byte) error {
	if r.cfg.WebhookSecret == "" {
		return errors.New("webhook secret not configured")
	}
	ts, sig, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return err
	}

	at := time.Unix(ts, 0)
	if d := r.now().Sub(at); d > signatureTolerance || d < -signatureTolerance {
		return errors.New("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(r.cfg.WebhookSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(sig)
	if err != nil {
		return errors.New("malformed signature value")
	}
	if !hmac.Equal(expected, got) {
		return errors.New("signature mismatch")
	}
	return nil
}

func parseSignatureHeader(h string) (ts int64, sig string, err error) {
	for _, part := range strings.Split(h, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", errors.New("malformed signature timestamp")
			}
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", errors.New("missing signature fields")
	}
	return ts, sig, nil
}
