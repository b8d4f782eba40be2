package paymentsvc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Danylo-D87/library-service/model"
	checkoutrepo "github.com/Danylo-D87/library-service/repository/checkout"
	paymentrepo "github.com/Danylo-D87/library-service/repository/payment"

	"github.com/Danylo-D87/library-service/notify"
	"github.com/Danylo-D87/library-service/service/fee"
)

type ErrCode string

const (
	ErrBadSignature     ErrCode = "BAD_SIGNATURE"
	ErrBadPayload       ErrCode = "BAD_PAYLOAD"
	ErrUnknownSession   ErrCode = "UNKNOWN_SESSION"
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrForbidden        ErrCode = "FORBIDDEN"
	ErrNotRenewable     ErrCode = "NOT_RENEWABLE"
	ErrActivePayment    ErrCode = "ACTIVE_PAYMENT_EXISTS"
	ErrDuplicateSession ErrCode = "DUPLICATE_SESSION"
)

type codedError struct{ code ErrCode }

func (e codedError) Error() string { return string(e.code) }
func (e codedError) Code() ErrCode { return e.code }
func makeErr(c ErrCode) error      { return codedError{code: c} }

// Code extracts error code
func Code(err error) ErrCode {
	var ce interface{ Code() ErrCode }
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return ""
}

// eventCategory is the local view of provider event types; everything
// the switch below does not recognize is acknowledged untouched.
type eventCategory int

const (
	eventUnknown eventCategory = iota
	eventCompleted
	eventTerminated // expired or canceled before completion
)

func categorize(eventType string) eventCategory {
	switch eventType {
	case "checkout.session.completed":
		return eventCompleted
	case "checkout.session.expired", "payment_intent.canceled":
		return eventTerminated
	default:
		return eventUnknown
	}
}

type sessionEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// Borrowings is the slice of the borrowing repository the
// reconciliation path reads.
type Borrowings interface {
	GetByID(ctx context.Context, id int64) (*model.Borrowing, error)
}

type Books interface {
	Detail(ctx context.Context, id int64) (*model.Book, error)
}

type Users interface {
	ByID(ctx context.Context, id int64) (*model.User, error)
}

type Service interface {
	// HandleWebhook verifies, matches and applies one provider event.
	// Safe to call any number of times for the same event.
	HandleWebhook(ctx context.Context, sigHeader string, raw []byte) error

	List(ctx context.Context, actingUserID int64, isStaff bool) ([]model.Payment, error)
	Get(ctx context.Context, actingUserID int64, isStaff bool, id int64) (*model.Payment, error)

	// RenewSession opens a fresh RENT checkout session for a
	// WAITING_PAYMENT borrowing whose previous session died.
	RenewSession(ctx context.Context, actingUserID int64, isStaff bool, borrowingID int64) (*model.Payment, error)
}

type service struct {
	payments   paymentrepo.Repo
	borrowings Borrowings
	books      Books
	users      Users
	x          checkoutrepo.Repo
	fees       *fee.Calculator
	notifier   notify.Notifier
	log        *slog.Logger
	currency   string
	now        func() time.Time
}

func New(payments paymentrepo.Repo, borrowings Borrowings, books Books, users Users, x checkoutrepo.Repo, fees *fee.Calculator, notifier notify.Notifier, log *slog.Logger) Service {
	return &service{
		payments:   payments,
		borrowings: borrowings,
		books:      books,
		users:      users,
		x:          x,
		fees:       fees,
		notifier:   notifier,
		log:        log,
		currency:   "usd",
		now:        time.Now,
	}
}

func (s *service) HandleWebhook(ctx context.Context, sigHeader string, raw []byte) error {
	if err := s.x.VerifyCallbackSignature(sigHeader, raw); err != nil {
		s.log.Warn("webhook signature rejected", "err", err)
		return makeErr(ErrBadSignature)
	}

	var ev sessionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return makeErr(ErrBadPayload)
	}
	if ev.Data.Object.ID == "" {
		return makeErr(ErrBadPayload)
	}

	cat := categorize(ev.Type)
	if cat == eventUnknown {
		s.log.Debug("unhandled webhook event type", "type", ev.Type)
		return nil
	}

	p, err := s.payments.FindBySession(ctx, ev.Data.Object.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// A session we never created, or one whose record was
			// lost; logged for manual follow-up.
			s.log.Error("webhook for unknown session", "session_id", ev.Data.Object.ID, "type", ev.Type)
			return makeErr(ErrUnknownSession)
		}
		return fmt.Errorf("lookup payment: %w", err)
	}

	b, err := s.borrowings.GetByID(ctx, p.BorrowingID)
	if err != nil {
		return fmt.Errorf("lookup borrowing: %w", err)
	}

	switch cat {
	case eventCompleted:
		return s.onCompleted(ctx, p, b)
	case eventTerminated:
		return s.onTerminated(ctx, p, b)
	}
	return nil
}

func (s *service) onCompleted(ctx context.Context, p *model.Payment, b *model.Borrowing) error {
	var applied bool
	var err error
	switch p.Type {
	case model.PaymentRent:
		today := dateOnly(s.now())
		applied, err = s.payments.MarkPaidAndActivate(ctx, p.ID, b.ID, today)
	case model.PaymentFine:
		applied, err = s.payments.MarkPaid(ctx, p.ID)
	}
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}
	if !applied {
		s.log.Info("completed event replay ignored", "session_id", p.SessionID)
		return nil
	}

	s.log.Info("payment settled", "session_id", p.SessionID, "type", p.Type, "borrowing_id", b.ID)
	s.notifyPaid(p, b)
	return nil
}

func (s *service) onTerminated(ctx context.Context, p *model.Payment, b *model.Borrowing) error {
	releaseInventory := p.Type == model.PaymentRent
	applied, err := s.payments.CancelAndRelease(ctx, p.ID, b.ID, b.BookID, releaseInventory)
	if err != nil {
		return fmt.Errorf("cancel payment: %w", err)
	}
	if !applied {
		s.log.Info("expiry event ignored for settled payment", "session_id", p.SessionID)
		return nil
	}
	s.log.Info("payment session expired", "session_id", p.SessionID, "type", p.Type, "borrowing_id", b.ID)
	return nil
}

// notifyPaid dispatches the Telegram message off the webhook path so
// provider retries are never caused by a slow chat API.
func (s *service) notifyPaid(p *model.Payment, b *model.Borrowing) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		note := notify.PaymentNote{
			Type:        p.Type,
			Amount:      p.Amount,
			BorrowingID: b.ID,
		}
		if u, err := s.users.ByID(ctx, b.UserID); err == nil {
			note.UserEmail = u.Email
		}
		if bk, err := s.books.Detail(ctx, b.BookID); err == nil {
			note.BookTitle = bk.Title
		}
		if err := s.notifier.PaymentSucceeded(ctx, note); err != nil {
			s.log.Warn("payment notification failed", "borrowing_id", b.ID, "err", err)
		}
	}()
}

func (s *service) List(ctx context.Context, actingUserID int64, isStaff bool) ([]model.Payment, error) {
	if isStaff {
		return s.payments.ListAll(ctx)
	}
	return s.payments.ListForUser(ctx, actingUserID)
}

func (s *service) Get(ctx context.Context, actingUserID int64, isStaff bool, id int64) (*model.Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, makeErr(ErrNotFound)
		}
		return nil, err
	}
	if !isStaff {
		b, err := s.borrowings.GetByID(ctx, p.BorrowingID)
		if err != nil {
			return nil, fmt.Errorf("lookup borrowing: %w", err)
		}
		if b.UserID != actingUserID {
			return nil, makeErr(ErrForbidden)
		}
	}
	return p, nil
}

func (s *service) RenewSession(ctx context.Context, actingUserID int64, isStaff bool, borrowingID int64) (*model.Payment, error) {
	b, err := s.borrowings.GetByID(ctx, borrowingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, makeErr(ErrNotFound)
		}
		return nil, err
	}
	if !isStaff && b.UserID != actingUserID {
		return nil, makeErr(ErrForbidden)
	}
	if b.Status != model.BorrowingWaitingPayment {
		return nil, makeErr(ErrNotRenewable)
	}

	book, err := s.books.Detail(ctx, b.BookID)
	if err != nil {
		return nil, fmt.Errorf("load book: %w", err)
	}
	amount, err := s.fees.RentalFee(book.DailyFee, dateOnly(b.CreatedAt), b.ExpectedReturnDate)
	if err != nil {
		return nil, fmt.Errorf("recompute rental fee: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	sess, err := s.x.CreateSession(cctx, checkoutrepo.CreateSessionReq{
		Description: fmt.Sprintf("Library RENT for book '%s'", book.Title),
		Amount:      amount,
		Currency:    s.currency,
		BorrowingID: b.ID,
		PaymentType: string(model.PaymentRent),
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	p := &model.Payment{
		BorrowingID: b.ID,
		Type:        model.PaymentRent,
		Status:      model.PaymentPending,
		SessionID:   sess.ID,
		SessionURL:  sess.URL,
		Amount:      amount,
	}
	if err := s.payments.InsertRentIfNone(ctx, p); err != nil {
		switch {
		case errors.Is(err, paymentrepo.ErrActivePaymentExists):
			return nil, makeErr(ErrActivePayment)
		case errors.Is(err, paymentrepo.ErrDuplicateSession):
			return nil, makeErr(ErrDuplicateSession)
		default:
			return nil, fmt.Errorf("persist payment: %w", err)
		}
	}
	return p, nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
