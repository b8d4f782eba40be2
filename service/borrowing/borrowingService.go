package borrowing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Danylo-D87/library-service/model"
	bookrepo "github.com/Danylo-D87/library-service/repository/book"
	borrowingrepo "github.com/Danylo-D87/library-service/repository/borrowing"
	checkoutrepo "github.com/Danylo-D87/library-service/repository/checkout"
	"github.com/Danylo-D87/library-service/service/fee"
)

// errors used by controllers

type ErrCode string

const (
	ErrNoStock         ErrCode = "OUT_OF_STOCK"
	ErrBookNotFound    ErrCode = "BOOK_NOT_FOUND"
	ErrInvalidPeriod   ErrCode = "INVALID_PERIOD"
	ErrUnpaidExists    ErrCode = "UNPAID_BORROWINGS"
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrForbidden       ErrCode = "FORBIDDEN"
	ErrAlreadyReturned ErrCode = "ALREADY_RETURNED"
	ErrNotBorrowed     ErrCode = "NOT_BORROWED"
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

// dto

type Created struct {
	Borrowing   *model.Borrowing
	CheckoutURL string
	Amount      decimal.Decimal
}

type Returned struct {
	Borrowing      *model.Borrowing
	FineAmount     *decimal.Decimal
	FinePaymentURL string
}

type ListFilter struct {
	UserID   *int64
	IsActive *bool
}

// Books is the slice of the book repository the state machine reads.
type Books interface {
	Detail(ctx context.Context, id int64) (*model.Book, error)
}

// Payments is the slice of the payment repository the state machine
// writes when it opens checkout sessions.
type Payments interface {
	Insert(ctx context.Context, p *model.Payment) error
}

type Service interface {
	// Create: reserve a copy, open a RENT checkout session, hand the
	// caller the redirect URL. Failure after the reservation
	// compensates it; no half-created borrowing survives.
	Create(ctx context.Context, userID, bookID int64, expectedReturn time.Time) (*Created, error)

	// Return: BORROWED -> RETURNED, release the copy, bill any overdue
	// fine through a second checkout session.
	Return(ctx context.Context, actingUserID int64, isStaff bool, borrowingID int64) (*Returned, error)

	List(ctx context.Context, actingUserID int64, isStaff bool, f ListFilter) ([]model.Borrowing, error)
	Get(ctx context.Context, actingUserID int64, isStaff bool, id int64) (*model.Borrowing, error)
}

// ----- Service implementation -----

// Policy carries the configurable lending rules.
type Policy struct {
	BlockOnUnpaid  bool
	Currency       string
	SessionTimeout time.Duration
}

type service struct {
	r        borrowingrepo.Repo
	books    Books
	payments Payments
	x        checkoutrepo.Repo
	fees     *fee.Calculator
	pol      Policy
	log      *slog.Logger
	now      func() time.Time
}

func New(r borrowingrepo.Repo, books Books, payments Payments, x checkoutrepo.Repo, fees *fee.Calculator, pol Policy, log *slog.Logger) Service {
	if pol.Currency == "" {
		pol.Currency = "usd"
	}
	if pol.SessionTimeout <= 0 {
		pol.SessionTimeout = 10 * time.Second
	}
	return &service{r: r, books: books, payments: payments, x: x, fees: fees, pol: pol, log: log, now: time.Now}
}

func (s *service) Create(ctx context.Context, userID, bookID int64, expectedReturn time.Time) (*Created, error) {
	today := dateOnly(s.now())
	if !dateOnly(expectedReturn).After(today) {
		return nil, makeErr(ErrInvalidPeriod)
	}

	if s.pol.BlockOnUnpaid {
		has, err := s.r.HasUnsettled(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("unsettled check: %w", err)
		}
		if has {
			return nil, makeErr(ErrUnpaidExists)
		}
	}

	b, book, err := s.r.InsertWaiting(ctx, userID, bookID, dateOnly(expectedReturn))
	if err != nil {
		switch {
		case errors.Is(err, bookrepo.ErrOutOfStock):
			return nil, makeErr(ErrNoStock)
		case errors.Is(err, sql.ErrNoRows):
			return nil, makeErr(ErrBookNotFound)
		default:
			return nil, fmt.Errorf("reserve borrowing: %w", err)
		}
	}

	amount, err := s.fees.RentalFee(book.DailyFee, today, b.ExpectedReturnDate)
	if err != nil {
		s.discard(ctx, b.ID, bookID)
		return nil, makeErr(ErrInvalidPeriod)
	}

	sess, err := s.openSession(ctx, b, model.PaymentRent, book.Title, amount)
	if err != nil {
		s.discard(ctx, b.ID, bookID)
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
	if err := s.payments.Insert(ctx, p); err != nil {
		// The session exists at the provider but has no local record;
		// surfaced so the caller can retry or renew rather than
		// dropping the borrowing it still holds.
		return nil, fmt.Errorf("persist payment: %w", err)
	}

	return &Created{Borrowing: b, CheckoutURL: sess.URL, Amount: amount}, nil
}

// discard compensates a creation that cannot complete. Runs detached
// from the request context so a client disconnect cannot strand the
// reservation.
func (s *service) discard(ctx context.Context, borrowingID, bookID int64) {
	if err := s.r.Discard(context.WithoutCancel(ctx), borrowingID, bookID); err != nil {
		s.log.Error("borrowing discard failed", "borrowing_id", borrowingID, "book_id", bookID, "err", err)
	}
}

func (s *service) Return(ctx context.Context, actingUserID int64, isStaff bool, borrowingID int64) (*Returned, error) {
	b, err := s.r.GetByID(ctx, borrowingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, makeErr(ErrNotFound)
		}
		return nil, fmt.Errorf("load borrowing: %w", err)
	}
	if !isStaff && b.UserID != actingUserID {
		return nil, makeErr(ErrForbidden)
	}
	switch b.Status {
	case model.BorrowingReturned:
		return nil, makeErr(ErrAlreadyReturned)
	case model.BorrowingWaitingPayment, model.BorrowingCanceled:
		return nil, makeErr(ErrNotBorrowed)
	}

	today := dateOnly(s.now())
	if err := s.r.MarkReturned(ctx, b.ID, b.BookID, today); err != nil {
		if errors.Is(err, borrowingrepo.ErrStateChanged) {
			// Lost the race against another return of the same book.
			return nil, makeErr(ErrAlreadyReturned)
		}
		return nil, fmt.Errorf("mark returned: %w", err)
	}
	b.Status = model.BorrowingReturned
	b.ActualReturnDate = &today

	book, err := s.books.Detail(ctx, b.BookID)
	if err != nil {
		return nil, fmt.Errorf("load book: %w", err)
	}

	fine := s.fees.OverdueFine(book.DailyFee, b.ExpectedReturnDate, today)
	out := &Returned{Borrowing: b}
	if !fine.IsPositive() {
		return out, nil
	}

	sess, err := s.openSession(ctx, b, model.PaymentFine, book.Title, fine)
	if err != nil {
		// The return itself is committed and the copy is back on the
		// shelf; only the fine billing failed.
		return nil, fmt.Errorf("create fine session: %w", err)
	}
	p := &model.Payment{
		BorrowingID: b.ID,
		Type:        model.PaymentFine,
		Status:      model.PaymentPending,
		SessionID:   sess.ID,
		SessionURL:  sess.URL,
		Amount:      fine,
	}
	if err := s.payments.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("persist fine payment: %w", err)
	}

	out.FineAmount = &fine
	out.FinePaymentURL = sess.URL
	return out, nil
}

func (s *service) openSession(ctx context.Context, b *model.Borrowing, typ model.PaymentType, bookTitle string, amount decimal.Decimal) (*checkoutrepo.Session, error) {
	cctx, cancel := context.WithTimeout(ctx, s.pol.SessionTimeout)
	defer cancel()
	return s.x.CreateSession(cctx, checkoutrepo.CreateSessionReq{
		Description: fmt.Sprintf("Library %s for book '%s'", typ, bookTitle),
		Amount:      amount,
		Currency:    s.pol.Currency,
		BorrowingID: b.ID,
		PaymentType: string(typ),
	})
}

func (s *service) List(ctx context.Context, actingUserID int64, isStaff bool, f ListFilter) ([]model.Borrowing, error) {
	rf := borrowingrepo.ListFilter{IsActive: f.IsActive}
	if isStaff {
		rf.UserID = f.UserID
	} else {
		if f.UserID != nil && *f.UserID != actingUserID {
			return nil, makeErr(ErrForbidden)
		}
		uid := actingUserID
		rf.UserID = &uid
	}
	return s.r.List(ctx, rf)
}

func (s *service) Get(ctx context.Context, actingUserID int64, isStaff bool, id int64) (*model.Borrowing, error) {
	b, err := s.r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, makeErr(ErrNotFound)
		}
		return nil, err
	}
	if !isStaff && b.UserID != actingUserID {
		return nil, makeErr(ErrForbidden)
	}
	return b, nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
