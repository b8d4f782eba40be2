package paymentsvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Danylo-D87/library-service/model"
	checkoutrepo "github.com/Danylo-D87/library-service/repository/checkout"
	paymentrepo "github.com/Danylo-D87/library-service/repository/payment"
	"github.com/Danylo-D87/library-service/notify"
	"github.com/Danylo-D87/library-service/service/fee"
)

// --- mocks ---

type paymentsMock struct {
	insertFn            func(ctx context.Context, p *model.Payment) error
	insertRentIfNoneFn  func(ctx context.Context, p *model.Payment) error
	findBySessionFn     func(ctx context.Context, sessionID string) (*model.Payment, error)
	getByIDFn           func(ctx context.Context, id int64) (*model.Payment, error)
	markPaidActivateFn  func(ctx context.Context, paymentID, borrowingID int64, borrowDate time.Time) (bool, error)
	markPaidFn          func(ctx context.Context, paymentID int64) (bool, error)
	cancelAndReleaseFn  func(ctx context.Context, paymentID, borrowingID, bookID int64, releaseInventory bool) (bool, error)
	listForUserFn       func(ctx context.Context, userID int64) ([]model.Payment, error)
	listAllFn           func(ctx context.Context) ([]model.Payment, error)
	listByBorrowingFn   func(ctx context.Context, borrowingID int64) ([]model.Payment, error)
}

var _ paymentrepo.Repo = (*paymentsMock)(nil)

func (m *paymentsMock) Insert(ctx context.Context, p *model.Payment) error {
	return m.insertFn(ctx, p)
}

func (m *paymentsMock) InsertRentIfNone(ctx context.Context, p *model.Payment) error {
	return m.insertRentIfNoneFn(ctx, p)
}

func (m *paymentsMock) FindBySession(ctx context.Context, sessionID string) (*model.Payment, error) {
	return m.findBySessionFn(ctx, sessionID)
}

func (m *paymentsMock) GetByID(ctx context.Context, id int64) (*model.Payment, error) {
	return m.getByIDFn(ctx, id)
}

func (m *paymentsMock) ListByBorrowing(ctx context.Context, borrowingID int64) ([]model.Payment, error) {
	return m.listByBorrowingFn(ctx, borrowingID)
}

func (m *paymentsMock) ListForUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	return m.listForUserFn(ctx, userID)
}

func (m *paymentsMock) ListAll(ctx context.Context) ([]model.Payment, error) {
	return m.listAllFn(ctx)
}

func (m *paymentsMock) MarkPaidAndActivate(ctx context.Context, paymentID, borrowingID int64, borrowDate time.Time) (bool, error) {
	return m.markPaidActivateFn(ctx, paymentID, borrowingID, borrowDate)
}

func (m *paymentsMock) MarkPaid(ctx context.Context, paymentID int64) (bool, error) {
	return m.markPaidFn(ctx, paymentID)
}

func (m *paymentsMock) CancelAndRelease(ctx context.Context, paymentID, borrowingID, bookID int64, releaseInventory bool) (bool, error) {
	return m.cancelAndReleaseFn(ctx, paymentID, borrowingID, bookID, releaseInventory)
}

type borrowingsMock struct {
	getByIDFn func(ctx context.Context, id int64) (*model.Borrowing, error)
}

func (m *borrowingsMock) GetByID(ctx context.Context, id int64) (*model.Borrowing, error) {
	return m.getByIDFn(ctx, id)
}

type booksMock struct {
	detailFn func(ctx context.Context, id int64) (*model.Book, error)
}

func (m *booksMock) Detail(ctx context.Context, id int64) (*model.Book, error) {
	if m.detailFn == nil {
		return &model.Book{ID: id, Title: "Kobzar", DailyFee: d("1.50")}, nil
	}
	return m.detailFn(ctx, id)
}

type usersMock struct{}

func (usersMock) ByID(ctx context.Context, id int64) (*model.User, error) {
	return &model.User{ID: id, Email: "reader@example.com"}, nil
}

type checkoutMock struct {
	verifyErr error
	createFn  func(ctx context.Context, req checkoutrepo.CreateSessionReq) (*checkoutrepo.Session, error)
}

func (m *checkoutMock) CreateSession(ctx context.Context, req checkoutrepo.CreateSessionReq) (*checkoutrepo.Session, error) {
	return m.createFn(ctx, req)
}

func (m *checkoutMock) VerifyCallbackSignature(string, []byte) error { return m.verifyErr }

type notifierMock struct {
	ch chan notify.PaymentNote
}

func (m *notifierMock) PaymentSucceeded(ctx context.Context, n notify.PaymentNote) error {
	m.ch <- n
	return nil
}

// --- helpers ---

var today = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func newTestService(pm *paymentsMock, bm *borrowingsMock, books *booksMock, x *checkoutMock, n notify.Notifier) *service {
	if books == nil {
		books = &booksMock{}
	}
	if x == nil {
		x = &checkoutMock{}
	}
	return &service{
		payments:   pm,
		borrowings: bm,
		books:      books,
		users:      usersMock{},
		x:          x,
		fees:       fee.NewCalculator(d("1")),
		notifier:   n,
		log:        slog.New(slog.DiscardHandler),
		currency:   "usd",
		now:        func() time.Time { return today },
	}
}

func event(typ, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{"type":%q,"data":{"object":{"id":%q}}}`, typ, sessionID))
}

func pendingRent(sessionID string) *model.Payment {
	return &model.Payment{
		ID: 21, BorrowingID: 11, Type: model.PaymentRent,
		Status: model.PaymentPending, SessionID: sessionID, Amount: d("10.50"),
	}
}

func waiting() *model.Borrowing {
	return &model.Borrowing{
		ID: 11, UserID: 7, BookID: 3,
		Status:             model.BorrowingWaitingPayment,
		ExpectedReturnDate: today.AddDate(0, 0, 7),
		CreatedAt:          today,
	}
}

// --- webhook tests ---

func TestHandleWebhook_BadSignature(t *testing.T) {
	looked := false
	pm := &paymentsMock{
		findBySessionFn: func(ctx context.Context, sessionID string) (*model.Payment, error) {
			looked = true
			return nil, sql.ErrNoRows
		},
	}
	svc := newTestService(pm, nil, nil, &checkoutMock{verifyErr: errors.New("bad mac")}, nil)

	err := svc.HandleWebhook(context.Background(), "t=1,v1=deadbeef", event("checkout.session.completed", "cs_1"))
	require.Equal(t, ErrBadSignature, Code(err))
	require.False(t, looked, "a rejected signature must stop processing")
}

func TestHandleWebhook_BadPayload(t *testing.T) {
	svc := newTestService(&paymentsMock{}, nil, nil, nil, nil)

	err := svc.HandleWebhook(context.Background(), "sig", []byte("{not json"))
	require.Equal(t, ErrBadPayload, Code(err))

	err = svc.HandleWebhook(context.Background(), "sig", []byte(`{"type":"checkout.session.completed","data":{"object":{}}}`))
	require.Equal(t, ErrBadPayload, Code(err))
}

func TestHandleWebhook_UnknownEventAcked(t *testing.T) {
	looked := false
	pm := &paymentsMock{
		findBySessionFn: func(ctx context.Context, sessionID string) (*model.Payment, error) {
			looked = true
			return nil, sql.ErrNoRows
		},
	}
	svc := newTestService(pm, nil, nil, nil, nil)

	err := svc.HandleWebhook(context.Background(), "sig", event("invoice.paid", "cs_1"))
	require.NoError(t, err)
	require.False(t, looked, "unrecognized event types are acknowledged untouched")
}

func TestHandleWebhook_UnknownSession(t *testing.T) {
	pm := &paymentsMock{
		findBySessionFn: func(ctx context.Context, sessionID string) (*model.Payment, error) {
			return nil, sql.ErrNoRows
		},
	}
	svc := newTestService(pm, nil, nil, nil, nil)

	err := svc.HandleWebhook(context.Background(), "sig", event("checkout.session.completed", "cs_ghost"))
	require.Equal(t, ErrUnknownSession, Code(err))
}

func TestHandleWebhook_RentCompleted(t *testing.T) {
	var gotPayment, gotBorrowing int64
	var gotDate time.Time
	pm := &paymentsMock{
		findBySessionFn: func(ctx context.Context, sessionID string) (*model.Payment, error) {
			return pendingRent(sessionID), nil
		},
		markPaidActivateFn: func(ctx context.Context, paymentID, borrowingID int64, borrowDate time.Time) (bool, error) {
			gotPayment, gotBorrowing, gotDate = paymentID, borrowingID, borrowDate
			return true, nil
		},
	}
	bm := &borrowingsMock{
		getByIDFn: func(ctx context.Context, id int64) (*model.Borrowing, error) { return waiting(), nil },
	}
	n := &notifierMock{ch: make(chan notify.PaymentNote, 1)}
	svc := newTestService(pm, bm, nil, nil, n)

	err := svc.HandleWebhook(context.Background(), "sig", event("checkout.session.completed", "cs_1"))
	require.NoError(t, err)
	require.Equal(t, int64(21), gotPayment)
	require.Equal(t, int64(11), gotBorrowing)
	require.Equal(t, today, gotDate)

	select {
	case note := <-n.ch:
		require.Equal(t, model.PaymentRent, note.Type)
		require.Equal(t, int64(11), note.BorrowingID)
		require.Equal(t, "reader@example.com", note.UserEmail)
		require.Equal(t, "Kobzar", note.BookTitle)
	case <-time.After(2 * time.Second):
		t.Fatal("no payment notification sent")
	}
}

func TestHandleWebhook_CompletedReplayIsNoop(t *testing.T) {
	pm := &paymentsMock{
		findBySessionFn: func(ctx context.Context, sessionID string) (*model.Payment, error) {
			p := pendingRent(sessionID)
			p.Status = model.PaymentPaid
			return p, nil
		},
		markPaidActivateFn: func(ctx context.Context, paymentID, borrowingID int64, borrowDate time.Time) (bool, error) {
			return false, nil
		},
	}
	bm := &borrowingsMock{
		getByIDFn: func(ctx context.Context, id int64) (*model.Borrowing, error) { return waiting(), nil },
	}
	n := &notifierMock{ch: make(chan notify.PaymentNote, 1)}
	svc := newTestService(pm, bm, nil, nil, n)

	err := svc.HandleWebhook(context.Background(), "sig", event("checkout.session.completed", "cs_1"))
	require.NoError(t, err)

	select {
	case <-n.ch:
		t.Fatal("replayed event must not notify again")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleWebhook_FineCompleted(t *testing.T) {
	activated := false
	settled := false
	pm := &paymentsMock{
		findBySessionFn: func(ctx context.Context, sessionID string) (*model.Payment, error) {
			p := pendingRent(sessionID)
			p.Type = model.PaymentFine
			return p, nil
		},
		markPaidActivateFn: func(ctx context.Context, paymentID, borrowingID int64, borrowDate time.Time) (bool, error) {
			activated = true
			return true, nil
		},
		markPaidFn: func(ctx context.Context, paymentID int64) (bool, error) {
			settled = true
			return true, nil
		},
	}
	bm := &borrowingsMock{
		getByIDFn: func(ctx context.Context, id int64) (*model.Borrowing, error) {
			b := waiting()
			b.Status = model.BorrowingReturned
			return b, nil
		},
	}
	n := &notifierMock{ch: make(chan notify.PaymentNote, 1)}
	svc := newTestService(pm, bm, nil, nil, n)

	err := svc.HandleWebhook(context.Background(), "sig", event("checkout.session.completed", "cs_fine"))
	require.NoError(t, err)
	require.True(t, settled)
	require.False(t, activated, "a fine settlement must not touch the borrowing")

	select {
	case note := <-n.ch:
		require.Equal(t, model.PaymentFine, note.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no payment notification sent")
	}
}

func TestHandleWebhook_SessionExpired(t *testing.T) {
	var gotRelease bool
	var gotBook int64
	pm := &paymentsMock{
		findBySessionFn: func(ctx context.Context, sessionID string) (*model.Payment, error) {
			return pendingRent(sessionID), nil
		},
		cancelAndReleaseFn: func(ctx context.Context, paymentID, borrowingID, bookID int64, releaseInventory bool) (bool, error) {
			gotRelease = releaseInventory
			gotBook = bookID
			return true, nil
		},
	}
	bm := &borrowingsMock{
		getByIDFn: func(ctx context.Context, id int64) (*model.Borrowing, error) { return waiting(), nil },
	}
	svc := newTestService(pm, bm, nil, nil, nil)

	err := svc.HandleWebhook(context.Background(), "sig", event("checkout.session.expired", "cs_1"))
	require.NoError(t, err)
	require.True(t, gotRelease, "an expired rent session must put the copy back")
	require.Equal(t, int64(3), gotBook)
}

func TestHandleWebhook_FineExpiredKeepsInventory(t *testing.T) {
	var gotRelease bool
	pm := &paymentsMock{
		findBySessionFn: func(ctx context.Context, sessionID string) (*model.Payment, error) {
			p := pendingRent(sessionID)
			p.Type = model.PaymentFine
			return p, nil
		},
		cancelAndReleaseFn: func(ctx context.Context, paymentID, borrowingID, bookID int64, releaseInventory bool) (bool, error) {
			gotRelease = releaseInventory
			return true, nil
		},
	}
	bm := &borrowingsMock{
		getByIDFn: func(ctx context.Context, id int64) (*model.Borrowing, error) {
			b := waiting()
			b.Status = model.BorrowingReturned
			return b, nil
		},
	}
	svc := newTestService(pm, bm, nil, nil, nil)

	err := svc.HandleWebhook(context.Background(), "sig", event("payment_intent.canceled", "cs_fine"))
	require.NoError(t, err)
	require.False(t, gotRelease, "a dead fine session never touches inventory")
}

// --- read API tests ---

func TestGet_OwnershipEnforced(t *testing.T) {
	pm := &paymentsMock{
		getByIDFn: func(ctx context.Context, id int64) (*model.Payment, error) {
			return pendingRent("cs_1"), nil
		},
	}
	bm := &borrowingsMock{
		getByIDFn: func(ctx context.Context, id int64) (*model.Borrowing, error) { return waiting(), nil },
	}
	svc := newTestService(pm, bm, nil, nil, nil)

	_, err := svc.Get(context.Background(), 99, false, 21)
	require.Equal(t, ErrForbidden, Code(err))

	p, err := svc.Get(context.Background(), 7, false, 21)
	require.NoError(t, err)
	require.Equal(t, int64(21), p.ID)

	// staff read anything
	p, err = svc.Get(context.Background(), 99, true, 21)
	require.NoError(t, err)
	require.Equal(t, int64(21), p.ID)
}

func TestList_ScopedByRole(t *testing.T) {
	var listedUser int64
	allListed := false
	pm := &paymentsMock{
		listForUserFn: func(ctx context.Context, userID int64) ([]model.Payment, error) {
			listedUser = userID
			return nil, nil
		},
		listAllFn: func(ctx context.Context) ([]model.Payment, error) {
			allListed = true
			return nil, nil
		},
	}
	svc := newTestService(pm, nil, nil, nil, nil)

	_, err := svc.List(context.Background(), 7, false)
	require.NoError(t, err)
	require.Equal(t, int64(7), listedUser)
	require.False(t, allListed)

	_, err = svc.List(context.Background(), 7, true)
	require.NoError(t, err)
	require.True(t, allListed)
}

// --- renewal tests ---

func TestRenewSession(t *testing.T) {
	var inserted *model.Payment
	pm := &paymentsMock{
		insertRentIfNoneFn: func(ctx context.Context, p *model.Payment) error {
			inserted = p
			return nil
		},
	}
	bm := &borrowingsMock{
		getByIDFn: func(ctx context.Context, id int64) (*model.Borrowing, error) { return waiting(), nil },
	}
	x := &checkoutMock{
		createFn: func(ctx context.Context, req checkoutrepo.CreateSessionReq) (*checkoutrepo.Session, error) {
			require.Equal(t, "RENT", req.PaymentType)
			require.True(t, req.Amount.Equal(d("10.50")), "got %s", req.Amount)
			return &checkoutrepo.Session{ID: "cs_new", URL: "https://pay.example/cs_new"}, nil
		},
	}
	svc := newTestService(pm, bm, nil, x, nil)

	p, err := svc.RenewSession(context.Background(), 7, false, 11)
	require.NoError(t, err)
	require.Equal(t, "cs_new", p.SessionID)
	require.Equal(t, model.PaymentPending, p.Status)
	require.NotNil(t, inserted)
	require.Equal(t, "cs_new", inserted.SessionID)
}

func TestRenewSession_NotRenewable(t *testing.T) {
	bm := &borrowingsMock{
		getByIDFn: func(ctx context.Context, id int64) (*model.Borrowing, error) {
			b := waiting()
			b.Status = model.BorrowingBorrowed
			return b, nil
		},
	}
	svc := newTestService(&paymentsMock{}, bm, nil, nil, nil)

	_, err := svc.RenewSession(context.Background(), 7, false, 11)
	require.Equal(t, ErrNotRenewable, Code(err))
}

func TestRenewSession_ActivePaymentExists(t *testing.T) {
	pm := &paymentsMock{
		insertRentIfNoneFn: func(ctx context.Context, p *model.Payment) error {
			return paymentrepo.ErrActivePaymentExists
		},
	}
	bm := &borrowingsMock{
		getByIDFn: func(ctx context.Context, id int64) (*model.Borrowing, error) { return waiting(), nil },
	}
	x := &checkoutMock{
		createFn: func(ctx context.Context, req checkoutrepo.CreateSessionReq) (*checkoutrepo.Session, error) {
			return &checkoutrepo.Session{ID: "cs_new", URL: "u"}, nil
		},
	}
	svc := newTestService(pm, bm, nil, x, nil)

	_, err := svc.RenewSession(context.Background(), 7, false, 11)
	require.Equal(t, ErrActivePayment, Code(err))
}

func TestRenewSession_Forbidden(t *testing.T) {
	bm := &borrowingsMock{
		getByIDFn: func(ctx context.Context, id int64) (*model.Borrowing, error) { return waiting(), nil },
	}
	svc := newTestService(&paymentsMock{}, bm, nil, nil, nil)

	_, err := svc.RenewSession(context.Background(), 99, false, 11)
	require.Equal(t, ErrForbidden, Code(err))
}
