// repository/payment/repo.go
package paymentrepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Danylo-D87/library-service/model"
	bookrepo "github.com/Danylo-D87/library-service/repository/book"
)

var (
	// ErrDuplicateSession is returned when an insert collides on the
	// unique session_id column.
	ErrDuplicateSession = errors.New("payment session already recorded")

	// ErrActivePaymentExists is returned by InsertRentIfNone when the
	// borrowing already has a PENDING or PAID rent payment.
	ErrActivePaymentExists = errors.New("active rent payment already exists")
)

type Repo interface {
	Insert(ctx context.Context, p *model.Payment) error

	// InsertRentIfNone inserts a RENT payment only while the borrowing
	// has no PENDING or PAID rent payment; used by session renewal.
	InsertRentIfNone(ctx context.Context, p *model.Payment) error

	FindBySession(ctx context.Context, sessionID string) (*model.Payment, error)
	GetByID(ctx context.Context, id int64) (*model.Payment, error)
	ListByBorrowing(ctx context.Context, borrowingID int64) ([]model.Payment, error)
	ListForUser(ctx context.Context, userID int64) ([]model.Payment, error)
	ListAll(ctx context.Context) ([]model.Payment, error)

	// MarkPaidAndActivate settles a rent payment and activates its
	// borrowing in one transaction. Both updates are status-guarded:
	// a payment that is no longer PENDING makes the whole call a
	// no-op and the method reports applied=false.
	MarkPaidAndActivate(ctx context.Context, paymentID, borrowingID int64, borrowDate time.Time) (applied bool, err error)

	// MarkPaid settles a payment without touching its borrowing (fine
	// settlement). applied=false when the payment was not PENDING.
	MarkPaid(ctx context.Context, paymentID int64) (applied bool, err error)

	// CancelAndRelease cancels a PENDING payment; for rent payments it
	// also cancels the borrowing and releases the reserved copy. The
	// release only happens when the borrowing row actually
	// transitioned, so a duplicated expiry event can never release
	// inventory twice. applied=false when the payment was already
	// terminal (in particular PAID, which is sticky).
	CancelAndRelease(ctx context.Context, paymentID, borrowingID, bookID int64, releaseInventory bool) (applied bool, err error)
}

type repo struct {
	db     *sql.DB
	ledger bookrepo.Ledger
}

func New(db *sql.DB, ledger bookrepo.Ledger) Repo { return &repo{db: db, ledger: ledger} }

const paymentCols = `id, borrowing_id, type, status, session_id, session_url, amount, created_at`

func (r *repo) Insert(ctx context.Context, p *model.Payment) error {
	const q = `
		INSERT INTO payments (borrowing_id, type, status, session_id, session_url, amount)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, q,
		p.BorrowingID, p.Type, p.Status, p.SessionID, p.SessionURL, p.Amount,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

func (r *repo) InsertRentIfNone(ctx context.Context, p *model.Payment) error {
	const q = `
		INSERT INTO payments (borrowing_id, type, status, session_id, session_url, amount)
		SELECT $1,'RENT','PENDING',$2,$3,$4
		WHERE NOT EXISTS (
			SELECT 1 FROM payments
			WHERE borrowing_id = $1
			AND type = 'RENT'
			AND status IN ('PENDING','PAID')
		)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, q,
		p.BorrowingID, p.SessionID, p.SessionURL, p.Amount,
	).Scan(&p.ID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrActivePaymentExists
	}
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrDuplicateSession
	}
	return err
}

func (r *repo) FindBySession(ctx context.Context, sessionID string) (*model.Payment, error) {
	const q = `
		SELECT ` + paymentCols + `
		FROM payments
		WHERE session_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, sessionID))
}

func (r *repo) GetByID(ctx context.Context, id int64) (*model.Payment, error) {
	const q = `
		SELECT ` + paymentCols + `
		FROM payments
		WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

func (r *repo) scanOne(row *sql.Row) (*model.Payment, error) {
	p := &model.Payment{}
	err := row.Scan(&p.ID, &p.BorrowingID, &p.Type, &p.Status, &p.SessionID, &p.SessionURL, &p.Amount, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repo) ListByBorrowing(ctx context.Context, borrowingID int64) ([]model.Payment, error) {
	const q = `
		SELECT ` + paymentCols + `
		FROM payments
		WHERE borrowing_id = $1
		ORDER BY id`
	return r.list(ctx, q, borrowingID)
}

func (r *repo) ListForUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	const q = `
		SELECT p.id, p.borrowing_id, p.type, p.status, p.session_id, p.session_url, p.amount, p.created_at
		FROM payments p
		JOIN borrowings b ON b.id = p.borrowing_id
		WHERE b.user_id = $1
		ORDER BY p.id`
	return r.list(ctx, q, userID)
}

func (r *repo) ListAll(ctx context.Context) ([]model.Payment, error) {
	const q = `
		SELECT ` + paymentCols + `
		FROM payments
		ORDER BY id`
	return r.list(ctx, q)
}

func (r *repo) list(ctx context.Context, q string, args ...any) ([]model.Payment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Payment
	for rows.Next() {
		var p model.Payment
		if err := rows.Scan(&p.ID, &p.BorrowingID, &p.Type, &p.Status, &p.SessionID, &p.SessionURL, &p.Amount, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repo) MarkPaidAndActivate(ctx context.Context, paymentID, borrowingID int64, borrowDate time.Time) (applied bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const settle = `
		UPDATE payments
		SET status = 'PAID'
		WHERE id = $1
		AND status = 'PENDING'`
	res, err := tx.ExecContext(ctx, settle, paymentID)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		// Already PAID or CANCELED; a second delivery changes nothing.
		return false, tx.Commit()
	}

	const activate = `
		UPDATE borrowings
		SET status = 'BORROWED',
			borrow_date = $2
		WHERE id = $1
		AND status = 'WAITING_PAYMENT'`
	if _, err = tx.ExecContext(ctx, activate, borrowingID, borrowDate); err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) MarkPaid(ctx context.Context, paymentID int64) (bool, error) {
	const q = `
		UPDATE payments
		SET status = 'PAID'
		WHERE id = $1
		AND status = 'PENDING'`
	res, err := r.db.ExecContext(ctx, q, paymentID)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

func (r *repo) CancelAndRelease(ctx context.Context, paymentID, borrowingID, bookID int64, releaseInventory bool) (applied bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const cancel = `
		UPDATE payments
		SET status = 'CANCELED'
		WHERE id = $1
		AND status = 'PENDING'`
	res, err := tx.ExecContext(ctx, cancel, paymentID)
	if err != nil {
		return false, err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		// PAID is sticky: a late expiry never undoes a settled payment.
		return false, tx.Commit()
	}

	if releaseInventory {
		const cancelBorrowing = `
			UPDATE borrowings
			SET status = 'CANCELED'
			WHERE id = $1
			AND status = 'WAITING_PAYMENT'`
		res, err = tx.ExecContext(ctx, cancelBorrowing, borrowingID)
		if err != nil {
			return false, err
		}
		if aff, _ = res.RowsAffected(); aff > 0 {
			if err = r.ledger.Release(ctx, tx, bookID); err != nil {
				return false, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
