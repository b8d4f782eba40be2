// repository/borrowing/repo.go
package borrowingrepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	bookrepo "github.com/Danylo-D87/library-service/repository/book"

	"github.com/Danylo-D87/library-service/model"
)

// ErrStateChanged is returned when a guarded transition found the row
// in a different state than the caller observed (lost a race).
var ErrStateChanged = errors.New("borrowing state changed concurrently")

type ListFilter struct {
	UserID   *int64
	IsActive *bool
}

type Repo interface {
	// InsertWaiting atomically locks the book, reserves one copy and
	// creates the borrowing in WAITING_PAYMENT. Returns the borrowing
	// and the locked book (title + daily fee) for fee computation.
	// bookrepo.ErrOutOfStock when no copies remain; sql.ErrNoRows when
	// the book does not exist.
	InsertWaiting(ctx context.Context, userID, bookID int64, expectedReturn time.Time) (*model.Borrowing, model.Book, error)

	// Discard compensates a failed creation: deletes the borrowing
	// (only while still WAITING_PAYMENT) and puts the copy back.
	Discard(ctx context.Context, borrowingID, bookID int64) error

	GetByID(ctx context.Context, id int64) (*model.Borrowing, error)
	List(ctx context.Context, f ListFilter) ([]model.Borrowing, error)

	// MarkReturned flips BORROWED -> RETURNED and releases the copy in
	// one transaction. ErrStateChanged if the borrowing is no longer
	// BORROWED by the time the update runs.
	MarkReturned(ctx context.Context, borrowingID, bookID int64, returnedAt time.Time) error

	// HasUnsettled reports whether the user owns any non-canceled
	// borrowing without a single PAID payment.
	HasUnsettled(ctx context.Context, userID int64) (bool, error)

	// CancelStale cancels WAITING_PAYMENT borrowings created before
	// cutoff, releasing their copies and canceling pending payments.
	// Safety net for webhooks that never arrive.
	CancelStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type repo struct {
	db     *sql.DB
	ledger bookrepo.Ledger
}

func New(db *sql.DB, ledger bookrepo.Ledger) Repo { return &repo{db: db, ledger: ledger} }

func (r *repo) InsertWaiting(ctx context.Context, userID, bookID int64, expectedReturn time.Time) (b *model.Borrowing, book model.Book, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, book, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const lock = `
		SELECT id, title, daily_fee
		FROM books
		WHERE id = $1
		FOR UPDATE`
	if err = tx.QueryRowContext(ctx, lock, bookID).Scan(&book.ID, &book.Title, &book.DailyFee); err != nil {
		return nil, book, err
	}

	if err = r.ledger.Reserve(ctx, tx, bookID); err != nil {
		return nil, book, err
	}

	const ins = `
		INSERT INTO borrowings (user_id, book_id, status, expected_return_date)
		VALUES ($1,$2,'WAITING_PAYMENT',$3)
		RETURNING id, created_at`
	b = &model.Borrowing{
		UserID:             userID,
		BookID:             bookID,
		Status:             model.BorrowingWaitingPayment,
		ExpectedReturnDate: expectedReturn,
	}
	if err = tx.QueryRowContext(ctx, ins, userID, bookID, expectedReturn).Scan(&b.ID, &b.CreatedAt); err != nil {
		return nil, book, err
	}

	if err = tx.Commit(); err != nil {
		return nil, book, err
	}
	return b, book, nil
}

func (r *repo) Discard(ctx context.Context, borrowingID, bookID int64) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const del = `
		DELETE FROM borrowings
		WHERE id = $1
		AND status = 'WAITING_PAYMENT'`
	res, err := tx.ExecContext(ctx, del, borrowingID)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		// Already advanced or gone; nothing to compensate.
		return tx.Commit()
	}
	if err = r.ledger.Release(ctx, tx, bookID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *repo) GetByID(ctx context.Context, id int64) (*model.Borrowing, error) {
	const q = `
		SELECT id, user_id, book_id, status, borrow_date,
		       expected_return_date, actual_return_date, created_at
		FROM borrowings
		WHERE id = $1`
	b := &model.Borrowing{}
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.UserID, &b.BookID, &b.Status, &b.BorrowDate,
		&b.ExpectedReturnDate, &b.ActualReturnDate, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *repo) List(ctx context.Context, f ListFilter) ([]model.Borrowing, error) {
	q := `
		SELECT id, user_id, book_id, status, borrow_date,
		       expected_return_date, actual_return_date, created_at
		FROM borrowings
		WHERE 1=1`
	args := []any{}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		q += ` AND user_id = $1`
	}
	if f.IsActive != nil {
		if *f.IsActive {
			q += ` AND actual_return_date IS NULL`
		} else {
			q += ` AND actual_return_date IS NOT NULL`
		}
	}
	q += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Borrowing
	for rows.Next() {
		var b model.Borrowing
		if err := rows.Scan(
			&b.ID, &b.UserID, &b.BookID, &b.Status, &b.BorrowDate,
			&b.ExpectedReturnDate, &b.ActualReturnDate, &b.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repo) MarkReturned(ctx context.Context, borrowingID, bookID int64, returnedAt time.Time) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const upd = `
		UPDATE borrowings
		SET status = 'RETURNED',
			actual_return_date = $2
		WHERE id = $1
		AND status = 'BORROWED'`
	res, err := tx.ExecContext(ctx, upd, borrowingID, returnedAt)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		err = ErrStateChanged
		return err
	}
	if err = r.ledger.Release(ctx, tx, bookID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *repo) HasUnsettled(ctx context.Context, userID int64) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1
			FROM borrowings b
			WHERE b.user_id = $1
			AND b.status <> 'CANCELED'
			AND NOT EXISTS (
				SELECT 1 FROM payments p
				WHERE p.borrowing_id = b.id
				AND p.status = 'PAID'
			)
		)`
	var has bool
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&has)
	return has, err
}

func (r *repo) CancelStale(ctx context.Context, cutoff time.Time) (n int64, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const cancel = `
		UPDATE borrowings
		SET status = 'CANCELED'
		WHERE status = 'WAITING_PAYMENT'
		AND created_at < $1
		RETURNING id, book_id`
	rows, err := tx.QueryContext(ctx, cancel, cutoff)
	if err != nil {
		return 0, err
	}
	type stale struct{ id, bookID int64 }
	var canceled []stale
	for rows.Next() {
		var s stale
		if err = rows.Scan(&s.id, &s.bookID); err != nil {
			rows.Close()
			return 0, err
		}
		canceled = append(canceled, s)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, err
	}

	const cancelPayments = `
		UPDATE payments
		SET status = 'CANCELED'
		WHERE borrowing_id = $1
		AND status = 'PENDING'`
	for _, s := range canceled {
		if err = r.ledger.Release(ctx, tx, s.bookID); err != nil {
			return 0, err
		}
		if _, err = tx.ExecContext(ctx, cancelPayments, s.id); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return int64(len(canceled)), nil
}
