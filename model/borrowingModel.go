// model/borrowing.go
package model

import "time"

type BorrowingStatus string

const (
	BorrowingWaitingPayment BorrowingStatus = "WAITING_PAYMENT"
	BorrowingBorrowed       BorrowingStatus = "BORROWED"
	BorrowingReturned       BorrowingStatus = "RETURNED"
	BorrowingCanceled       BorrowingStatus = "CANCELED"
)

type Borrowing struct {
	ID                 int64           `json:"id"`
	UserID             int64           `json:"user_id"`
	BookID             int64           `json:"book_id"`
	Status             BorrowingStatus `json:"status"`
	BorrowDate         *time.Time      `json:"borrow_date,omitempty"`
	ExpectedReturnDate time.Time       `json:"expected_return_date"`
	ActualReturnDate   *time.Time      `json:"actual_return_date,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}
