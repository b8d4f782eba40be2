// model/payment.go
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentCanceled PaymentStatus = "CANCELED"
)

type PaymentType string

const (
	PaymentRent PaymentType = "RENT"
	PaymentFine PaymentType = "FINE"
)

type Payment struct {
	ID          int64           `json:"id"`
	BorrowingID int64           `json:"borrowing_id"`
	Type        PaymentType     `json:"type"`
	Status      PaymentStatus   `json:"status"`
	SessionID   string          `json:"session_id"`
	SessionURL  string          `json:"session_url"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
}
