package checkoutrepo

import (
	"context"

	"github.com/shopspring/decimal"
)

type CreateSessionReq struct {
	Description string
	Amount      decimal.Decimal
	Currency    string
	BorrowingID int64
	PaymentType string
}

type Session struct {
	ID  string
	URL string
}

// Repo is the boundary to the hosted checkout provider: open a session
// for an amount, and authenticate the events it sends back. The
// metadata in CreateSessionReq is echoed in webhook payloads but all
// local lookup is keyed by session id.
type Repo interface {
	CreateSession(ctx context.Context, req CreateSessionReq) (*Session, error)
	VerifyCallbackSignature(sigHeader string, rawBody []byte) error
}
