package borrowing

import (
	"context"
	"time"

	borrowingrepo "github.com/Danylo-D87/library-service/repository/borrowing"
)

// Cleaner cancels WAITING_PAYMENT borrowings whose payment hold
// elapsed without any webhook from the provider.
type Cleaner interface {
	ReleaseExpired(ctx context.Context) (int64, error)
}

type cleaner struct {
	r    borrowingrepo.Repo
	hold time.Duration
	now  func() time.Time
}

func NewCleaner(r borrowingrepo.Repo, hold time.Duration) Cleaner {
	return &cleaner{r: r, hold: hold, now: time.Now}
}

func (c *cleaner) ReleaseExpired(ctx context.Context) (int64, error) {
	return c.r.CancelStale(ctx, c.now().UTC().Add(-c.hold))
}
