// Package fee computes rental fees and overdue fines. Pure date
// arithmetic at UTC day granularity; no storage, no side effects.
package fee

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidPeriod is returned when a rental period does not span at
// least one billable day.
var ErrInvalidPeriod = errors.New("rental period must span at least one day")

type Calculator struct {
	multiplier decimal.Decimal
}

// NewCalculator builds a calculator with the configured overdue
// multiplier (1 means a fine bills at the plain daily fee).
func NewCalculator(multiplier decimal.Decimal) *Calculator {
	return &Calculator{multiplier: multiplier}
}

// RentalFee is dailyFee x days(start..end), billed for at least one day.
func (c *Calculator) RentalFee(dailyFee decimal.Decimal, start, end time.Time) (decimal.Decimal, error) {
	days := daysBetween(start, end)
	if days <= 0 {
		return decimal.Zero, ErrInvalidPeriod
	}
	return dailyFee.Mul(decimal.NewFromInt(int64(days))), nil
}

// OverdueFine is dailyFee x daysLate x multiplier, zero when the book
// came back on time.
func (c *Calculator) OverdueFine(dailyFee decimal.Decimal, expectedReturn, actualReturn time.Time) decimal.Decimal {
	late := daysBetween(expectedReturn, actualReturn)
	if late <= 0 {
		return decimal.Zero
	}
	return dailyFee.Mul(decimal.NewFromInt(int64(late))).Mul(c.multiplier)
}

func daysBetween(a, b time.Time) int {
	return int(dateOnly(b).Sub(dateOnly(a)).Hours() / 24)
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
