package service

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// rateScale is the denominator of the daily interest rate
	rateScale = 100000
	day       = 24 * time.Hour
)

// mulDiv returns floor(a*b/c) without intermediate overflow. c must be positive
// and the result must fit in int64.
func mulDiv(a, b, c int64) int64 {
	q, _ := decimal.NewFromInt(a).Mul(decimal.NewFromInt(b)).QuoRem(decimal.NewFromInt(c), 0)
	return q.IntPart()
}

// interestFor is amountDue * days * dailyRate / rateScale, rounded down
func interestFor(amountDue, days, dailyRate int64) int64 {
	q, _ := decimal.NewFromInt(amountDue).
		Mul(decimal.NewFromInt(days)).
		Mul(decimal.NewFromInt(dailyRate)).
		QuoRem(decimal.NewFromInt(rateScale), 0)
	return q.IntPart()
}

// wholeDays counts the complete days between from and to
func wholeDays(from, to time.Time) int64 {
	if !to.After(from) {
		return 0
	}
	return int64(to.Sub(from) / day)
}
