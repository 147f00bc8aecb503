package core

import (
	"github.com/shopspring/decimal"
)

// SplitInstallments divides a purchase total into n parts that sum back to
// the total exactly. Every part is total/n rounded to cents; the rounding
// remainder, positive or negative, is folded into the final part.
//
// 100.00 over 3 yields [33.33, 33.33, 33.34].
func SplitInstallments(total decimal.Decimal, n int) ([]decimal.Decimal, error) {
	if n < 2 {
		return nil, &ValidationError{Field: "installments", Reason: "count must be at least 2"}
	}
	if err := validAmount(total); err != nil {
		return nil, err
	}

	per := total.DivRound(decimal.NewFromInt(int64(n)), 2)
	last := total.Sub(per.Mul(decimal.NewFromInt(int64(n - 1))))
	if !per.IsPositive() || !last.IsPositive() {
		return nil, &ValidationError{Field: "installments", Reason: "amount too small to split into " + decimal.NewFromInt(int64(n)).String() + " parts"}
	}

	parts := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		parts[i] = per
	}
	parts[n-1] = last

	// The fold above makes the sum exact by construction; a mismatch here
	// means the arithmetic itself is broken.
	sum := decimal.Zero
	for _, p := range parts {
		sum = sum.Add(p)
	}
	if !sum.Equal(total) {
		return nil, Consistencyf("installment parts sum to %s, expected %s", sum, total)
	}
	return parts, nil
}
