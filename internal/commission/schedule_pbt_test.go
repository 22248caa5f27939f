package commission

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

func TestCommissionProperties(t *testing.T) {
	s := DefaultSchedule()
	properties := gopter.NewProperties(nil)

	properties.Property("commission is non-decreasing in performance", prop.ForAll(
		func(a, b, claimed int64) bool {
			if a > b {
				a, b = b, a
			}
			lo := s.Compute(decimal.NewFromInt(a), decimal.NewFromInt(claimed))
			hi := s.Compute(decimal.NewFromInt(b), decimal.NewFromInt(claimed))
			return lo.TotalCommission.LessThanOrEqual(hi.TotalCommission) &&
				lo.Available.LessThanOrEqual(hi.Available)
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 50_000),
	))

	properties.Property("commission stays between 10% and 20% of performance", prop.ForAll(
		func(p int64) bool {
			perf := decimal.NewFromInt(p)
			c := s.Commission(perf)
			return c.GreaterThanOrEqual(perf.Mul(decimal.NewFromFloat(0.10))) &&
				c.LessThanOrEqual(perf.Mul(decimal.NewFromFloat(0.20)))
		},
		gen.Int64Range(0, 10_000_000),
	))

	properties.Property("available is never negative", prop.ForAll(
		func(p, claimed int64) bool {
			return !s.Compute(decimal.NewFromInt(p), decimal.NewFromInt(claimed)).Available.IsNegative()
		},
		gen.Int64Range(0, 100_000),
		gen.Int64Range(0, 100_000),
	))

	properties.TestingRun(t)
}
