// Package commission computes referral commission from direct-referral performance.
//
// Commission is marginal: each bracket pays its rate only on the portion of
// performance that falls inside it. The display rate reported alongside is
// the rate of the bracket the total currently sits in and is not used for payout.
package commission

import (
	"errors"
	"fmt"

	"github.com/mint-scanner/internal/models"
	"github.com/shopspring/decimal"
)

// Bracket pays Rate on performance between the previous bracket's UpTo and
// this bracket's UpTo. The last bracket is unbounded and has a zero UpTo.
type Bracket struct {
	UpTo decimal.Decimal
	Rate decimal.Decimal
}

// Schedule is an ordered list of brackets.
type Schedule struct {
	brackets []Bracket
}

// DefaultSchedule pays 10% up to 2000, 15% up to 10000 and 20% above.
func DefaultSchedule() *Schedule {
	s, err := NewSchedule([]Bracket{
		{UpTo: decimal.NewFromInt(2000), Rate: decimal.NewFromFloat(0.10)},
		{UpTo: decimal.NewFromInt(10000), Rate: decimal.NewFromFloat(0.15)},
		{Rate: decimal.NewFromFloat(0.20)},
	})
	if err != nil {
		panic(err)
	}
	return s
}

// NewSchedule validates brackets: strictly increasing bounds, non-negative
// rates, and an unbounded final bracket.
func NewSchedule(brackets []Bracket) (*Schedule, error) {
	if len(brackets) == 0 {
		return nil, errors.New("commission schedule needs at least one bracket")
	}
	prev := decimal.Zero
	for i, b := range brackets {
		if b.Rate.IsNegative() {
			return nil, fmt.Errorf("bracket %d: negative rate %s", i, b.Rate)
		}
		last := i == len(brackets)-1
		if last {
			if !b.UpTo.IsZero() {
				return nil, fmt.Errorf("bracket %d: final bracket must be unbounded", i)
			}
			break
		}
		if !b.UpTo.GreaterThan(prev) {
			return nil, fmt.Errorf("bracket %d: bound %s must exceed %s", i, b.UpTo, prev)
		}
		prev = b.UpTo
	}
	out := make([]Bracket, len(brackets))
	copy(out, brackets)
	return &Schedule{brackets: out}, nil
}

// Commission returns the marginal-bracket commission for performance p.
func (s *Schedule) Commission(p decimal.Decimal) decimal.Decimal {
	if !p.IsPositive() {
		return decimal.Zero
	}
	total := decimal.Zero
	lower := decimal.Zero
	for i, b := range s.brackets {
		upper := p
		if i < len(s.brackets)-1 {
			upper = decimal.Min(p, b.UpTo)
		}
		if upper.GreaterThan(lower) {
			total = total.Add(upper.Sub(lower).Mul(b.Rate))
		}
		if i < len(s.brackets)-1 {
			if p.LessThanOrEqual(b.UpTo) {
				break
			}
			lower = b.UpTo
		}
	}
	return total
}

// CurrentMarginalRate is the display rate: the rate of the bracket whose lower
// bound is at or below p. At exactly 2000 it reports 15% although the payout
// at that point is still entirely at 10%.
func (s *Schedule) CurrentMarginalRate(p decimal.Decimal) decimal.Decimal {
	rate := s.brackets[0].Rate
	for i := 1; i < len(s.brackets); i++ {
		if p.GreaterThanOrEqual(s.brackets[i-1].UpTo) {
			rate = s.brackets[i].Rate
		}
	}
	return rate
}

// Compute builds a snapshot for performance and the amount already claimed.
// Available never goes below zero.
func (s *Schedule) Compute(performance, claimed decimal.Decimal) models.CommissionSnapshot {
	commission := s.Commission(performance)
	available := commission.Sub(claimed)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return models.CommissionSnapshot{
		TotalPerformance:    performance,
		CurrentMarginalRate: s.CurrentMarginalRate(performance),
		TotalCommission:     commission,
		Claimed:             claimed,
		Available:           available,
	}
}
