// Package tier maps minted token ids to their price tier.
package tier

import (
	"fmt"
	"sort"

	"github.com/mint-scanner/internal/models"
	"github.com/mint-scanner/internal/types"
	"github.com/shopspring/decimal"
)

// Table is an immutable snapshot of the active tiers ordered by range start.
// It is safe for concurrent use.
type Table struct {
	tiers []models.Tier
}

// New builds a Table from tiers. Inactive tiers are dropped; active tiers must
// have start <= end and must not overlap.
func New(tiers []models.Tier) (*Table, error) {
	active := make([]models.Tier, 0, len(tiers))
	for _, t := range tiers {
		if !t.Active {
			continue
		}
		if t.TokenIDStart > t.TokenIDEnd {
			return nil, invalidConfig(fmt.Sprintf("tier %q: start %d > end %d", t.Name, t.TokenIDStart, t.TokenIDEnd))
		}
		if t.Price.IsNegative() {
			return nil, invalidConfig(fmt.Sprintf("tier %q: negative price %s", t.Name, t.Price))
		}
		active = append(active, t)
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].TokenIDStart < active[j].TokenIDStart
	})

	for i := 1; i < len(active); i++ {
		prev, cur := active[i-1], active[i]
		if cur.TokenIDStart <= prev.TokenIDEnd {
			return nil, invalidConfig(fmt.Sprintf("tier %q [%d-%d] overlaps %q [%d-%d]",
				cur.Name, cur.TokenIDStart, cur.TokenIDEnd, prev.Name, prev.TokenIDStart, prev.TokenIDEnd))
		}
	}

	return &Table{tiers: active}, nil
}

func invalidConfig(msg string) error {
	return &types.ServiceError{Code: "INVALID_TIER_CONFIG", Message: msg}
}

// Classify returns the active tier whose range contains tokenID. The second
// result is false when the id falls in a gap between configured ranges.
func (t *Table) Classify(tokenID int64) (*models.Tier, bool) {
	i := sort.Search(len(t.tiers), func(i int) bool {
		return t.tiers[i].TokenIDEnd >= tokenID
	})
	if i < len(t.tiers) && t.tiers[i].Contains(tokenID) {
		tier := t.tiers[i]
		return &tier, true
	}
	return nil, false
}

// Tiers returns a copy of the active tiers in range order.
func (t *Table) Tiers() []models.Tier {
	out := make([]models.Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Len returns the number of active tiers.
func (t *Table) Len() int {
	return len(t.tiers)
}

// Defaults returns the tier set of the original contract deployment.
func Defaults() []models.Tier {
	mk := func(id int64, name string, price int64, start, end int64, color string) models.Tier {
		return models.Tier{
			ID:           id,
			Name:         name,
			Price:        decimal.NewFromInt(price),
			TokenIDStart: start,
			TokenIDEnd:   end,
			Color:        color,
			Active:       true,
		}
	}
	return []models.Tier{
		mk(1, "Micro Node", 10, 1, 5000, "#94A3B8"),
		mk(2, "Mini Node", 25, 5001, 8000, "#60A5FA"),
		mk(3, "Bronze Node", 50, 8001, 10000, "#CD7F32"),
		mk(4, "Silver Node", 100, 10001, 11500, "#C0C0C0"),
		mk(5, "Gold Node", 250, 11501, 12600, "#FFD700"),
		mk(6, "Platinum Node", 500, 12601, 13300, "#E5E4E2"),
		mk(7, "Diamond Node", 1000, 13301, 13900, "#B9F2FF"),
	}
}
