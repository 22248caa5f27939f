package tier

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestClassifyProperties(t *testing.T) {
	table, err := New(Defaults())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	properties := gopter.NewProperties(nil)

	properties.Property("classify is pure", prop.ForAll(
		func(id int64) bool {
			a, okA := table.Classify(id)
			b, okB := table.Classify(id)
			if okA != okB {
				return false
			}
			return !okA || (a.ID == b.ID && a.Price.Equal(b.Price))
		},
		gen.Int64Range(-100, 20000),
	))

	properties.Property("a match always contains the id and agrees with a linear scan", prop.ForAll(
		func(id int64) bool {
			got, ok := table.Classify(id)
			var want int64
			for _, tr := range table.Tiers() {
				if tr.Contains(id) {
					want = tr.ID
				}
			}
			if !ok {
				return want == 0
			}
			return got.Contains(id) && got.ID == want
		},
		gen.Int64Range(-100, 20000),
	))

	properties.TestingRun(t)
}
