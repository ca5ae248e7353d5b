package conflict

import (
	"testing"

	"github.com/shaiso/Orchestra/internal/domain"
)

// --- Impact Tests ---

func TestEstimateImpact_Monotonic(t *testing.T) {
	for _, typ := range domain.AllConflictTypes {
		prev := 0
		for blocked := 0; blocked <= 30; blocked++ {
			imp := EstimateImpact(typ, blocked, 2)
			if imp.SeverityScore < 1 || imp.SeverityScore > 100 {
				t.Fatalf("%s: score %d out of range", typ, imp.SeverityScore)
			}
			if imp.SeverityScore < prev {
				t.Fatalf("%s: score decreased at %d blocked (%d < %d)", typ, blocked, imp.SeverityScore, prev)
			}
			if imp.CascadeRisk < 0 || imp.CascadeRisk > 1 {
				t.Fatalf("%s: cascade risk %v out of range", typ, imp.CascadeRisk)
			}
			prev = imp.SeverityScore
		}
		if EstimateImpact(typ, 3, 5).SeverityScore < EstimateImpact(typ, 3, 1).SeverityScore {
			t.Errorf("%s: more workers must not lower the score", typ)
		}
	}
}
