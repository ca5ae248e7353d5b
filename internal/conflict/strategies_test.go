package conflict

import (
	"math"
	"testing"

	"github.com/shaiso/Orchestra/internal/domain"
)

// --- Strategy Tests ---

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name     string
		conflict *domain.Conflict
		pattern  domain.ConflictPattern
		want     domain.Strategy
	}{
		{
			name:     "auto merge",
			conflict: &domain.Conflict{Type: domain.ConflictMerge, Severity: domain.SeverityMedium, AutoResolvable: true},
			want:     domain.StrategyAutomaticMerge,
		},
		{
			name:     "non-auto merge without history",
			conflict: &domain.Conflict{Type: domain.ConflictMerge, Severity: domain.SeverityMedium},
			want:     domain.StrategyAutomaticMerge,
		},
		{
			name:     "critical security escalates",
			conflict: &domain.Conflict{Type: domain.ConflictSecurityIssue, Severity: domain.SeverityCritical},
			want:     domain.StrategyEscalation,
		},
		{
			name:     "high security quarantines",
			conflict: &domain.Conflict{Type: domain.ConflictSecurityIssue, Severity: domain.SeverityHigh},
			want:     domain.StrategyQuarantine,
		},
		{
			name:     "cycle reorders",
			conflict: &domain.Conflict{Type: domain.ConflictDependencyCycle, Severity: domain.SeverityHigh},
			want:     domain.StrategyReorderDependencies,
		},
		{
			name:     "history wins",
			conflict: &domain.Conflict{Type: domain.ConflictTimelineCollision, Severity: domain.SeverityMedium, AutoResolvable: true},
			pattern: domain.ConflictPattern{
				Successes: map[domain.Strategy]int{domain.StrategyForceParallel: 3, domain.StrategyReprioritize: 1},
			},
			want: domain.StrategyForceParallel,
		},
		{
			name:     "critical without escalation candidate",
			conflict: &domain.Conflict{Type: domain.ConflictDependencyCycle, Severity: domain.SeverityCritical},
			want:     domain.StrategyReorderDependencies,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, alternatives := SelectStrategy(tt.conflict, tt.pattern)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if len(alternatives) != len(Candidates(tt.conflict.Type))-1 {
				t.Errorf("expected %d alternatives, got %v", len(Candidates(tt.conflict.Type))-1, alternatives)
			}
			for _, a := range alternatives {
				if a == got {
					t.Errorf("chosen strategy %s listed as alternative", got)
				}
			}
		})
	}
}

func TestSelectStrategy_AlwaysApplicable(t *testing.T) {
	severities := []domain.Severity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical}
	for _, typ := range domain.AllConflictTypes {
		for _, sev := range severities {
			for _, auto := range []bool{false, true} {
				c := &domain.Conflict{Type: typ, Severity: sev, AutoResolvable: auto}
				s, _ := SelectStrategy(c, domain.ConflictPattern{})
				if !Applicable(typ, s) {
					t.Errorf("%s/%s/auto=%v: %s not applicable", typ, sev, auto, s)
				}
			}
		}
	}
}

func TestConfidence(t *testing.T) {
	const eps = 1e-9

	tests := []struct {
		name     string
		conflict *domain.Conflict
		strategy domain.Strategy
		want     float64
	}{
		{"base", &domain.Conflict{Severity: domain.SeverityHigh}, domain.StrategyEscalation, 0.7},
		{"auto", &domain.Conflict{Severity: domain.SeverityHigh, AutoResolvable: true}, domain.StrategyRebalanceWorkload, 0.9},
		{"low", &domain.Conflict{Severity: domain.SeverityLow}, domain.StrategyRollback, 0.8},
		{"capped", &domain.Conflict{Severity: domain.SeverityLow, AutoResolvable: true}, domain.StrategyAutomaticMerge, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.conflict, tt.strategy)
			if math.Abs(got-tt.want) > eps {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if got < 0 || got > 1 {
				t.Errorf("confidence out of range: %v", got)
			}
		})
	}
}
