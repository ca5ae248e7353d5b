package repo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Orchestra/internal/domain"
)

// --- Helpers Tests ---

func TestOrderPatterns(t *testing.T) {
	sec := newPattern(domain.ConflictSecurityIssue)
	merge := newPattern(domain.ConflictMerge)
	unknown := newPattern(domain.ConflictType("legacy_type"))

	out := orderPatterns(map[domain.ConflictType]*domain.ConflictPattern{
		sec.Type:     &sec,
		merge.Type:   &merge,
		unknown.Type: &unknown,
	})

	if len(out) != 2 {
		t.Fatalf("expected 2 known patterns, got %d", len(out))
	}
	if out[0].Type != domain.ConflictMerge || out[1].Type != domain.ConflictSecurityIssue {
		t.Errorf("unexpected order: %s, %s", out[0].Type, out[1].Type)
	}
}

func TestApplyOutcome(t *testing.T) {
	p := newPattern(domain.ConflictResourceContention)
	applyOutcome(&p, domain.StrategyRebalanceWorkload, 3, 0)
	applyOutcome(&p, domain.StrategyDeferTasks, 0, 2)

	if p.Successes[domain.StrategyRebalanceWorkload] != 3 {
		t.Errorf("expected 3 successes, got %d", p.Successes[domain.StrategyRebalanceWorkload])
	}
	if _, ok := p.Successes[domain.StrategyDeferTasks]; ok {
		t.Error("zero successes must not create an entry")
	}
	if p.Failures[domain.StrategyDeferTasks] != 2 {
		t.Errorf("expected 2 failures, got %d", p.Failures[domain.StrategyDeferTasks])
	}
}

func TestOutcomeDelta(t *testing.T) {
	if s, f := outcomeDelta(true); s != 1 || f != 0 {
		t.Errorf("success: got %d/%d", s, f)
	}
	if s, f := outcomeDelta(false); s != 0 || f != 1 {
		t.Errorf("failure: got %d/%d", s, f)
	}
}

func TestDecodeConflict_Invalid(t *testing.T) {
	if _, err := decodeConflict([]byte("{")); err == nil {
		t.Error("expected error for broken payload")
	}
}

func TestNewPool_EmptyURL(t *testing.T) {
	if _, err := NewPool(context.Background(), ""); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("expected ErrNoDatabase, got %v", err)
	}
}

// --- PostgreSQL Tests ---
// Запускаются только при заданном ORCHESTRA_TEST_DATABASE_URL.

func testPool(t *testing.T) *ConflictRepo {
	t.Helper()
	dsn := os.Getenv("ORCHESTRA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ORCHESTRA_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return NewConflictRepo(pool)
}

func TestConflictRepo_ArchiveRoundTrip(t *testing.T) {
	r := testPool(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	c := &domain.Conflict{
		ID:            uuid.NewString(),
		Type:          domain.ConflictDependencyCycle,
		Severity:      domain.SeverityHigh,
		AffectedTasks: []string{"T1", "T2"},
		DetectedAt:    now,
		ResolvedAt:    &now,
		Resolution: &domain.Resolution{
			Strategy: domain.StrategyReorderDependencies,
			Success:  true,
		},
	}
	if err := r.Archive(ctx, c); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	// повторное сохранение не падает
	if err := r.Archive(ctx, c); err != nil {
		t.Fatalf("Archive again: %v", err)
	}

	got, err := r.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Resolution == nil || got.Resolution.Strategy != domain.StrategyReorderDependencies {
		t.Errorf("unexpected resolution: %+v", got.Resolution)
	}

	if _, err := r.GetByID(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConflictRepo_Patterns(t *testing.T) {
	r := testPool(t)
	ctx := context.Background()

	typ := domain.ConflictType("test_" + uuid.NewString()[:8])
	if err := r.RecordDetection(ctx, typ); err != nil {
		t.Fatalf("RecordDetection: %v", err)
	}
	if err := r.RecordDetection(ctx, typ); err != nil {
		t.Fatalf("RecordDetection: %v", err)
	}
	if err := r.RecordOutcome(ctx, typ, domain.StrategyEscalation, true); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := r.RecordOutcome(ctx, typ, domain.StrategyEscalation, false); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	p, err := r.Pattern(ctx, typ)
	if err != nil {
		t.Fatalf("Pattern: %v", err)
	}
	if p.Frequency != 2 || p.Successes[domain.StrategyEscalation] != 1 || p.Failures[domain.StrategyEscalation] != 1 {
		t.Errorf("unexpected pattern: %+v", p)
	}
}
