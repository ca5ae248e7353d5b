package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Orchestra/internal/domain"
)

// ConflictRepo — архив разрешённых конфликтов и история паттернов.
//
// Реализует conflict.PatternStore, поэтому статистика стратегий
// переживает перезапуск оркестратора.
type ConflictRepo struct {
	pool *pgxpool.Pool
}

// NewConflictRepo создаёт новый ConflictRepo.
func NewConflictRepo(pool *pgxpool.Pool) *ConflictRepo {
	return &ConflictRepo{pool: pool}
}

// ConflictFilter — параметры выборки архива.
type ConflictFilter struct {
	Type  domain.ConflictType
	Limit int
}

// --- Архив ---

// Archive сохраняет конфликт. Повторное сохранение перезаписывает запись.
func (r *ConflictRepo) Archive(ctx context.Context, c *domain.Conflict) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conflict: %w", err)
	}

	var strategy *string
	success := false
	if c.Resolution != nil {
		strategy = nullString(string(c.Resolution.Strategy))
		success = c.Resolution.Success
	}

	query := `
		INSERT INTO resolved_conflicts (id, type, severity, strategy, success, detected_at, resolved_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET strategy = EXCLUDED.strategy,
		    success = EXCLUDED.success,
		    resolved_at = EXCLUDED.resolved_at,
		    payload = EXCLUDED.payload
	`
	_, err = r.pool.Exec(ctx, query,
		c.ID,
		string(c.Type),
		string(c.Severity),
		strategy,
		success,
		c.DetectedAt,
		c.ResolvedAt,
		payload,
	)
	if err != nil {
		return fmt.Errorf("archive conflict: %w", err)
	}
	return nil
}

// GetByID возвращает конфликт из архива.
func (r *ConflictRepo) GetByID(ctx context.Context, id string) (*domain.Conflict, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT payload FROM resolved_conflicts WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict: %w", err)
	}
	return decodeConflict(payload)
}

// List возвращает разрешённые конфликты, новые первыми.
func (r *ConflictRepo) List(ctx context.Context, filter ConflictFilter) ([]*domain.Conflict, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	query := `
		SELECT payload
		FROM resolved_conflicts
		WHERE ($1::text IS NULL OR type = $1)
		ORDER BY resolved_at DESC NULLS LAST
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, nullString(string(filter.Type)), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Conflict
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		c, err := decodeConflict(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- PatternStore ---

// RecordDetection реализует conflict.PatternStore.
func (r *ConflictRepo) RecordDetection(ctx context.Context, t domain.ConflictType) error {
	query := `
		INSERT INTO conflict_patterns (type, frequency)
		VALUES ($1, 1)
		ON CONFLICT (type) DO UPDATE SET frequency = conflict_patterns.frequency + 1
	`
	if _, err := r.pool.Exec(ctx, query, string(t)); err != nil {
		return fmt.Errorf("record detection: %w", err)
	}
	return nil
}

// RecordOutcome реализует conflict.PatternStore.
func (r *ConflictRepo) RecordOutcome(ctx context.Context, t domain.ConflictType, s domain.Strategy, success bool) error {
	succ, fail := outcomeDelta(success)
	query := `
		INSERT INTO strategy_outcomes (type, strategy, successes, failures)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (type, strategy) DO UPDATE
		SET successes = strategy_outcomes.successes + EXCLUDED.successes,
		    failures = strategy_outcomes.failures + EXCLUDED.failures
	`
	if _, err := r.pool.Exec(ctx, query, string(t), string(s), succ, fail); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Pattern реализует conflict.PatternStore.
func (r *ConflictRepo) Pattern(ctx context.Context, t domain.ConflictType) (domain.ConflictPattern, error) {
	p := newPattern(t)

	var freq int
	err := r.pool.QueryRow(ctx, `SELECT frequency FROM conflict_patterns WHERE type = $1`, string(t)).Scan(&freq)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("get pattern: %w", err)
	}
	p.Frequency = freq

	rows, err := r.pool.Query(ctx,
		`SELECT strategy, successes, failures FROM strategy_outcomes WHERE type = $1`, string(t))
	if err != nil {
		return p, fmt.Errorf("get outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			strategy        string
			successes, fail int
		)
		if err := rows.Scan(&strategy, &successes, &fail); err != nil {
			return p, fmt.Errorf("scan outcome: %w", err)
		}
		applyOutcome(&p, domain.Strategy(strategy), successes, fail)
	}
	return p, rows.Err()
}

// Patterns реализует conflict.PatternStore. Порядок — как в domain.AllConflictTypes.
func (r *ConflictRepo) Patterns(ctx context.Context) ([]domain.ConflictPattern, error) {
	byType := make(map[domain.ConflictType]*domain.ConflictPattern)
	get := func(t domain.ConflictType) *domain.ConflictPattern {
		p, ok := byType[t]
		if !ok {
			np := newPattern(t)
			p = &np
			byType[t] = p
		}
		return p
	}

	rows, err := r.pool.Query(ctx, `SELECT type, frequency FROM conflict_patterns`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	for rows.Next() {
		var (
			t    string
			freq int
		)
		if err := rows.Scan(&t, &freq); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		get(domain.ConflictType(t)).Frequency = freq
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}

	rows, err = r.pool.Query(ctx, `SELECT type, strategy, successes, failures FROM strategy_outcomes`)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t, strategy     string
			successes, fail int
		)
		if err := rows.Scan(&t, &strategy, &successes, &fail); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		applyOutcome(get(domain.ConflictType(t)), domain.Strategy(strategy), successes, fail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}

	return orderPatterns(byType), nil
}

// --- Helpers ---

func decodeConflict(payload []byte) (*domain.Conflict, error) {
	var c domain.Conflict
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("unmarshal conflict: %w", err)
	}
	return &c, nil
}

func newPattern(t domain.ConflictType) domain.ConflictPattern {
	return domain.ConflictPattern{
		Type:      t,
		Successes: make(map[domain.Strategy]int),
		Failures:  make(map[domain.Strategy]int),
	}
}

func outcomeDelta(success bool) (int, int) {
	if success {
		return 1, 0
	}
	return 0, 1
}

func applyOutcome(p *domain.ConflictPattern, s domain.Strategy, successes, failures int) {
	if successes > 0 {
		p.Successes[s] = successes
	}
	if failures > 0 {
		p.Failures[s] = failures
	}
}

// orderPatterns раскладывает паттерны в порядке domain.AllConflictTypes.
// Неизвестные типы из БД отбрасываются.
func orderPatterns(byType map[domain.ConflictType]*domain.ConflictPattern) []domain.ConflictPattern {
	out := make([]domain.ConflictPattern, 0, len(byType))
	for _, t := range domain.AllConflictTypes {
		if p, ok := byType[t]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
