package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Snapshot — сохранённый снимок дашборда.
type Snapshot struct {
	ID      int64           `json:"id"`
	TakenAt time.Time       `json:"taken_at"`
	Payload json.RawMessage `json:"payload"`
}

// SnapshotRepo — история снимков дашборда.
type SnapshotRepo struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepo создаёт новый SnapshotRepo.
func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

// Save сохраняет снимок v (сериализуется в JSON).
func (r *SnapshotRepo) Save(ctx context.Context, takenAt time.Time, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO dashboard_snapshots (taken_at, payload) VALUES ($1, $2)`,
		takenAt, payload,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// List возвращает последние limit снимков, новые первыми.
func (r *SnapshotRepo) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, taken_at, payload FROM dashboard_snapshots ORDER BY taken_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		var payload []byte
		if err := rows.Scan(&s.ID, &s.TakenAt, &payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.Payload = payload
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune удаляет снимки старше before. Возвращает число удалённых.
func (r *SnapshotRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM dashboard_snapshots WHERE taken_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
