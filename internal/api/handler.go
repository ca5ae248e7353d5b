package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/orchestrator"
	"github.com/shaiso/Orchestra/internal/repo"
	"github.com/shaiso/Orchestra/internal/telemetry"
)

// ConflictHistory — архив разрешённых конфликтов (repo.ConflictRepo).
type ConflictHistory interface {
	GetByID(ctx context.Context, id string) (*domain.Conflict, error)
	List(ctx context.Context, filter repo.ConflictFilter) ([]*domain.Conflict, error)
}

// SnapshotHistory — история снимков дашборда (repo.SnapshotRepo).
type SnapshotHistory interface {
	List(ctx context.Context, limit int) ([]repo.Snapshot, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orch      *orchestrator.Orchestrator
	history   ConflictHistory
	snapshots SnapshotHistory
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator

	// History и Snapshots — необязательное хранилище PostgreSQL.
	// Без него история конфликтов берётся из памяти.
	History   ConflictHistory
	Snapshots SnapshotHistory

	// Metrics — если задан, открывается /metrics и считаются запросы.
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		orch:      cfg.Orchestrator,
		history:   cfg.History,
		snapshots: cfg.Snapshots,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "api"),
	}
}

// reqLogger — логгер запроса (с request_id), положенный middleware Logging.
func (h *Handler) reqLogger(r *http.Request) *slog.Logger {
	return telemetry.FromContext(r.Context())
}
