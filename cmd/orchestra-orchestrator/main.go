// Orchestra Orchestrator — сервис оркестрации задач.
//
// Orchestrator:
//   - Держит граф задач и пул исполнителей
//   - По расписанию назначает задачи и перераспределяет нагрузку
//   - Обнаруживает и разрешает конфликты
//   - Принимает сигналы по HTTP и из RabbitMQ
//   - Отдаёт HTTP API, /metrics и /healthz
//
// Конфигурация читается из файла ORCHESTRA_CONFIG и переменных ORCHESTRA_*.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Orchestra/internal/api"
	"github.com/shaiso/Orchestra/internal/config"
	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/events"
	"github.com/shaiso/Orchestra/internal/intake"
	"github.com/shaiso/Orchestra/internal/mq"
	"github.com/shaiso/Orchestra/internal/orchestrator"
	"github.com/shaiso/Orchestra/internal/repo"
	"github.com/shaiso/Orchestra/internal/steps"
	"github.com/shaiso/Orchestra/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("ORCHESTRA_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "orchestra-orchestrator:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log)
	logger.Info("starting orchestra-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := telemetry.NewMetrics()

	// Шина событий: лог, метрики, позже RabbitMQ
	bus := events.NewBus(events.BusConfig{
		OnDrop: func(ev domain.Event) {
			logger.Warn("event dropped", "type", ev.Type)
		},
		Logger: logger,
	})
	bus.Subscribe(events.LogSink{Logger: logger})
	bus.Subscribe(metrics)

	orchCfg := orchestrator.Config{
		Cadence:               cfg.Loop.Cadence,
		DetectorCadence:       cfg.Loop.DetectorCadence,
		AssignThreshold:       cfg.Thresholds.AssignMaxWorkload,
		RebalanceHigh:         cfg.Thresholds.RebalanceHigh,
		RebalanceTarget:       cfg.Thresholds.RebalanceTarget,
		ContentionThreshold:   cfg.Thresholds.Contention,
		OverrunFactor:         cfg.Thresholds.OverrunFactor,
		RegressionTolerance:   cfg.Thresholds.RegressionTolerance,
		Gates:                 cfg.Gates,
		PerformanceThresholds: cfg.PerformanceThresholds,
		DetectorTimeout:       cfg.Timeouts.Detector,
		StepTimeout:           cfg.Timeouts.Step,
		OperatorTimeout:       cfg.Timeouts.Operator,
		ConflictCooldown:      cfg.Timeouts.ConflictCooldown,
		Notify: steps.NotifyConfig{
			WebhookURL: cfg.Notify.WebhookURL,
			Headers:    cfg.Notify.Headers,
		},
		Sink:    bus,
		Metrics: metrics,
		Logger:  logger,
	}
	apiCfg := api.Config{
		Metrics: metrics,
		Logger:  logger,
	}

	// PostgreSQL (необязательно)
	var conflictRepo *repo.ConflictRepo
	var snapshotRepo *repo.SnapshotRepo
	if cfg.Database.URL != "" {
		pool, err := repo.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("database connected")

		if err := repo.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}

		conflictRepo = repo.NewConflictRepo(pool)
		snapshotRepo = repo.NewSnapshotRepo(pool)

		orchCfg.Patterns = conflictRepo
		orchCfg.Archive = conflictRepo
		orchCfg.Snapshots = snapshotRepo
		apiCfg.History = conflictRepo
		apiCfg.Snapshots = snapshotRepo
	} else {
		logger.Info("database not configured, state kept in memory")
	}

	// RabbitMQ (необязательно)
	if cfg.RabbitMQ.URL != "" {
		mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, signals via HTTP only", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			} else {
				logger.Debug("rabbitmq topology declared")
			}

			bus.Subscribe(&mq.EventSink{Publisher: mq.NewPublisher(mqConn, logger)})
			orchCfg.Conn = mqConn
		}
	}

	orch, err := orchestrator.New(orchCfg)
	if err != nil {
		logger.Error("failed to create orchestrator", "error", err)
		os.Exit(1)
	}
	apiCfg.Orchestrator = orch

	if conflictRepo != nil {
		restoreConflicts(ctx, orch, conflictRepo, cfg.Database.RestoreLimit, logger)
	}

	// Начальные исполнители и задачи: сначала исполнители
	loader := intake.NewLoader(orch, orch, logger)
	if path := cfg.Intake.WorkersFile; path != "" {
		if _, err := loader.LoadWorkersFile(path); err != nil {
			logger.Error("failed to load workers", "path", path, "error", err)
			os.Exit(1)
		}
	}
	if path := cfg.Intake.TasksFile; path != "" {
		if _, err := loader.LoadTasksFile(path); err != nil {
			logger.Error("failed to load tasks", "path", path, "error", err)
			os.Exit(1)
		}
	}

	// Очистка старых снимков
	if snapshotRepo != nil && cfg.Database.SnapshotRetention > 0 {
		pruner := cron.New()
		retention := cfg.Database.SnapshotRetention
		if _, err := pruner.AddFunc("@hourly", func() {
			n, err := snapshotRepo.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("snapshot prune failed", "error", err)
				return
			}
			if n > 0 {
				logger.Info("snapshots pruned", "count", n)
			}
		}); err != nil {
			logger.Error("failed to schedule snapshot prune", "error", err)
			os.Exit(1)
		}
		pruner.Start()
		defer pruner.Stop()
	}

	handler := api.NewHandler(apiCfg)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bus.Run(gctx)
		return nil
	})

	if err := orch.Start(gctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	if dir := cfg.Intake.WatchDir; dir != "" {
		watcher := intake.NewWatcher(intake.WatcherConfig{
			Dir:    dir,
			Loader: loader,
			Logger: logger,
		})
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Ожидаем сигнал завершения или ошибку одной из горутин
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", "error", err)
		}

		// Останавливаем orchestrator
		orch.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("orchestra-orchestrator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("orchestra-orchestrator stopped", "events_dropped", bus.Dropped())
}

// restoreConflicts поднимает последние разрешённые конфликты из архива,
// чтобы история и паузы повторного обнаружения пережили рестарт.
func restoreConflicts(ctx context.Context, orch *orchestrator.Orchestrator, r *repo.ConflictRepo, limit int, logger *slog.Logger) {
	archived, err := r.List(ctx, repo.ConflictFilter{Limit: limit})
	if err != nil {
		logger.Warn("failed to restore conflicts", "error", err)
		return
	}

	// List отдаёт новые первыми, Store хранит от старых к новым
	for i := len(archived) - 1; i >= 0; i-- {
		orch.Conflicts().Restore(archived[i])
	}
	logger.Info("conflicts restored", "count", len(archived))
}
