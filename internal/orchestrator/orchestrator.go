package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Orchestra/internal/conflict"
	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/engine"
	"github.com/shaiso/Orchestra/internal/events"
	"github.com/shaiso/Orchestra/internal/mq"
	"github.com/shaiso/Orchestra/internal/scheduler"
	"github.com/shaiso/Orchestra/internal/steps"
	"github.com/shaiso/Orchestra/internal/supervisor"
	"github.com/shaiso/Orchestra/internal/telemetry"
	"github.com/shaiso/Orchestra/internal/worker"
)

// Значения по умолчанию.
const (
	defaultCadence         = "@every 10s"
	defaultArchiveTimeout  = 5 * time.Second
	defaultRecorderSize    = 512
	defaultSignalsPrefetch = 10
)

// Archiver сохраняет разрешённые конфликты (repo.ConflictRepo).
type Archiver interface {
	Archive(ctx context.Context, c *domain.Conflict) error
}

// SnapshotSaver сохраняет снимки дашборда (repo.SnapshotRepo).
type SnapshotSaver interface {
	Save(ctx context.Context, takenAt time.Time, v any) error
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Cadence — периодичность цикла (cron или @every, default: @every 10s).
	Cadence string

	// DetectorCadence — отдельная периодичность обнаружения конфликтов.
	// Пусто — обнаружение только в цикле и по запросу.
	DetectorCadence string

	AssignThreshold     float64
	RebalanceHigh       float64
	RebalanceTarget     float64
	ContentionThreshold float64
	OverrunFactor       float64
	RegressionTolerance float64

	Gates                 []domain.QualityGate
	PerformanceThresholds map[string]float64

	DetectorTimeout  time.Duration
	StepTimeout      time.Duration
	OperatorTimeout  time.Duration
	ConflictCooldown time.Duration

	Notify steps.NotifyConfig

	// Patterns — история конфликтов (default: в памяти).
	Patterns conflict.PatternStore

	// Archive и Snapshots — необязательное долговременное хранение.
	Archive   Archiver
	Snapshots SnapshotSaver

	// Sink получает все события (шина, метрики, RabbitMQ).
	Sink events.Sink

	// Metrics — необязательные Prometheus метрики.
	Metrics *telemetry.Metrics

	// Conn — соединение RabbitMQ для приёма сигналов. nil — только HTTP.
	Conn *mq.Connection

	Now    func() time.Time
	Logger *slog.Logger
}

// Orchestrator связывает компоненты и крутит цикл оркестрации.
//
// Цикл на каждом срабатывании расписания:
//   - назначает готовые задачи
//   - ищет конфликты, блокирует затронутые задачи, разрешает автоматические
//   - перебалансирует перегруженных исполнителей
//   - обновляет метрики и снимок дашборда
type Orchestrator struct {
	graph    *engine.Graph
	pool     *worker.Pool
	sched    *scheduler.Scheduler
	sup      *supervisor.Supervisor
	signals  *conflict.SignalStore
	store    *conflict.Store
	patterns conflict.PatternStore
	det      *conflict.Detector
	res      *conflict.Resolver
	executor *steps.Executor

	recorder *events.Recorder
	sink     events.Sink

	cadence         cron.Schedule
	detectorCadence cron.Schedule

	archive   Archiver
	snapshots SnapshotSaver
	metrics   *telemetry.Metrics
	conn      *mq.Connection
	consumer  *mq.Consumer

	cycleMu sync.Mutex

	lastMu   sync.RWMutex
	last     *Dashboard
	lastCyc  CycleResult
	hasCycle bool

	now    func() time.Time
	logger *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	startedMu  sync.Mutex
	started    bool
	stopped    bool
}

// New создаёт Orchestrator и все его компоненты.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Cadence == "" {
		cfg.Cadence = defaultCadence
	}
	if cfg.Patterns == nil {
		cfg.Patterns = conflict.NewMemoryPatterns()
	}

	cadence, err := scheduler.ParseCadence(cfg.Cadence)
	if err != nil {
		return nil, err
	}
	var detectorCadence cron.Schedule
	if cfg.DetectorCadence != "" {
		if detectorCadence, err = scheduler.ParseCadence(cfg.DetectorCadence); err != nil {
			return nil, err
		}
	}

	o := &Orchestrator{
		patterns:        cfg.Patterns,
		recorder:        events.NewRecorder(defaultRecorderSize),
		cadence:         cadence,
		detectorCadence: detectorCadence,
		archive:         cfg.Archive,
		snapshots:       cfg.Snapshots,
		metrics:         cfg.Metrics,
		conn:            cfg.Conn,
		now:             cfg.Now,
		logger:          cfg.Logger.With("component", "orchestrator"),
	}

	o.sink = events.Fanout{o.recorder}
	if cfg.Sink != nil {
		o.sink = events.Fanout{o.recorder, cfg.Sink}
	}

	o.graph = engine.New(engine.Config{Logger: cfg.Logger})
	o.pool = worker.New(worker.Config{Logger: cfg.Logger})
	o.sched = scheduler.New(scheduler.Config{
		Graph:           o.graph,
		Pool:            o.pool,
		Sink:            o.sink,
		AssignThreshold: cfg.AssignThreshold,
		RebalanceHigh:   cfg.RebalanceHigh,
		RebalanceTarget: cfg.RebalanceTarget,
		Logger:          cfg.Logger,
	})

	o.signals = conflict.NewSignalStore()
	o.store = conflict.NewStore(conflict.StoreConfig{Cooldown: cfg.ConflictCooldown, Now: cfg.Now})

	o.sup = supervisor.New(supervisor.Config{
		Graph:     o.graph,
		Pool:      o.pool,
		Scheduler: o.sched,
		Sink:      o.sink,
		Gates:     cfg.Gates,
		OnGateFailure: func(sig domain.GateSignal) {
			if err := o.signals.AddGate(sig); err != nil {
				o.logger.Warn("failed to record gate signal", "task_id", sig.TaskID, "error", err)
			}
		},
		Now:    cfg.Now,
		Logger: cfg.Logger,
	})

	o.det = conflict.NewDetector(conflict.DetectorConfig{
		Graph:                 o.graph,
		Pool:                  o.pool,
		Signals:               o.signals,
		Store:                 o.store,
		Patterns:              o.patterns,
		Sink:                  o.sink,
		Gates:                 cfg.Gates,
		PerformanceThresholds: cfg.PerformanceThresholds,
		ContentionThreshold:   cfg.ContentionThreshold,
		OverrunFactor:         cfg.OverrunFactor,
		RegressionTolerance:   cfg.RegressionTolerance,
		CheckTimeout:          cfg.DetectorTimeout,
		Now:                   cfg.Now,
		Logger:                cfg.Logger,
	})

	registry := steps.DefaultRegistry(cfg.Notify)
	actions := &conflict.Actions{
		Graph:               o.graph,
		Pool:                o.pool,
		Scheduler:           o.sched,
		Signals:             o.signals,
		Store:               o.store,
		Tasks:               o.sup,
		ContentionThreshold: cfg.ContentionThreshold,
	}
	actions.Register(registry)
	o.executor = steps.NewExecutor(steps.ExecutorConfig{
		Registry:    registry,
		StepTimeout: cfg.StepTimeout,
		Logger:      cfg.Logger,
	})

	o.res = conflict.NewResolver(conflict.ResolverConfig{
		Store:           o.store,
		Patterns:        o.patterns,
		Executor:        o.executor,
		Sink:            o.sink,
		OperatorTimeout: cfg.OperatorTimeout,
		OnResolved:      []conflict.ResolvedHook{o.unblockTasks, o.clearSignals, o.archiveConflict},
		Now:             cfg.Now,
		Logger:          cfg.Logger,
	})

	o.logger.Debug("step actions registered", "actions", registry.Actions())
	return o, nil
}

// --- Компоненты ---

func (o *Orchestrator) Graph() *engine.Graph               { return o.graph }
func (o *Orchestrator) Pool() *worker.Pool                 { return o.pool }
func (o *Orchestrator) Scheduler() *scheduler.Scheduler    { return o.sched }
func (o *Orchestrator) Supervisor() *supervisor.Supervisor { return o.sup }
func (o *Orchestrator) Signals() *conflict.SignalStore     { return o.signals }
func (o *Orchestrator) Conflicts() *conflict.Store         { return o.store }
func (o *Orchestrator) Detector() *conflict.Detector       { return o.det }
func (o *Orchestrator) Resolver() *conflict.Resolver       { return o.res }
func (o *Orchestrator) Patterns() conflict.PatternStore    { return o.patterns }

// RecentEvents возвращает до limit последних событий.
func (o *Orchestrator) RecentEvents(limit int) []domain.Event {
	return o.recorder.Recent(limit)
}

// --- Жизненный цикл ---

// Start запускает цикл по расписанию, отдельное обнаружение конфликтов
// (если задано) и потребителя сигналов RabbitMQ (если есть соединение).
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startedMu.Lock()
	defer o.startedMu.Unlock()
	if o.stopped {
		return ErrOrchestratorStopped
	}
	if o.started {
		return ErrAlreadyStarted
	}
	o.started = true

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator", "tasks", o.graph.Len(), "workers", o.pool.Len())

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.loop(ctx, "cycle", o.cadence, func(ctx context.Context) { o.RunCycle(ctx) })
	}()

	if o.detectorCadence != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.loop(ctx, "detector", o.detectorCadence, func(ctx context.Context) {
				o.safe(ctx, "detect", func() error {
					_, err := o.DetectNow(ctx)
					return err
				})
			})
		}()
	}

	if o.conn != nil {
		o.consumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    mq.QueueSignals,
			Handler:  o.handleSignalMessage,
			Prefetch: defaultSignalsPrefetch,
		})
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("signal consumer error", "error", err)
			}
		}()
	}

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает фоновые горутины и ждёт их завершения.
func (o *Orchestrator) Stop() {
	o.startedMu.Lock()
	if o.stopped {
		o.startedMu.Unlock()
		return
	}
	o.stopped = true
	o.startedMu.Unlock()

	o.logger.Info("stopping orchestrator...")
	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.consumer != nil {
		o.consumer.Stop()
	}
	o.wg.Wait()

	o.logger.Info("orchestrator stopped", "active_conflicts", o.store.ActiveCount())
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.startedMu.Lock()
	defer o.startedMu.Unlock()
	return o.stopped
}

// loop вызывает fn по расписанию до отмены ctx. Первый вызов — сразу.
func (o *Orchestrator) loop(ctx context.Context, name string, sched cron.Schedule, fn func(context.Context)) {
	fn(ctx)
	for {
		delay := scheduler.NextDelay(sched, o.now())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			o.logger.Debug("loop stopped", "loop", name)
			return
		case <-timer.C:
			fn(ctx)
		}
	}
}

func (o *Orchestrator) emit(ev domain.Event) {
	o.sink.Emit(ev)
}

// Emit публикует внешнее событие (например, смену статуса исполнителя из API).
func (o *Orchestrator) Emit(ev domain.Event) {
	o.emit(ev)
}
