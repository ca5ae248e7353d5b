package intake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// WatcherConfig — конфигурация Watcher.
type WatcherConfig struct {
	// Dir — каталог с файлами задач.
	Dir string

	Loader *Loader

	// Debounce — пауза после последнего изменения файла перед загрузкой
	// (default: 200ms). Файл часто пишется несколькими write.
	Debounce time.Duration

	// OnLoaded вызывается после загрузки файла (для тестов и метрик).
	OnLoaded func(path string, ids []string, err error)

	Logger *slog.Logger
}

// Watcher добавляет задачи из файлов, появляющихся в каталоге.
type Watcher struct {
	cfg    WatcherConfig
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher создаёт Watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "intake", "dir", cfg.Dir),
		timers: make(map[string]*time.Timer),
	}
}

// Run загружает файлы, уже лежащие в каталоге, и следит за новыми
// до отмены ctx.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}

	ready := make(chan string, 16)
	defer w.stopTimers()

	for _, path := range w.existing() {
		w.load(path)
	}
	w.logger.Info("intake watcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("intake watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !Supported(ev.Name) {
				continue
			}
			w.schedule(ctx, ev.Name, ready)

		case path := <-ready:
			w.load(path)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// schedule откладывает загрузку path до окончания серии изменений.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.cfg.Debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) existing() []string {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logger.Warn("failed to list intake dir", "error", err)
		return nil
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && Supported(e.Name()) {
			paths = append(paths, filepath.Join(w.cfg.Dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths
}

func (w *Watcher) load(path string) {
	ids, err := w.cfg.Loader.LoadTasksFile(path)
	if err != nil {
		w.logger.Warn("failed to load task file", "file", path, "error", err)
	}
	if w.cfg.OnLoaded != nil {
		w.cfg.OnLoaded(path, ids, err)
	}
}
