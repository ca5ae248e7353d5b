package intake

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/engine"
)

// ErrUnsupportedFile — файл не YAML и не JSON.
var ErrUnsupportedFile = errors.New("unsupported file type")

// TaskSink принимает новые задачи.
type TaskSink interface {
	AddTasks(specs []domain.TaskSpec) ([]string, error)
	Has(id string) bool
}

// WorkerSink принимает новых исполнителей.
type WorkerSink interface {
	Register(spec domain.WorkerSpec) (string, error)
}

// Supported возвращает true для файлов .yaml, .yml и .json.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

type workerSpecFile struct {
	Workers []domain.WorkerSpec `yaml:"workers"`
}

// ParseWorkerSpecs разбирает YAML или JSON со спецификациями исполнителей:
// объект с ключом workers или голый список.
func ParseWorkerSpecs(data []byte) ([]domain.WorkerSpec, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' || data[0] == '-' {
		var specs []domain.WorkerSpec
		if err := yaml.Unmarshal(data, &specs); err != nil {
			return nil, fmt.Errorf("parse worker specs: %w", err)
		}
		return specs, nil
	}

	var file workerSpecFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse worker specs: %w", err)
	}
	return file.Workers, nil
}

// Loader загружает задачи и исполнителей из файлов.
type Loader struct {
	tasks   TaskSink
	workers WorkerSink
	logger  *slog.Logger
}

// NewLoader создаёт Loader. workers может быть nil, если файлы
// исполнителей не загружаются.
func NewLoader(tasks TaskSink, workers WorkerSink, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{tasks: tasks, workers: workers, logger: logger}
}

// LoadTasksFile добавляет задачи из файла.
//
// Задачам без ID присваивается "<имя файла>-<номер>", поэтому повторная
// загрузка того же файла не создаёт дубликатов: задачи, уже
// находящиеся в графе, пропускаются. Возвращает ID добавленных задач.
func (l *Loader) LoadTasksFile(path string) ([]string, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	specs, err := engine.ParseTaskSpecs(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	fresh := make([]domain.TaskSpec, 0, len(specs))
	for i, spec := range specs {
		if spec.ID == "" {
			spec.ID = fmt.Sprintf("%s-%d", stem, i+1)
		}
		if l.tasks.Has(spec.ID) {
			continue
		}
		fresh = append(fresh, spec)
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	ids, err := l.tasks.AddTasks(fresh)
	if err != nil {
		return ids, fmt.Errorf("%s: %w", path, err)
	}
	l.logger.Info("tasks loaded", "file", path, "added", len(ids), "skipped", len(specs)-len(ids))
	return ids, nil
}

// LoadWorkersFile регистрирует исполнителей из файла.
// Ошибки отдельных исполнителей собираются, остальные регистрируются.
func (l *Loader) LoadWorkersFile(path string) ([]string, error) {
	if l.workers == nil {
		return nil, errors.New("loader has no worker sink")
	}
	if !Supported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workers file: %w", err)
	}
	specs, err := ParseWorkerSpecs(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var (
		ids  []string
		errs []error
	)
	for _, spec := range specs {
		id, err := l.workers.Register(spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("worker %q: %w", spec.Name, err))
			continue
		}
		ids = append(ids, id)
	}
	l.logger.Info("workers loaded", "file", path, "registered", len(ids), "failed", len(errs))
	return ids, errors.Join(errs...)
}
