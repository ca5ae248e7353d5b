// Package config загружает конфигурацию оркестратора.
//
// Приоритет (от высшего к низшему):
//  1. Переменные окружения ORCHESTRA_* (ORCHESTRA_DATABASE_URL, ORCHESTRA_HTTP_ADDR, ...)
//  2. YAML файл, переданный в Load
//  3. Встроенные значения по умолчанию
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/telemetry"
)

// EnvPrefix — префикс переменных окружения.
const EnvPrefix = "ORCHESTRA"

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// Config — конфигурация оркестратора.
type Config struct {
	Log        telemetry.LogConfig `mapstructure:"log"`
	HTTP       HTTPConfig          `mapstructure:"http"`
	Database   DatabaseConfig      `mapstructure:"database"`
	RabbitMQ   RabbitMQConfig      `mapstructure:"rabbitmq"`
	Loop       LoopConfig          `mapstructure:"loop"`
	Thresholds ThresholdsConfig    `mapstructure:"thresholds"`
	Timeouts   TimeoutsConfig      `mapstructure:"timeouts"`
	Intake     IntakeConfig        `mapstructure:"intake"`
	Notify     NotifyConfig        `mapstructure:"notify"`

	// Gates — определения quality gates по фазам.
	Gates []domain.QualityGate `mapstructure:"gates"`

	// PerformanceThresholds — фиксированные пороги метрик производительности.
	PerformanceThresholds map[string]float64 `mapstructure:"performance_thresholds"`
}

// HTTPConfig — HTTP API и /metrics.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig — PostgreSQL. Пустой URL — хранение только в памяти.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	// SnapshotRetention — сколько хранить снимки дашборда. 0 — бессрочно.
	SnapshotRetention time.Duration `mapstructure:"snapshot_retention"`

	// RestoreLimit — сколько разрешённых конфликтов поднимать из архива при старте.
	RestoreLimit int `mapstructure:"restore_limit"`
}

// RabbitMQConfig — брокер событий и сигналов. Пустой URL — брокер отключён.
type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

// LoopConfig — расписание цикла оркестрации (cron или @every).
type LoopConfig struct {
	Cadence         string `mapstructure:"cadence"`
	DetectorCadence string `mapstructure:"detector_cadence"`
}

// ThresholdsConfig — пороги загрузки и детектора.
type ThresholdsConfig struct {
	AssignMaxWorkload   float64 `mapstructure:"assign_max_workload"`
	RebalanceHigh       float64 `mapstructure:"rebalance_high"`
	RebalanceTarget     float64 `mapstructure:"rebalance_target"`
	Contention          float64 `mapstructure:"contention"`
	OverrunFactor       float64 `mapstructure:"overrun_factor"`
	RegressionTolerance float64 `mapstructure:"regression_tolerance"`
}

// TimeoutsConfig — таймауты внешних ожиданий.
type TimeoutsConfig struct {
	Detector time.Duration `mapstructure:"detector"`
	Step     time.Duration `mapstructure:"step"`
	Operator time.Duration `mapstructure:"operator"`

	// ConflictCooldown — пауза повторного обнаружения после разрешения.
	ConflictCooldown time.Duration `mapstructure:"conflict_cooldown"`
}

// IntakeConfig — источники задач и исполнителей.
type IntakeConfig struct {
	TasksFile   string `mapstructure:"tasks_file"`
	WorkersFile string `mapstructure:"workers_file"`

	// WatchDir — каталог, новые файлы задач в котором добавляются в граф.
	WatchDir string `mapstructure:"watch_dir"`
}

// NotifyConfig — webhook уведомлений шагов разрешения.
type NotifyConfig struct {
	WebhookURL string            `mapstructure:"webhook_url"`
	Headers    map[string]string `mapstructure:"headers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.addr", ":8083")
	v.SetDefault("database.url", "")
	v.SetDefault("database.snapshot_retention", 7*24*time.Hour)
	v.SetDefault("database.restore_limit", 500)
	v.SetDefault("rabbitmq.url", "")

	v.SetDefault("loop.cadence", "@every 10s")
	v.SetDefault("loop.detector_cadence", "@every 30s")

	v.SetDefault("thresholds.assign_max_workload", 90.0)
	v.SetDefault("thresholds.rebalance_high", 85.0)
	v.SetDefault("thresholds.rebalance_target", 70.0)
	v.SetDefault("thresholds.contention", 90.0)
	v.SetDefault("thresholds.overrun_factor", 1.5)
	v.SetDefault("thresholds.regression_tolerance", 0.1)

	v.SetDefault("timeouts.detector", 5*time.Second)
	v.SetDefault("timeouts.step", 30*time.Second)
	v.SetDefault("timeouts.operator", time.Hour)
	v.SetDefault("timeouts.conflict_cooldown", 5*time.Minute)

	v.SetDefault("intake.tasks_file", "")
	v.SetDefault("intake.workers_file", "")
	v.SetDefault("intake.watch_dir", "")

	v.SetDefault("notify.webhook_url", "")
}

// Load загружает конфигурацию. path может быть пустым — тогда
// используются значения по умолчанию и окружение.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	var errs []error

	t := c.Thresholds
	for name, v := range map[string]float64{
		"assign_max_workload": t.AssignMaxWorkload,
		"rebalance_high":      t.RebalanceHigh,
		"rebalance_target":    t.RebalanceTarget,
		"contention":          t.Contention,
	} {
		if v <= 0 || v > 100 {
			errs = append(errs, fmt.Errorf("%w: thresholds.%s must be in (0, 100], got %v", ErrInvalidConfig, name, v))
		}
	}
	if t.RebalanceTarget >= t.RebalanceHigh {
		errs = append(errs, fmt.Errorf("%w: thresholds.rebalance_target must be below rebalance_high", ErrInvalidConfig))
	}
	if t.OverrunFactor < 1 {
		errs = append(errs, fmt.Errorf("%w: thresholds.overrun_factor must be >= 1", ErrInvalidConfig))
	}

	for _, g := range c.Gates {
		if g.Name == "" || !g.Phase.Valid() {
			errs = append(errs, fmt.Errorf("%w: gate %q needs a name and a known phase", ErrInvalidConfig, g.Name))
		}
	}

	return errors.Join(errs...)
}
