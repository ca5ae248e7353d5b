package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер периодичности: пять полей cron или дескрипторы (@every 30s, @hourly).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCadence разбирает периодичность цикла.
//
// Поддерживаются:
//   - длительность Go: "30s", "1m"
//   - дескрипторы: "@every 30s", "@hourly"
//   - cron из пяти полей: "*/5 * * * *"
func ParseCadence(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidCadence)
	}

	if d, err := time.ParseDuration(expr); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("%w: non-positive duration %q", ErrInvalidCadence, expr)
		}
		return cron.Every(d), nil
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCadence, expr, err)
	}
	return sched, nil
}

// NextDelay возвращает задержку до следующего срабатывания.
// Никогда не возвращает отрицательное значение.
func NextDelay(sched cron.Schedule, from time.Time) time.Duration {
	d := sched.Next(from).Sub(from)
	if d < 0 {
		return 0
	}
	return d
}
