package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Canis/internal/domain"
)

// Definition — определение регулярной генерации.
type Definition struct {
	// Name — уникальное имя. Входит в имена создаваемых workflow.
	Name string `json:"name"`

	// Graph — граф создаваемых workflow.
	Graph *domain.GraphSpec `json:"graph"`

	// Seed — seed-спецификация: порождает внешние DataItem'ы
	// создаваемых workflow. nil — workflow без внешних данных.
	Seed *domain.SeedSpec `json:"seed,omitempty"`

	// CronExpr — cron-выражение расписания. Взаимоисключимо с IntervalSec.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал в секундах между запусками.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — таймзона для cron-выражения (default: UTC).
	Timezone string `json:"timezone,omitempty"`

	// Enabled — выключенные определения пропускаются.
	Enabled bool `json:"enabled"`

	// NextDueAt — следующее время запуска (UTC).
	NextDueAt time.Time `json:"next_due_at"`

	// LastRunAt — время последнего запуска.
	LastRunAt time.Time `json:"last_run_at,omitempty"`

	// LastWorkflow — имя последнего созданного workflow.
	LastWorkflow string `json:"last_workflow,omitempty"`

	// RunCount — количество созданных workflow.
	RunCount int `json:"run_count"`
}

// IsCron возвращает true для расписания по cron-выражению.
func (d *Definition) IsCron() bool {
	return d.CronExpr != ""
}

// IsInterval возвращает true для расписания по интервалу.
func (d *Definition) IsInterval() bool {
	return d.IntervalSec > 0
}

// Due возвращает true, если определение пора запускать.
func (d *Definition) Due(now time.Time) bool {
	return d.Enabled && !d.NextDueAt.IsZero() && !d.NextDueAt.After(now)
}

// RecordRun отмечает созданный workflow и следующее время запуска.
func (d *Definition) RecordRun(workflow string, nextDue time.Time) {
	d.LastRunAt = time.Now().UTC()
	d.LastWorkflow = workflow
	d.NextDueAt = nextDue
	d.RunCount++
}

// cronParser — парсер cron-выражений (пять полей, без секунд).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет следующее время запуска.
// Учитывает timezone определения; результат в UTC.
func CalculateNextDue(def *Definition, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(def.Timezone)
	if err != nil {
		loc = time.UTC
	}
	fromInTz := from.In(loc)

	if def.IsCron() {
		sched, err := cronParser.Parse(def.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", def.CronExpr, err)
		}
		return sched.Next(fromInTz).UTC(), nil
	}

	if def.IsInterval() {
		return fromInTz.Add(time.Duration(def.IntervalSec) * time.Second).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("definition has neither cron_expr nor interval_sec")
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}
