package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Canis/internal/domain"
	"github.com/shaiso/Canis/internal/schedule"
)

// NewScheduleCmd создаёт группу команд для управления schedules.
func NewScheduleCmd(sourceFn func() (*schedule.FileSource, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage schedules",
	}

	cmd.AddCommand(
		newScheduleListCmd(sourceFn, outputFn),
		newScheduleCreateCmd(sourceFn, outputFn),
		newScheduleShowCmd(sourceFn, outputFn),
		newScheduleEnableCmd(sourceFn, outputFn),
		newScheduleDisableCmd(sourceFn, outputFn),
		newScheduleDeleteCmd(sourceFn, outputFn),
	)

	return cmd
}

func newScheduleListCmd(sourceFn func() (*schedule.FileSource, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := sourceFn()
			if err != nil {
				return err
			}
			out := outputFn()

			defs, err := source.List(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"NAME", "SCHEDULE", "ENABLED", "NEXT_DUE", "RUNS"}
			rows := make([][]string, len(defs))
			for i := range defs {
				rows[i] = scheduleRow(&defs[i])
			}

			out.Print(headers, rows, defs)
			return nil
		},
	}
}

func newScheduleCreateCmd(sourceFn func() (*schedule.FileSource, error), outputFn func() *Output) *cobra.Command {
	var graphPath string
	var seedPath string
	var cronExpr string
	var every time.Duration
	var timezone string
	var disabled bool

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := sourceFn()
			if err != nil {
				return err
			}
			out := outputFn()

			if (cronExpr == "") == (every == 0) {
				return fmt.Errorf("exactly one of --cron and --every must be set")
			}
			if cronExpr != "" {
				if err := schedule.ValidateCronExpr(cronExpr); err != nil {
					return err
				}
			}

			graph, err := readGraphSpec(graphPath)
			if err != nil {
				return err
			}
			var seedSpec *domain.SeedSpec
			if seedPath != "" {
				seedSpec, err = readSeedSpec(seedPath)
				if err != nil {
					return err
				}
			}

			def := &schedule.Definition{
				Name:        args[0],
				Graph:       graph,
				Seed:        seedSpec,
				CronExpr:    cronExpr,
				IntervalSec: int(every.Seconds()),
				Timezone:    timezone,
				Enabled:     !disabled,
			}

			next, err := schedule.CalculateNextDue(def, time.Now().UTC())
			if err != nil {
				return err
			}
			def.NextDueAt = next

			if err := source.Put(cmd.Context(), def); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule created: %s", def.Name))
			out.Print(
				[]string{"NAME", "SCHEDULE", "ENABLED", "NEXT_DUE", "RUNS"},
				[][]string{scheduleRow(def)},
				def,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&graphPath, "graph", "", "Path to graph spec JSON (required)")
	cmd.Flags().StringVar(&seedPath, "seed", "", "Path to seed spec JSON")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (five fields)")
	cmd.Flags().DurationVar(&every, "every", 0, "Interval between runs (e.g. 6h)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "Timezone for the cron expression (default UTC)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create in disabled state")
	cmd.MarkFlagRequired("graph")

	return cmd
}

func newScheduleShowCmd(sourceFn func() (*schedule.FileSource, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := sourceFn()
			if err != nil {
				return err
			}
			out := outputFn()

			def, err := source.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			lastRun := "-"
			if !def.LastRunAt.IsZero() {
				lastRun = def.LastRunAt.Format(time.RFC3339)
			}
			lastWorkflow := def.LastWorkflow
			if lastWorkflow == "" {
				lastWorkflow = "-"
			}

			out.Print(
				[]string{"NAME", "SCHEDULE", "ENABLED", "NEXT_DUE", "LAST_RUN", "LAST_WORKFLOW", "RUNS"},
				[][]string{{
					def.Name,
					scheduleExpr(def),
					strconv.FormatBool(def.Enabled),
					def.NextDueAt.Format(time.RFC3339),
					lastRun,
					lastWorkflow,
					strconv.Itoa(def.RunCount),
				}},
				def,
			)
			return nil
		},
	}
}

func newScheduleEnableCmd(sourceFn func() (*schedule.FileSource, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "enable NAME",
		Short: "Enable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setScheduleEnabled(cmd, sourceFn, outputFn, args[0], true)
		},
	}
}

func newScheduleDisableCmd(sourceFn func() (*schedule.FileSource, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "disable NAME",
		Short: "Disable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setScheduleEnabled(cmd, sourceFn, outputFn, args[0], false)
		},
	}
}

func newScheduleDeleteCmd(sourceFn func() (*schedule.FileSource, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := sourceFn()
			if err != nil {
				return err
			}
			out := outputFn()

			if err := source.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule deleted: %s", args[0]))
			return nil
		},
	}
}

// --- Helpers ---

func setScheduleEnabled(cmd *cobra.Command, sourceFn func() (*schedule.FileSource, error), outputFn func() *Output, name string, enabled bool) error {
	source, err := sourceFn()
	if err != nil {
		return err
	}
	out := outputFn()

	def, err := source.Get(cmd.Context(), name)
	if err != nil {
		return err
	}
	def.Enabled = enabled

	// После паузы расписание не должно сработать задним числом.
	if enabled {
		next, err := schedule.CalculateNextDue(def, time.Now().UTC())
		if err != nil {
			return err
		}
		def.NextDueAt = next
	}

	if err := source.Put(cmd.Context(), def); err != nil {
		return err
	}

	if enabled {
		out.Success(fmt.Sprintf("Schedule enabled: %s, next due %s", name, def.NextDueAt.Format(time.RFC3339)))
	} else {
		out.Success(fmt.Sprintf("Schedule disabled: %s", name))
	}
	return nil
}

func scheduleExpr(def *schedule.Definition) string {
	if def.IsCron() {
		return def.CronExpr
	}
	return (time.Duration(def.IntervalSec) * time.Second).String()
}

func scheduleRow(def *schedule.Definition) []string {
	return []string{
		def.Name,
		scheduleExpr(def),
		strconv.FormatBool(def.Enabled),
		def.NextDueAt.Format(time.RFC3339),
		strconv.Itoa(def.RunCount),
	}
}

func readSeedSpec(path string) (*domain.SeedSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed spec: %w", err)
	}
	spec, err := domain.ParseSeedSpec(data)
	if err != nil {
		return nil, fmt.Errorf("parse seed spec %s: %w", path, err)
	}
	return spec, nil
}
