package cli

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Canis/internal/batch"
	"github.com/shaiso/Canis/internal/domain"
	"github.com/shaiso/Canis/internal/engine"
	"github.com/shaiso/Canis/internal/orchestrator"
	"github.com/shaiso/Canis/internal/seed"
	"github.com/shaiso/Canis/internal/state"
)

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}

	cmd.AddCommand(
		newWorkflowCreateCmd(storeFn, outputFn),
		newWorkflowListCmd(storeFn, outputFn),
		newWorkflowShowCmd(storeFn, outputFn),
		newWorkflowAdvanceCmd(storeFn, outputFn),
		newWorkflowRunCmd(storeFn, outputFn),
		newWorkflowCancelCmd(storeFn, outputFn),
		newWorkflowDeleteCmd(storeFn, outputFn),
		newWorkflowExportCmd(storeFn, outputFn),
		newSnapshotCmd(storeFn, outputFn),
	)

	return cmd
}

func newWorkflowCreateCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	var graphPath string
	var seedPath string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a workflow from a graph spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn()
			if err != nil {
				return err
			}
			out := outputFn()

			spec, err := readGraphSpec(graphPath)
			if err != nil {
				return err
			}

			var external []*domain.DataItem
			if seedPath != "" {
				external, err = readSeedItems(seedPath)
				if err != nil {
					return err
				}
			}

			wf, err := engine.BuildWorkflow(args[0], spec, external)
			if err != nil {
				return err
			}
			if err := store.Save(cmd.Context(), wf); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow created: %s", wf.Name))
			out.Print(
				[]string{"NAME", "STATUS", "STEPS", "ITEMS"},
				[][]string{{wf.Name, string(wf.Status), strconv.Itoa(len(wf.Steps)), strconv.Itoa(len(wf.Items))}},
				wf,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&graphPath, "graph", "", "Path to graph spec JSON (required)")
	cmd.Flags().StringVar(&seedPath, "seed", "", "Path to seed spec JSON")
	cmd.MarkFlagRequired("graph")

	return cmd
}

func newWorkflowListCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn()
			if err != nil {
				return err
			}
			out := outputFn()

			infos, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"NAME", "STATUS", "REVISION", "UPDATED"}
			rows := make([][]string, len(infos))
			for i, info := range infos {
				rows[i] = []string{
					info.Name,
					string(info.Status),
					strconv.FormatInt(info.Revision, 10),
					info.UpdatedAt.Format(time.RFC3339),
				}
			}

			out.Print(headers, rows, infos)
			return nil
		},
	}
}

func newWorkflowShowCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a workflow and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn()
			if err != nil {
				return err
			}
			out := outputFn()

			wf, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			headers := []string{"STEP", "KIND", "STATUS", "JOB", "FAILURE"}
			rows := make([][]string, 0, len(wf.Steps))
			for _, step := range sortedSteps(wf) {
				job := "-"
				if step.Job != nil && step.Job.JobID != "" {
					job = fmt.Sprintf("%s (%s)", step.Job.JobID, step.Job.Status)
				}
				failure := "-"
				if step.Failure != nil {
					failure = fmt.Sprintf("%s: %s", step.Failure.Kind, step.Failure.Message)
				}
				rows = append(rows, []string{step.ID, string(step.Kind), string(step.Status), job, failure})
			}

			out.Success(fmt.Sprintf("Workflow %s: %s (revision %d)", wf.Name, wf.Status, wf.Revision))
			out.Print(headers, rows, wf)
			return nil
		},
	}
}

func newWorkflowAdvanceCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "advance NAME",
		Short: "Advance a workflow by one tick",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn()
			if err != nil {
				return err
			}
			out := outputFn()

			o := newOrchestrator(store)
			if err := o.Tick(cmd.Context(), args[0]); err != nil {
				return err
			}

			wf, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Workflow %s: %s", wf.Name, wf.Status))
			return nil
		},
	}
}

func newWorkflowRunCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run NAME",
		Short: "Advance a workflow until it reaches a terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn()
			if err != nil {
				return err
			}
			out := outputFn()

			ctx := cmd.Context()
			o := newOrchestrator(store)

			for {
				if err := o.Tick(ctx, args[0]); err != nil {
					return err
				}

				wf, err := store.Load(ctx, args[0])
				if err != nil {
					return err
				}
				if wf.Status.IsTerminal() {
					out.Success(fmt.Sprintf("Workflow %s: %s", wf.Name, wf.Status))
					return nil
				}
				out.Success(fmt.Sprintf("Workflow %s: %s, waiting %s", wf.Name, wf.Status, interval))

				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Delay between ticks")

	return cmd
}

func newWorkflowCancelCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel NAME",
		Short: "Cancel a workflow and its in-flight jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn()
			if err != nil {
				return err
			}
			out := outputFn()

			o := newOrchestrator(store)
			if err := o.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow cancelled: %s", args[0]))
			return nil
		},
	}
}

func newWorkflowDeleteCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a workflow and its snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn()
			if err != nil {
				return err
			}
			out := outputFn()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow deleted: %s", args[0]))
			return nil
		},
	}
}

func newWorkflowExportCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "export NAME STEP.SLOT",
		Short: "Export a step output as a JSONL dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn()
			if err != nil {
				return err
			}
			out := outputFn()

			stepID, slot, ok := strings.Cut(args[1], ".")
			if !ok {
				return fmt.Errorf("invalid output reference %q, expected STEP.SLOT", args[1])
			}

			wf, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			step, ok := wf.Step(stepID)
			if !ok {
				return fmt.Errorf("workflow %s has no step %q", wf.Name, stepID)
			}
			output := step.Output(slot)
			if output == nil {
				return fmt.Errorf("step %s has no output %q", stepID, slot)
			}
			if output.ItemID == nil {
				return fmt.Errorf("output %s.%s is not produced yet (step is %s)", stepID, slot, step.Status)
			}
			item, ok := wf.Item(*output.ItemID)
			if !ok {
				return fmt.Errorf("output %s.%s references a missing item", stepID, slot)
			}

			if err := store.ExportDataset(cmd.Context(), item, dest); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Dataset written: %s", dest))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dest, "out", "o", "dataset.jsonl", "Destination file")

	return cmd
}

func newSnapshotCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage workflow snapshots",
	}

	cmd.AddCommand(
		newSnapshotCreateCmd(storeFn, outputFn),
		newSnapshotListCmd(storeFn, outputFn),
		newSnapshotRestoreCmd(storeFn, outputFn),
	)

	return cmd
}

func newSnapshotCreateCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Snapshot the current workflow state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn()
			if err != nil {
				return err
			}
			out := outputFn()

			info, err := store.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Snapshot created: %s", info.ID))
			out.Print(
				[]string{"ID", "REVISION", "CREATED"},
				[][]string{{info.ID, strconv.FormatInt(info.Revision, 10), info.CreatedAt.Format(time.RFC3339)}},
				info,
			)
			return nil
		},
	}
}

func newSnapshotListCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list NAME",
		Short: "List snapshots of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn()
			if err != nil {
				return err
			}
			out := outputFn()

			infos, err := store.Snapshots(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "REVISION", "CREATED"}
			rows := make([][]string, len(infos))
			for i, info := range infos {
				rows[i] = []string{info.ID, strconv.FormatInt(info.Revision, 10), info.CreatedAt.Format(time.RFC3339)}
			}

			out.Print(headers, rows, infos)
			return nil
		},
	}
}

func newSnapshotRestoreCmd(storeFn func() (*state.FileStore, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "restore NAME SNAPSHOT_ID",
		Short: "Replace the workflow state with a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn()
			if err != nil {
				return err
			}
			out := outputFn()

			cur, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			snap, err := store.LoadSnapshot(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			// Save защищён оптимистичной блокировкой: подставляем
			// текущую ревизию, чтобы восстановление прошло как
			// очередная запись поверх неё.
			snap.Revision = cur.Revision
			if err := store.Save(cmd.Context(), snap); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow %s restored from snapshot %s", args[0], args[1]))
			return nil
		},
	}
}

// --- Helpers ---

// newOrchestrator собирает одноразовый Orchestrator для команд
// advance, run и cancel. Batch-клиент использует OPENAI_API_KEY.
func newOrchestrator(store *state.FileStore) *orchestrator.Orchestrator {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	svc := batch.NewOpenAIService(batch.OpenAIConfig{
		APIKey: os.Getenv("OPENAI_API_KEY"),
	})

	return orchestrator.New(orchestrator.Config{
		Store:     store,
		Artifacts: store,
		Batch:     batch.NewClient(svc, batch.Config{Logger: logger}),
		Logger:    logger,
	})
}

func readGraphSpec(path string) (*domain.GraphSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph spec: %w", err)
	}
	spec, err := domain.ParseGraphSpec(data)
	if err != nil {
		return nil, fmt.Errorf("parse graph spec %s: %w", path, err)
	}
	return spec, nil
}

func readSeedItems(path string) ([]*domain.DataItem, error) {
	spec, err := readSeedSpec(path)
	if err != nil {
		return nil, err
	}
	return seed.Items(spec)
}

func sortedSteps(wf *domain.Workflow) []*domain.Step {
	steps := make([]*domain.Step, 0, len(wf.Steps))
	for _, step := range wf.Steps {
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
	return steps
}
