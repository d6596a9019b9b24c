// Canis CLI — инструмент командной строки для управления
// workflows и schedules поверх файлового State Store.
//
// Использование:
//
//	canis [--data-dir DIR] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	workflow  Управление workflows
//	schedule  Управление schedules
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Canis/internal/cli"
	"github.com/shaiso/Canis/internal/schedule"
	"github.com/shaiso/Canis/internal/state"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var dataDir string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "canis",
		Short:         "Canis CLI — synthetic dataset workflow tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "State store directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	storeFn := func() (*state.FileStore, error) { return state.NewFileStore(dataDir) }
	sourceFn := func() (*schedule.FileSource, error) { return schedule.NewFileSource(dataDir) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewWorkflowCmd(storeFn, outputFn),
		cli.NewScheduleCmd(sourceFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	if v := os.Getenv("CANIS_DATA"); v != "" {
		return v
	}
	return "./data"
}
