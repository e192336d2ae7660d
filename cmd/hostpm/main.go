// Command hostpm is the Control Boundary: a CLI over the Supervisor that
// starts, stops, restarts, lists, and tails logs for long-running scripts,
// persisting their registry to a local state directory.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hostpm/hostpm/internal/logger"
	"github.com/hostpm/hostpm/internal/metrics"
	"github.com/hostpm/hostpm/internal/store"
	"github.com/hostpm/hostpm/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	stateDir string
	jsonOut  bool
	sup      *supervisor.Supervisor
)

func main() {
	root := &cobra.Command{
		Use:   "hostpm",
		Short: "A local process supervisor",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// The persisted log_level setting has to be known before the
			// logger exists, so the state directory is opened once here
			// just for settings and again, for real, by the Supervisor.
			level := slog.LevelInfo
			if st, err := store.Open(stateDir, nil); err == nil {
				level = st.LogLevel()
			}
			log, err := logger.New(os.Stderr, logger.Config{
				Level: level,
				Color: isTerminal(os.Stderr),
			})
			if err != nil {
				return fmt.Errorf("build diagnostics logger: %w", err)
			}
			slog.SetDefault(log)
			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				log.Warn("metrics registration failed", "error", err)
			}
			s, err := supervisor.New(stateDir, log)
			if err != nil {
				return fmt.Errorf("open state directory %s: %w", stateDir, err)
			}
			sup = s
			return nil
		},
	}
	root.PersistentFlags().StringVar(&stateDir, "home", defaultStateDir(), "state directory")

	root.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newDeleteCmd(),
		newListCmd(),
		newLogsCmd(),
		newFlushCmd(),
		newMonitCmd(),
		newResurrectCmd(),
	)

	if err := root.Execute(); err != nil {
		if err == errInterrupted {
			os.Exit(130)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
