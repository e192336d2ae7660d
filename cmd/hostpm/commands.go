package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hostpm/hostpm/internal/fleet"
	"github.com/hostpm/hostpm/internal/supervisor"
	"github.com/spf13/cobra"
)

var errInterrupted = errors.New("interrupted")

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func newStartCmd() *cobra.Command {
	var (
		name             string
		cwd              string
		interpreter      string
		argsFlag         []string
		envFlag          []string
		maxRestarts      int
		restartDelayMS   int
		noAutoRestart    bool
		maxMemoryRestart string
		watch            bool
		fleetFile        string
	)
	cmd := &cobra.Command{
		Use:   "start [script]",
		Short: "Start a process, or a batch of processes from a fleet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fleetFile != "" {
				return startFromFleet(fleetFile)
			}
			if len(args) != 1 {
				return fmt.Errorf("start requires exactly one script argument (or --fleet)")
			}
			script := args[0]
			if name == "" {
				name = nameFromScript(script)
			}
			envMap, err := parseEnvFlags(envFlag)
			if err != nil {
				return err
			}
			if interpreter == "" {
				interpreter = "python"
			}
			// Flags the user did not touch fall back to the persisted
			// global settings, not the compiled-in flag defaults.
			dMax, dDelay, dMem := sup.Defaults()
			if !cmd.Flags().Changed("max-restarts") && dMax > 0 {
				maxRestarts = dMax
			}
			if !cmd.Flags().Changed("restart-delay") && dDelay > 0 {
				restartDelayMS = dDelay
			}
			if !cmd.Flags().Changed("max-memory-restart") && dMem != "" {
				maxMemoryRestart = dMem
			}
			opts := supervisor.StartOptions{
				Name:             name,
				Script:           script,
				Interpreter:      interpreter,
				Args:             argsFlag,
				Env:              envMap,
				Cwd:              cwd,
				AutoRestart:      !noAutoRestart,
				MaxRestarts:      maxRestarts,
				RestartDelayMS:   restartDelayMS,
				MaxMemoryRestart: maxMemoryRestart,
				Watch:            watch,
			}
			if !sup.Start(opts) {
				return fmt.Errorf("failed to start %s", name)
			}
			printJSON(sup.List())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "process name (default: script basename)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory")
	cmd.Flags().StringVar(&interpreter, "interpreter", "python", "interpreter to invoke the script with")
	cmd.Flags().StringArrayVar(&argsFlag, "args", nil, "arguments passed to the script (repeatable)")
	cmd.Flags().StringArrayVar(&envFlag, "env", nil, "KEY=VALUE environment override (repeatable)")
	cmd.Flags().IntVar(&maxRestarts, "max-restarts", 10, "maximum automatic restarts per run epoch")
	cmd.Flags().IntVar(&restartDelayMS, "restart-delay", 1000, "milliseconds between a stop and the next start")
	cmd.Flags().BoolVar(&noAutoRestart, "no-autorestart", false, "disable automatic restart on crash")
	cmd.Flags().StringVar(&maxMemoryRestart, "max-memory-restart", "", "restart if RSS exceeds this size (e.g. 200M, 1G)")
	cmd.Flags().BoolVar(&watch, "watch", false, "restart on changes to the script's project files")
	cmd.Flags().StringVar(&fleetFile, "fleet", "", "TOML fleet file declaring several processes at once")
	return cmd
}

func startFromFleet(path string) error {
	doc, err := fleet.Load(path)
	if err != nil {
		return err
	}
	genv, err := doc.ResolvedGlobalEnv()
	if err != nil {
		return err
	}
	if len(genv) > 0 {
		sup.SetGlobalEnv(genv)
	}
	failed := 0
	for _, opts := range doc.StartOptions() {
		if opts.Interpreter == "" {
			opts.Interpreter = "python"
		}
		if !sup.Start(opts) {
			failed++
			_, _ = fmt.Fprintf(os.Stderr, "failed to start %s\n", opts.Name)
		}
	}
	printJSON(sup.List())
	if failed > 0 {
		return fmt.Errorf("%d process(es) failed to start", failed)
	}
	return nil
}

func newStopCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop <name|all>",
		Short: "Stop a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range resolveTargets(args[0], sup.List()) {
				if !sup.Stop(name, force) {
					return fmt.Errorf("failed to stop %s", name)
				}
			}
			printJSON(sup.List())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "SIGKILL the process group instead of a graceful stop")
	return cmd
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name|all>",
		Short: "Restart a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "all" {
				sup.RestartAll()
				printJSON(sup.List())
				return nil
			}
			if !sup.Restart(args[0]) {
				return fmt.Errorf("failed to restart %s", args[0])
			}
			printJSON(sup.List())
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name|all>",
		Short: "Stop and remove a process from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "all" {
				sup.DeleteAll()
				return nil
			}
			if !sup.Delete(args[0]) {
				return fmt.Errorf("failed to delete %s", args[0])
			}
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every registered process",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := sup.List()
			if jsonOut {
				printJSON(statuses)
				return nil
			}
			printTable(statuses)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON instead of a table")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Print a process's stdout log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !follow {
				return sup.Logs(args[0], lines, false, os.Stdout, nil)
			}
			stop := make(chan struct{})
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			interrupted := false
			go func() {
				<-sig
				interrupted = true
				close(stop)
			}()
			if err := sup.Logs(args[0], lines, true, os.Stdout, stop); err != nil {
				return err
			}
			if interrupted {
				return errInterrupted
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 20, "number of trailing lines to print")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep printing newly appended lines until interrupted")
	return cmd
}

func newFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush [name]",
		Short: "Truncate a process's logs, or every process's logs when name is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return sup.FlushLogs(name)
		},
	}
}

func newMonitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monit",
		Short: "Periodically re-render the process list until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Monitoring runs for as long as monit is on screen: this is
			// the one verb whose invocation keeps a Supervisor alive, so
			// crash- and memory-triggered restarts happen while it runs.
			sup.StartMonitor()
			defer sup.StopMonitor()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			ticker := time.NewTicker(1 * time.Second)
			defer ticker.Stop()
			render := func() {
				fmt.Print("\033[H\033[2J")
				printTable(sup.List())
			}
			render()
			for {
				select {
				case <-sig:
					return errInterrupted
				case <-ticker.C:
					render()
				}
			}
		},
	}
}

func newResurrectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resurrect",
		Short: "Restart every non-online registry entry with its stored options",
		RunE: func(cmd *cobra.Command, args []string) error {
			n := sup.Resurrect()
			fmt.Printf("resurrected %d process(es)\n", n)
			return nil
		},
	}
}
