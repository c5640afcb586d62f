// Command bumble is a local personal agent: a ReAct loop over sandboxed
// tools with layered markdown memory, driven from the terminal.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bumble/internal/config"
	"bumble/internal/core"
	"bumble/internal/logging"
	"bumble/internal/orchestrator"
)

var (
	workspace  string
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bumble",
	Short: "bumble - a local personal agent with layered memory",
	Long: `bumble runs a Plan-Act-Observe-Critic loop over sandboxed tools.

Conversation, lessons, procedural memory, and preferences live as plain
markdown under <workspace>/memory/ so you can read and edit what the agent
knows. Run without arguments for an interactive chat.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return err
			}
		}
		if configPath == "" {
			configPath = config.DefaultPath(workspace)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

var runCmd = &cobra.Command{
	Use:   "run [utterance]",
	Short: "Run a single turn and print the response",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(strings.Join(args, " "))
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Summarise the stored conversation into long-term memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, ctx, cancel, err := buildRuntime()
		if err != nil {
			return err
		}
		defer cancel()
		go o.Run(ctx)
		if err := o.CompactNow(ctx); err != nil {
			return err
		}
		fmt.Println("compacted")
		return nil
	},
}

var consolidateDays int

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Fold recent daily logs into long-term memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, ctx, cancel, err := buildRuntime()
		if err != nil {
			return err
		}
		defer cancel()
		go o.Run(ctx)
		result, err := o.ConsolidateNow(consolidateDays)
		if err != nil {
			return err
		}
		fmt.Printf("consolidated %d day(s): %s\n", result.BlocksAdded, strings.Join(result.DatesProcessed, ", "))
		return nil
	},
}

func buildRuntime() (*orchestrator.Orchestrator, context.Context, context.CancelFunc, error) {
	cfg, err := config.Load(configPath, workspace)
	if err != nil {
		return nil, nil, nil, err
	}
	o, err := orchestrator.New(cfg, configPath, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return o, ctx, cancel, nil
}

// runOnce submits one utterance and prints the streamed response.
func runOnce(text string) error {
	o, ctx, cancel, err := buildRuntime()
	if err != nil {
		return err
	}
	defer cancel()
	go o.Run(ctx)

	states := o.States().Subscribe()
	stream := o.Stream().Subscribe()
	go func() {
		for delta := range stream {
			fmt.Print(delta)
		}
	}()

	o.Dispatch(orchestrator.Command{Type: orchestrator.CommandSubmit, Text: text})
	final := waitTurn(ctx, states)
	fmt.Println()
	if final.Phase == core.PhaseError {
		return fmt.Errorf("%s: %s", final.ErrorKind, final.ErrorMessage)
	}
	return nil
}

// runChat is the interactive REPL. Lines are submitted as turns; /cancel
// interrupts the running turn, /clear resets the conversation, /compact
// compacts it, /quit exits.
func runChat() error {
	o, ctx, cancel, err := buildRuntime()
	if err != nil {
		return err
	}
	defer cancel()
	go o.Run(ctx)

	// Hot-reload the config on file edits.
	go func() {
		_ = config.Watch(ctx, configPath, logger, func() {
			o.Dispatch(orchestrator.Command{Type: orchestrator.CommandReloadConfig})
		})
	}()

	states := o.States().Subscribe()
	stream := o.Stream().Subscribe()
	go func() {
		for delta := range stream {
			fmt.Print(delta)
		}
	}()

	fmt.Println("bumble ready. /quit to exit, /cancel to stop a turn, /clear, /compact.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/cancel":
			o.Dispatch(orchestrator.Command{Type: orchestrator.CommandCancel})
			continue
		case "/clear":
			o.Dispatch(orchestrator.Command{Type: orchestrator.CommandClear})
			continue
		case "/compact":
			if err := o.CompactNow(ctx); err != nil {
				fmt.Printf("compact failed: %v\n", err)
			}
			continue
		}

		o.Dispatch(orchestrator.Command{Type: orchestrator.CommandSubmit, Text: line})
		final := waitTurn(ctx, states)
		fmt.Println()
		if final.Phase == core.PhaseError {
			fmt.Printf("error (%s): %s\n", final.ErrorKind, final.ErrorMessage)
		}
	}
}

// waitTurn consumes state updates until the turn reaches a terminal phase.
func waitTurn(ctx context.Context, states <-chan core.UiState) core.UiState {
	sawBusy := false
	for {
		select {
		case <-ctx.Done():
			return core.UiState{Phase: core.PhaseIdle}
		case s := <-states:
			switch s.Phase {
			case core.PhaseIdle:
				if sawBusy {
					return s
				}
			case core.PhaseError:
				return s
			default:
				sawBusy = true
			}
		}
	}
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: <workspace>/bumble.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	consolidateCmd.Flags().IntVar(&consolidateDays, "days", 7, "how many recent days to consolidate")

	rootCmd.AddCommand(runCmd, compactCmd, consolidateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
