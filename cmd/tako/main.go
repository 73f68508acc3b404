package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"tako/internal/session"
	"tako/internal/workspace"
)

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

// Exit codes promised to scripts wrapping the binary.
const (
	exitOK       = 0
	exitBlocked  = 1
	exitArgError = 2
	exitSignal   = 130
)

var (
	flagWorkspace string
	flagVerbose   bool
)

var errInterrupted = errors.New("interrupted")

var rootCmd = &cobra.Command{
	Use:   "tako",
	Short: "tako - a workspace companion that lives in your repo",
	Long: `Takobot is a small cognitive runtime bound to one workspace: it keeps a
heartbeat, watches sensors, reasons about what it sees on a bounded daily
budget, and talks to you in a terminal session.

Run without arguments to start the interactive session.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runApp(cmd.Context())
	},
}

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Start the interactive session (the default)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runApp(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Run one prompt through the inference bridge and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOnce,
}

var hiCmd = &cobra.Command{
	Use:   "hi --to <addr|ens> [--message <text>]",
	Short: "Send a one-off message over the transport",
	RunE:  runHi,
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed the workspace doc set and runtime tree",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runBootstrap(cmd.Context())
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the workspace and provider discovery",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDoctor(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "workspace root (default: walk up from cwd)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "mirror logs to stderr")

	hiCmd.Flags().String("to", "", "recipient address or ENS handle")
	hiCmd.Flags().String("message", "hi from tako", "message text")
	hiCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(appCmd, runCmd, hiCmd, bootstrapCmd, doctorCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetContext(ctx)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		os.Exit(exitOK)
	}

	switch {
	case errors.Is(err, errInterrupted) || errors.Is(err, context.Canceled):
		os.Exit(exitSignal)
	case isArgError(err):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitArgError)
	case errors.Is(err, workspace.ErrLocked):
		fmt.Fprintln(os.Stderr, session.RenderErrorCard(
			"Another tako instance is running in this workspace.",
			"Stop the other instance, or remove a stale .tako/locks/tako.lock",
		))
		os.Exit(exitBlocked)
	default:
		fmt.Fprintln(os.Stderr, session.RenderErrorCard(err.Error()))
		os.Exit(exitBlocked)
	}
}

// isArgError distinguishes cobra's usage failures from runtime ones.
func isArgError(err error) bool {
	var unknown *argError
	if errors.As(err, &unknown) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unknown command", "unknown flag", "required flag", "requires at least", "accepts at most", "invalid argument"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// argError marks a failure the operator caused with bad arguments.
type argError struct{ msg string }

func (e *argError) Error() string { return e.msg }
