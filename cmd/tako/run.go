package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tako/internal/inference"
	"tako/internal/logging"
	"tako/internal/transport"
	"tako/internal/workspace"
)

// runOnce executes a single prompt through the fallback chain and
// prints the result. No heartbeat, no session, no lock.
func runOnce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	paths, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	if err := workspace.CheckTrackedSecrets(ctx, paths.Root); err != nil {
		return err
	}
	logs, err := logging.New(logging.Options{LogsDir: paths.Logs, Verbose: flagVerbose})
	if err != nil {
		return err
	}
	defer logs.Close()

	svc := inference.NewService(inference.NewBridge(inference.Options{
		WorkspaceTmp: paths.Tmp,
		NodeDir:      paths.Root,
		SettingsPath: paths.InferenceSettingsFile,
		SnapshotPath: paths.InferenceFile,
		Logger:       logs.Runtime,
	}))
	if err := svc.Refresh(); err != nil {
		return err
	}
	if !svc.Ready() {
		return inference.ErrNoProvider
	}

	prompt := strings.Join(args, " ")
	res, err := svc.Stream(ctx, prompt, inference.TimeoutMedium, func(kind, payload string) {
		if kind == inference.KindDelta {
			fmt.Print(payload)
		}
	})
	if err != nil {
		return err
	}
	if res.Text != "" {
		fmt.Println()
	}
	return nil
}

// runHi sends one message over the transport and exits.
func runHi(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	to, _ := cmd.Flags().GetString("to")
	message, _ := cmd.Flags().GetString("message")
	if to == "" {
		return &argError{msg: "hi: --to is required"}
	}

	paths, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	if _, err := workspace.EnsureKeys(paths.KeysFile); err != nil {
		return err
	}
	logs, err := logging.New(logging.Options{LogsDir: paths.Logs, Verbose: flagVerbose})
	if err != nil {
		return err
	}
	defer logs.Close()

	helper := transport.NewNodeHelper("xmtp-helper.js", paths.XMTPData, paths.KeysFile, logs.Runtime)
	if err := helper.Start(ctx); err != nil {
		return err
	}
	defer helper.Close()

	if err := helper.Send(ctx, to, message); err != nil {
		return err
	}
	fmt.Printf("sent to %s\n", to)
	return nil
}
