package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"tako/internal/inference"
	"tako/internal/logging"
	"tako/internal/session"
	"tako/internal/workspace"
)

// runDoctor reports workspace and provider health without starting the
// runtime. Always exits 0 when the diagnosis itself succeeds.
func runDoctor(ctx context.Context) error {
	paths, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	logs := logging.NewNop()

	var b strings.Builder
	fmt.Fprintf(&b, "workspace  %s\n", paths.Root)
	for _, probe := range []struct {
		label string
		path  string
	}{
		{"soul", paths.SoulFile()},
		{"memory", paths.MemoryFile()},
		{"config", paths.ConfigFile},
		{"keys", paths.KeysFile},
	} {
		state := "ok"
		if _, err := os.Stat(probe.path); os.IsNotExist(err) {
			state = "missing (run `tako bootstrap`)"
		}
		fmt.Fprintf(&b, "%-10s %s\n", probe.label, state)
	}

	if op, err := session.LoadOperator(paths.OperatorFile); err != nil {
		fmt.Fprintf(&b, "operator   unreadable: %v\n", err)
	} else if op == nil {
		b.WriteString("operator   not imprinted\n")
	} else {
		fmt.Fprintf(&b, "operator   %s\n", op.Name)
	}

	svc := inference.NewService(inference.NewBridge(inference.Options{
		WorkspaceTmp: paths.Tmp,
		NodeDir:      paths.Root,
		SettingsPath: paths.InferenceSettingsFile,
		SnapshotPath: paths.InferenceFile,
		Logger:       logs.Runtime,
	}))
	if err := svc.Refresh(); err != nil {
		fmt.Fprintf(&b, "providers  discovery failed: %v\n", err)
	} else {
		b.WriteString("\n")
		for _, st := range svc.Statuses() {
			mark := " "
			if st.Ready {
				mark = "*"
			}
			line := fmt.Sprintf("%s %-7s cli=%-5t key=%-5t", mark, st.Name, st.CLIInstalled, st.KeyPresent)
			if st.KeySource != "" {
				line += "  " + st.KeySource
			}
			if st.Note != "" {
				line += "  (" + st.Note + ")"
			}
			b.WriteString(line + "\n")
		}
		if svc.Ready() {
			b.WriteString("selected: " + svc.Selected() + "\n")
		} else {
			b.WriteString("no ready provider; set a key or log a CLI in\n")
		}
	}

	if err := workspace.CheckTrackedSecrets(ctx, paths.Root); err != nil {
		fmt.Fprintf(&b, "\nsecrets    %v\n", err)
	} else {
		b.WriteString("\nsecrets    nothing sensitive tracked\n")
	}

	fmt.Println(session.RenderCard("tako doctor", b.String()))
	return nil
}
