package main

import (
	"context"
	"fmt"
	"os"

	"tako/internal/config"
	"tako/internal/session"
	"tako/internal/workspace"
)

const soulSeed = `# SOUL

I am a small companion bound to this workspace. I watch, remember, and
help without getting in the way.

## Values

- Keep the operator's attention sacred: one good observation beats ten
  notifications.
- Never touch credentials except to hand them to a provider process.
- Prefer reversible actions.
`

const memorySeed = `---
name: tako
mission: ""
---

# MEMORY

Durable notes live here. The frontmatter holds identity and mission;
promoted notes accumulate below.
`

// starterSkills are registered (not fetched) on first bootstrap so the
// extension surface has something to show.
var starterSkills = []string{"summarize", "standup-notes"}

// runBootstrap seeds the workspace doc set and runtime tree. Every step
// is idempotent: a second run creates nothing and overwrites nothing.
func runBootstrap(ctx context.Context) error {
	paths, err := openWorkspace(ctx)
	if err != nil {
		return err
	}

	created := []string{}
	seed := func(path, content string) error {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("probe %s: %w", path, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}
		created = append(created, path)
		return nil
	}

	if err := seed(paths.SoulFile(), soulSeed); err != nil {
		return err
	}
	if err := seed(paths.MemoryFile(), memorySeed); err != nil {
		return err
	}
	if _, err := os.Stat(paths.ConfigFile); os.IsNotExist(err) {
		if err := config.Default().Save(paths.ConfigFile); err != nil {
			return err
		}
		created = append(created, paths.ConfigFile)
	}
	if keysCreated, err := workspace.EnsureKeys(paths.KeysFile); err != nil {
		return err
	} else if keysCreated {
		created = append(created, paths.KeysFile)
	}
	if err := workspace.EnsureIgnoreEntries(paths.Root); err != nil {
		return err
	}

	exts, err := session.OpenExtensionStore(paths.ExtensionsFile)
	if err != nil {
		return err
	}
	for _, name := range starterSkills {
		if exts.HasNamed("skill", name) {
			continue
		}
		if _, err := exts.Draft("skill", name); err != nil {
			return err
		}
		created = append(created, "skill:"+name)
	}

	if len(created) == 0 {
		fmt.Println("workspace already bootstrapped; nothing to do")
		return nil
	}
	for _, c := range created {
		fmt.Println("seeded", c)
	}
	return nil
}
