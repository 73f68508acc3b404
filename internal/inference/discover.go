package inference

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Runtime is the discovery snapshot plus the secrets needed to populate
// child-process environments. Secrets never leave this struct except into
// a child's environment.
type Runtime struct {
	Statuses map[string]Status
	Selected string // empty when no provider is ready

	secrets map[string]secretRef // provider -> credential
}

type secretRef struct {
	envVar string
	value  string
}

// Bridge owns discovery and execution. One Bridge per process.
type Bridge struct {
	workspaceTmp string
	nodeDir      string // workspace-local node runtime, "pi" fallback
	settingsPath string
	snapshotPath string
	homeDir      string
	logger       *zap.Logger
	watchdog     time.Duration
	notifyFail   func(provider, summary string)

	lookPath func(file string) (string, error)

	probeMu   sync.Mutex
	helpProbe map[string]string // cached --help output by provider, guarded by probeMu
}

// Options configures a Bridge.
type Options struct {
	WorkspaceTmp string
	NodeDir      string
	SettingsPath string
	SnapshotPath string
	Logger       *zap.Logger

	// NotifyFailure receives every failed provider attempt during a
	// fallback chain, so the audit trail records which providers were
	// skipped over. Optional.
	NotifyFailure func(provider, summary string)
}

// NewBridge builds the bridge. Discovery runs on demand, not here.
func NewBridge(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notify := opts.NotifyFailure
	if notify == nil {
		notify = func(string, string) {}
	}
	home, _ := os.UserHomeDir()
	return &Bridge{
		workspaceTmp: opts.WorkspaceTmp,
		nodeDir:      opts.NodeDir,
		settingsPath: opts.SettingsPath,
		snapshotPath: opts.SnapshotPath,
		homeDir:      home,
		logger:       logger,
		watchdog:     watchdogInterval,
		notifyFail:   notify,
		lookPath:     exec.LookPath,
		helpProbe:    make(map[string]string),
	}
}

// Discover enumerates providers in priority order, probing CLIs and
// collecting credential evidence: environment variables first, then
// well-known credential files in the home directory, then the workspace
// settings file. Provenance lands in KeySource as "env:NAME",
// "file:~/...#field", or "model:name".
func (b *Bridge) Discover() (*Runtime, error) {
	settings, err := LoadSettings(b.settingsPath)
	if err != nil {
		b.logger.Warn("inference settings unreadable, continuing without", zap.Error(err))
		settings = Settings{}
	}

	// Workspace .env is an additional credential source (never required).
	dotEnv := map[string]string{}
	if b.workspaceTmp != "" {
		root := filepath.Dir(filepath.Dir(b.workspaceTmp)) // <root>/.tako/tmp -> <root>
		if m, err := godotenv.Read(filepath.Join(root, ".env")); err == nil {
			dotEnv = m
		}
	}

	rt := &Runtime{
		Statuses: make(map[string]Status),
		secrets:  make(map[string]secretRef),
	}

	for _, name := range Priority {
		def := definitions[name]
		st := Status{CLIName: def.cliName, AuthKind: def.authKind}

		if path, err := b.lookPath(def.cliName); err == nil {
			st.CLIPath = path
			st.CLIInstalled = true
		} else if name == "pi" && b.nodeDir != "" {
			// Workspace-local node runtime fallback.
			local := filepath.Join(b.nodeDir, "pi")
			if info, err := os.Stat(local); err == nil && !info.IsDir() {
				st.CLIPath = local
				st.CLIInstalled = true
				st.Note = "workspace-local node runtime"
			}
		}

		if name == "ollama" {
			model := settings.OllamaModel
			if model == "" {
				model = os.Getenv("OLLAMA_MODEL")
			}
			if model != "" {
				st.KeyPresent = true
				st.KeySource = "model:" + model
			} else {
				st.Note = "no model configured (set ollama_model or OLLAMA_MODEL)"
			}
		} else {
			b.collectCredential(&st, def, settings, dotEnv, rt, name)
		}

		st.Ready = st.CLIInstalled && st.KeyPresent
		rt.Statuses[name] = st
	}

	rt.Selected = b.selectProvider(rt, settings)
	if err := b.writeSnapshot(rt); err != nil {
		b.logger.Warn("inference snapshot write failed", zap.Error(err))
	}
	return rt, nil
}

func (b *Bridge) collectCredential(st *Status, def definition, settings Settings, dotEnv map[string]string, rt *Runtime, name string) {
	// 1. Matching environment variables, in definition order.
	for _, envVar := range def.envVars {
		if val := os.Getenv(envVar); val != "" {
			st.KeyPresent = true
			st.KeyEnvVar = envVar
			st.KeySource = "env:" + envVar
			rt.secrets[name] = secretRef{envVar: envVar, value: val}
			return
		}
	}
	// 2. Workspace .env entries under the same names.
	for _, envVar := range def.envVars {
		if val := dotEnv[envVar]; val != "" {
			st.KeyPresent = true
			st.KeyEnvVar = envVar
			st.KeySource = "env:" + envVar + " (.env)"
			rt.secrets[name] = secretRef{envVar: envVar, value: val}
			return
		}
	}
	// 3. Well-known credential files (evidence only; contents stay opaque).
	for _, cf := range def.credFiles {
		full := filepath.Join(b.homeDir, cf.relPath)
		if info, err := os.Stat(full); err == nil && info.Size() > 0 {
			st.KeyPresent = true
			st.KeySource = fmt.Sprintf("file:~/%s#%s", cf.relPath, cf.field)
			return
		}
	}
	// 4. Operator-set key in the workspace settings file.
	for _, envVar := range def.envVars {
		if val := settings.APIKeys[envVar]; val != "" {
			st.KeyPresent = true
			st.KeyEnvVar = envVar
			st.KeySource = "settings:" + envVar
			rt.secrets[name] = secretRef{envVar: envVar, value: val}
			return
		}
	}
}

// selectProvider chooses, in order: the TAKO_INFERENCE_PROVIDER override
// when ready, the persisted preference when not "auto" and ready, else the
// first ready provider in priority order.
func (b *Bridge) selectProvider(rt *Runtime, settings Settings) string {
	if forced := os.Getenv("TAKO_INFERENCE_PROVIDER"); forced != "" {
		if st, ok := rt.Statuses[forced]; ok && st.Ready {
			return forced
		}
		b.logger.Warn("TAKO_INFERENCE_PROVIDER is not a ready provider", zap.String("provider", forced))
	}
	if pref := settings.PreferredProvider; pref != "" && pref != "auto" {
		if st, ok := rt.Statuses[pref]; ok && st.Ready {
			return pref
		}
	}
	for _, name := range Priority {
		if rt.Statuses[name].Ready {
			return name
		}
	}
	return ""
}

// Ready reports whether any provider can serve inference.
func (r *Runtime) Ready() bool { return r != nil && r.Selected != "" }

// ReadyProviders lists ready providers in priority order, selected first.
func (r *Runtime) ReadyProviders() []string {
	if r == nil {
		return nil
	}
	var out []string
	if r.Selected != "" {
		out = append(out, r.Selected)
	}
	for _, name := range Priority {
		if name == r.Selected {
			continue
		}
		if r.Statuses[name].Ready {
			out = append(out, name)
		}
	}
	return out
}

// snapshot is the serialized form of state/inference.json.
type snapshot struct {
	UpdatedAt         string            `json:"updated_at"`
	SelectedProvider  string            `json:"selected_provider,omitempty"`
	SelectedAuthKind  string            `json:"selected_auth_kind,omitempty"`
	SelectedKeyEnvVar string            `json:"selected_key_env_var,omitempty"`
	SelectedKeySource string            `json:"selected_key_source,omitempty"`
	Providers         map[string]Status `json:"providers"`
}

func (b *Bridge) writeSnapshot(rt *Runtime) error {
	if b.snapshotPath == "" {
		return nil
	}
	snap := snapshot{
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Providers: rt.Statuses,
	}
	if rt.Selected != "" {
		sel := rt.Statuses[rt.Selected]
		snap.SelectedProvider = rt.Selected
		snap.SelectedAuthKind = string(sel.AuthKind)
		snap.SelectedKeyEnvVar = sel.KeyEnvVar
		snap.SelectedKeySource = sel.KeySource
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.snapshotPath, data, 0o644)
}
