// Package inference is the bridge between the cognitive runtime and the
// LLM provider CLIs installed on the operator's machine. It discovers
// providers and credentials, selects one, executes prompts as scoped
// subprocesses with timeouts and fallback, and streams tokens and task
// notices back to the caller.
//
// All inference is subprocess-mediated; no model SDK runs in process.
package inference

import "time"

// AuthKind classifies the credential evidence a provider accepts.
type AuthKind string

const (
	AuthAPIKey         AuthKind = "api_key"
	AuthOAuth          AuthKind = "oauth"
	AuthLocalModel     AuthKind = "local_model"
	AuthOAuthOrProfile AuthKind = "oauth_or_profile"
	AuthNone           AuthKind = "none"
)

// Status is the per-provider discovery record persisted in
// state/inference.json. ready is true only when both the CLI is reachable
// and some credential evidence exists.
type Status struct {
	Name         string   `json:"-"` // snapshot keys by name; filled for callers
	CLIName      string   `json:"cli_name"`
	CLIPath      string   `json:"cli_path,omitempty"`
	CLIInstalled bool     `json:"cli_installed"`
	AuthKind     AuthKind `json:"auth_kind"`
	KeyEnvVar    string   `json:"key_env_var,omitempty"`
	KeySource    string   `json:"key_source,omitempty"`
	KeyPresent   bool     `json:"key_present"`
	Ready        bool     `json:"ready"`
	Note         string   `json:"note,omitempty"`
}

// credFile is a well-known credential file probed in the user's home.
type credFile struct {
	relPath string // relative to $HOME
	field   string // provenance label only; contents stay opaque
}

// definition describes one provider's CLI and credential search.
type definition struct {
	name      string
	cliName   string
	authKind  AuthKind
	envVars   []string   // matching environment variables, first hit wins
	credFiles []credFile // probed after env vars
	streaming bool       // native JSON streaming support
}

// Priority is the fixed provider priority order used by discovery,
// selection, and the fallback chain.
var Priority = []string{"codex", "claude", "gemini", "pi", "ollama"}

var definitions = map[string]definition{
	"codex": {
		name:     "codex",
		cliName:  "codex",
		authKind: AuthOAuthOrProfile,
		envVars:  []string{"OPENAI_API_KEY"},
		credFiles: []credFile{
			{relPath: ".codex/auth.json", field: "tokens"},
		},
		streaming: true,
	},
	"claude": {
		name:     "claude",
		cliName:  "claude",
		authKind: AuthOAuthOrProfile,
		envVars:  []string{"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"},
		credFiles: []credFile{
			{relPath: ".claude/.credentials.json", field: "claudeAiOauth"},
		},
	},
	"gemini": {
		name:     "gemini",
		cliName:  "gemini",
		authKind: AuthOAuthOrProfile,
		envVars:  []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		credFiles: []credFile{
			{relPath: ".gemini/oauth_creds.json", field: "access_token"},
		},
		streaming: true,
	},
	"pi": {
		name:     "pi",
		cliName:  "pi",
		authKind: AuthOAuth,
		envVars:  []string{"PI_API_KEY", "PI_AUTH_TOKEN"},
		credFiles: []credFile{
			{relPath: ".pi/credentials.json", field: "token"},
		},
	},
	"ollama": {
		name:     "ollama",
		cliName:  "ollama",
		authKind: AuthLocalModel,
	},
}

// Default timeouts by reasoning depth; chat uses the medium value.
const (
	TimeoutLight  = 60 * time.Second
	TimeoutMedium = 85 * time.Second
	TimeoutDeep   = 120 * time.Second
)

// watchdogInterval is how often the streaming watchdog emits a status
// heartbeat while the provider is silent.
const watchdogInterval = 10 * time.Second
