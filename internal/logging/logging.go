// Package logging builds the zap loggers for the Takobot runtime.
//
// Two files under .tako/logs/:
//   - app.log: operator-relevant operational log (info and above)
//   - runtime.log: cognition/debug log (debug and above)
//
// Components receive *zap.Logger through their constructors; nothing outside
// this package holds package-level logger state.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Set bundles the runtime's loggers plus their shared flush hook.
type Set struct {
	App     *zap.Logger
	Runtime *zap.Logger

	closers []func() error
}

// Options controls logger construction.
type Options struct {
	LogsDir string
	Verbose bool // also mirror app-level output to stderr
}

// New opens the log files and builds both loggers. The caller owns the Set
// and must call Close on every exit path.
func New(opts Options) (*Set, error) {
	if opts.LogsDir == "" {
		return nil, fmt.Errorf("logs directory required")
	}
	if err := os.MkdirAll(opts.LogsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	appFile, err := openLog(filepath.Join(opts.LogsDir, "app.log"))
	if err != nil {
		return nil, err
	}
	runtimeFile, err := openLog(filepath.Join(opts.LogsDir, "runtime.log"))
	if err != nil {
		appFile.Close()
		return nil, err
	}

	appCores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.AddSync(appFile), zapcore.InfoLevel),
	}
	if opts.Verbose {
		consoleEnc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		appCores = append(appCores, zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stderr), zapcore.DebugLevel))
	}

	set := &Set{
		App:     zap.New(zapcore.NewTee(appCores...)),
		Runtime: zap.New(zapcore.NewCore(enc, zapcore.AddSync(runtimeFile), zapcore.DebugLevel)),
		closers: []func() error{appFile.Close, runtimeFile.Close},
	}
	return set, nil
}

// NewNop returns a Set backed by no-op loggers, for tests and tools that do
// not want files on disk.
func NewNop() *Set {
	return &Set{App: zap.NewNop(), Runtime: zap.NewNop()}
}

// Close flushes and closes the underlying files.
func (s *Set) Close() {
	if s == nil {
		return
	}
	if s.App != nil {
		_ = s.App.Sync()
	}
	if s.Runtime != nil {
		_ = s.Runtime.Sync()
	}
	for _, c := range s.closers {
		_ = c()
	}
	s.closers = nil
}

func openLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}
