package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	sendTimeout = 10 * time.Second
	killGrace   = 200 * time.Millisecond
)

// NodeHelper runs the XMTP helper script as a child process and speaks
// line-delimited JSON over its pipes. One line out per send; inbound
// lines become Messages. The helper owns the wire protocol; this side
// only frames and supervises.
type NodeHelper struct {
	script  string
	dataDir string
	keys    string
	logger  *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	address string
	closed  bool

	msgs chan Message
}

type helperLine struct {
	Event   string `json:"event"`
	Address string `json:"address,omitempty"`
	From    string `json:"from,omitempty"`
	Text    string `json:"text,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type helperSend struct {
	Op      string `json:"op"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// NewNodeHelper prepares (without starting) a helper over the given
// script. dataDir and keys point into the .tako runtime tree.
func NewNodeHelper(script, dataDir, keys string, logger *zap.Logger) *NodeHelper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeHelper{
		script:  script,
		dataDir: dataDir,
		keys:    keys,
		logger:  logger,
		msgs:    make(chan Message, 64),
	}
}

// Start launches the helper and begins draining its stdout. The first
// "ready" line carries our address.
func (h *NodeHelper) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, "node", h.script, "--data-dir", h.dataDir, "--keys", h.keys)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killTree(cmd) }

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("helper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("helper stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xmtp helper: %w", err)
	}
	h.cmd = cmd
	h.stdin = stdin

	go h.drain(stdout)
	return nil
}

func (h *NodeHelper) drain(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line helperLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			h.logger.Debug("unparsable helper line", zap.Error(err))
			continue
		}
		switch line.Event {
		case "ready":
			h.mu.Lock()
			h.address = line.Address
			h.mu.Unlock()
		case "message":
			msg := Message{From: line.From, Text: line.Text, ReceivedAt: time.Now()}
			select {
			case h.msgs <- msg:
			default:
				h.logger.Warn("inbound message dropped, channel full",
					zap.String("from", line.From))
			}
		case "error":
			h.logger.Warn("xmtp helper error", zap.String("detail", line.Detail))
		}
	}
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if !closed {
		h.logger.Warn("xmtp helper stream ended")
	}
	close(h.msgs)
}

func (h *NodeHelper) Messages() <-chan Message { return h.msgs }

// Send frames one outbound message to the helper's stdin.
func (h *NodeHelper) Send(ctx context.Context, to, message string) error {
	h.mu.Lock()
	stdin := h.stdin
	h.mu.Unlock()
	if stdin == nil {
		return &NotConnectedError{To: to}
	}

	data, err := json.Marshal(helperSend{Op: "send", To: to, Message: message})
	if err != nil {
		return fmt.Errorf("encode send: %w", err)
	}
	data = append(data, '\n')

	done := make(chan error, 1)
	go func() {
		_, werr := stdin.Write(data)
		done <- werr
	}()
	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case werr := <-done:
		if werr != nil {
			return fmt.Errorf("send to %s: %w", to, werr)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("send to %s: helper unresponsive", to)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Address reports the helper's own XMTP address, empty until ready.
func (h *NodeHelper) Address() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.address
}

// Close terminates the helper: SIGTERM to the process group, a short
// grace period, then SIGKILL.
func (h *NodeHelper) Close() error {
	h.mu.Lock()
	cmd := h.cmd
	h.closed = true
	h.cmd = nil
	h.stdin = nil
	h.mu.Unlock()
	if cmd == nil {
		return nil
	}
	if err := killTree(cmd); err != nil {
		return err
	}
	cmd.Wait()
	return nil
}

// killTree signals the helper's process group, escalating after the
// grace period.
func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid := -cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}
	time.Sleep(killGrace)
	syscall.Kill(pgid, syscall.SIGKILL)
	return nil
}
