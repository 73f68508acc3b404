package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tako/internal/config"
	"tako/internal/convo"
	"tako/internal/dose"
	"tako/internal/events"
	"tako/internal/inference"
	"tako/internal/notes"
	"tako/internal/stage"
	"tako/internal/web"
	"tako/internal/workspace"
)

const chatTimeout = 85 * time.Second

// Publisher is the slice of the event bus the session needs.
type Publisher interface {
	Publish(evType, message string, severity events.Severity, source string, metadata map[string]any) events.Event
}

// Inference is the provider surface the session consumes.
type Inference interface {
	Refresh() error
	Ready() bool
	Selected() string
	Statuses() []inference.Status
	SetKey(envVar, secret string) error
	SetPreferred(name string) error
	Run(ctx context.Context, prompt string, timeout time.Duration) (inference.Result, error)
	Stream(ctx context.Context, prompt string, timeout time.Duration, sink inference.Sink) (inference.Result, error)
}

// Cadence is the heartbeat surface the session consumes.
type Cadence interface {
	RequestExplore(ctx context.Context, topic string) (string, int, error)
	HandleInput(text string)
}

// BudgetView exposes Type2 budget state for status and stage changes.
type BudgetView interface {
	BudgetUsed() int
	ResetBudget()
}

// Transport is the message-transport boundary the session sends
// through.
type Transport interface {
	Send(ctx context.Context, to, message string) error
	Address() string
}

// UpdateChecker answers `update check`.
type UpdateChecker interface {
	Check(ctx context.Context) (version string, available bool, err error)
}

// Options wires a Session.
type Options struct {
	Config    config.Config
	Paths     *workspace.Paths
	Publisher Publisher
	Inference Inference
	Cadence   Cadence
	Budget    BudgetView
	Dose      *dose.Engine
	Convo     *convo.Store
	Transport Transport
	Update    UpdateChecker
	Logger    *zap.Logger
	// RotateLog archives the event log for the compress command.
	RotateLog func(archivePath string) error
	// ReseedSensors swaps the active sensor set on a stage change.
	ReseedSensors func(stage.Policy)
	// Version is shown by status and update commands.
	Version string
}

// Session owns the interactive lifecycle: state machine, gate, turn
// queue, command dispatch, and chat.
type Session struct {
	paths   *workspace.Paths
	pub     Publisher
	inf     Inference
	cadence Cadence
	budget  BudgetView
	dose    *dose.Engine
	convo   *convo.Store
	trans   Transport
	update  UpdateChecker
	web     *web.Fetcher
	log     *zap.Logger
	version string
	reseed  func(stage.Policy)
	rotate  func(string) error

	machine *Machine
	gate    *Gate

	cfgMu  sync.Mutex
	cfg    config.Config
	policy stage.Policy

	operator *Operator

	tasks    *TaskStore
	outcomes *OutcomeStore
	exts     *ExtensionStore
	loops    *LoopComputer

	cmds commandSet

	flowMu sync.Mutex
	flow   Flow

	sessionKey string

	queueMu     sync.Mutex
	queueClosed bool
	queue       chan queuedTurn
	wg          sync.WaitGroup

	// pendingHandle carries the XMTP handle between onboarding steps.
	pendingHandle string
}

type queuedTurn struct {
	text  string
	reply func(Reply)
}

// New builds a session and determines the boot transition from the
// operator imprint.
func New(opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policyName, err := opts.Config.StageName()
	if err != nil {
		return nil, err
	}
	policy, err := stage.Lookup(policyName)
	if err != nil {
		return nil, err
	}

	tasks, err := OpenTaskStore(opts.Paths.TasksFile)
	if err != nil {
		return nil, err
	}
	outcomes, err := OpenOutcomeStore(opts.Paths.OutcomesFile)
	if err != nil {
		return nil, err
	}
	exts, err := OpenExtensionStore(opts.Paths.ExtensionsFile)
	if err != nil {
		return nil, err
	}
	operator, err := LoadOperator(opts.Paths.OperatorFile)
	if err != nil {
		return nil, err
	}

	s := &Session{
		paths:      opts.Paths,
		pub:        opts.Publisher,
		inf:        opts.Inference,
		cadence:    opts.Cadence,
		budget:     opts.Budget,
		dose:       opts.Dose,
		convo:      opts.Convo,
		trans:      opts.Transport,
		update:     opts.Update,
		web:        web.NewFetcher(),
		log:        logger,
		version:    opts.Version,
		reseed:     opts.ReseedSensors,
		rotate:     opts.RotateLog,
		machine:    NewMachine(),
		gate:       &Gate{},
		cfg:        opts.Config,
		policy:     policy,
		operator:   operator,
		tasks:      tasks,
		outcomes:   outcomes,
		exts:       exts,
		loops:      NewLoopComputer(opts.Paths.OpenLoopsFile, tasks, outcomes),
		sessionKey: uuid.NewString(),
		queue:      make(chan queuedTurn, 32),
	}
	s.cmds = s.buildCommands()
	if s.convo != nil {
		s.convo.ResumeLatest(s.sessionKey)
	}

	if operator != nil {
		if err := s.machine.To(Paired); err != nil {
			return nil, err
		}
	} else {
		if err := s.machine.To(OnboardingIdentity); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Loops exposes the open-loops computer for bus subscription and
// heartbeat wiring.
func (s *Session) Loops() *LoopComputer { return s.loops }

// State reports the current lifecycle position.
func (s *Session) State() State { return s.machine.Current() }

// GateOpen reports the inference gate, consumed read-only by Type2.
func (s *Session) GateOpen() bool { return s.gate.Open() }

// Config returns the immutable-within-a-run config snapshot.
func (s *Session) Config() config.Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg
}

// Policy returns the active life-stage policy.
func (s *Session) Policy() stage.Policy {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.policy
}

// Greeting is the opening line the UI shows for the current state.
func (s *Session) Greeting() string {
	switch s.machine.Current() {
	case OnboardingIdentity:
		return "Hello! I'm new here. What would you like to name me?"
	case Paired, Running:
		name := s.Config().Name
		if s.operator != nil {
			return "Welcome back, " + s.operator.Name + ". " + name + " is listening."
		}
		return name + " is listening."
	default:
		return "Booting..."
	}
}

// Start launches the turn worker. PAIRED sessions move to RUNNING after
// the background transport start attempt.
func (s *Session) Start(ctx context.Context) {
	if s.machine.Current() == Paired {
		// The transport start attempt is best-effort; locals run fine
		// without it.
		if err := s.machine.To(Running); err != nil {
			s.log.Warn("session transition failed", zap.Error(err))
		}
	}
	s.wg.Add(1)
	go s.worker(ctx)
}

// Stop drains the worker. Pending turns are abandoned. Safe to call
// more than once.
func (s *Session) Stop() {
	s.queueMu.Lock()
	if !s.queueClosed {
		s.queueClosed = true
		close(s.queue)
	}
	s.queueMu.Unlock()
	s.wg.Wait()
}

// Submit enqueues one operator turn; reply is invoked from the worker
// goroutine. Returns false when the queue is full or the session is
// stopping, so late inbound transport messages never hit a closed
// channel.
func (s *Session) Submit(text string, reply func(Reply)) bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.queueClosed {
		return false
	}
	select {
	case s.queue <- queuedTurn{text: text, reply: reply}:
		return true
	default:
		return false
	}
}

// QueueDepth reports waiting turns for the UI.
func (s *Session) QueueDepth() int { return len(s.queue) }

// mutateConfig applies fn to a copy of the config, saves it atomically,
// and swaps the in-memory snapshot on success.
func (s *Session) mutateConfig(fn func(*config.Config)) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	next := s.cfg
	fn(&next)
	if err := next.Save(s.paths.ConfigFile); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// changeStage validates and applies a life-stage transition: config
// save, policy swap, DOSE baseline re-center, sensor reseed, Type2
// budget reset, one life.stage.changed event, and a daily-note line.
func (s *Session) changeStage(raw string) error {
	name, err := stage.Parse(raw)
	if err != nil {
		return err
	}
	policy, err := stage.Lookup(name)
	if err != nil {
		return err
	}

	s.cfgMu.Lock()
	prev := s.cfg.Stage
	if prev == string(name) {
		s.cfgMu.Unlock()
		return fmt.Errorf("already in stage %q", name)
	}
	next := s.cfg.WithStage(name)
	if err := next.Save(s.paths.ConfigFile); err != nil {
		s.cfgMu.Unlock()
		return err
	}
	s.cfg = next
	s.policy = policy
	s.cfgMu.Unlock()

	s.dose.SetBaselines(policy.EffectiveBaselines(dose.NeutralBaseline))
	if s.reseed != nil {
		s.reseed(policy)
	}
	if s.budget != nil {
		s.budget.ResetBudget()
	}
	s.pub.Publish("life.stage.changed", fmt.Sprintf("life stage changed %s -> %s", prev, name),
		events.SeverityInfo, "session", map[string]any{"from": prev, "to": string(name)})
	if err := notes.AppendDailyNote(s.paths, time.Now(),
		fmt.Sprintf("life stage changed %s -> %s", prev, name)); err != nil {
		s.log.Warn("daily note append failed", zap.Error(err))
	}
	return nil
}

// worker processes turns one at a time; turns never overlap.
func (s *Session) worker(ctx context.Context) {
	defer s.wg.Done()
	for turn := range s.queue {
		select {
		case <-ctx.Done():
			return
		default:
		}
		reply := s.Route(ctx, turn.text)
		if turn.reply != nil {
			turn.reply(reply)
		}
	}
}
