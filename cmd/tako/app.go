package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"tako/internal/cognition"
	"tako/internal/config"
	"tako/internal/convo"
	"tako/internal/dose"
	"tako/internal/events"
	"tako/internal/git"
	"tako/internal/heartbeat"
	"tako/internal/inference"
	"tako/internal/logging"
	"tako/internal/sensors"
	"tako/internal/session"
	"tako/internal/stage"
	"tako/internal/transport"
	"tako/internal/workspace"
)

// runtime bundles everything a live tako process owns.
type runtime struct {
	paths *workspace.Paths
	cfg   config.Config
	lock  *workspace.Lock
	logs  *logging.Set

	eventLog *events.Log
	bus      *events.Bus
	engine   *dose.Engine
	svc      *inference.Service
	seen     *sensors.SeenStore
	sensors  *sensors.Set
	notes    *sensors.Notes
	triage   *cognition.Triage
	reasoner *cognition.Reasoner
	hb       *heartbeat.Runtime
	trans    transport.Transport
	sess     *session.Session
}

// cadenceProxy and budgetProxy break the construction cycle: the session
// needs them at New time, the real objects exist moments later.
type cadenceProxy struct{ rt *heartbeat.Runtime }

func (c *cadenceProxy) RequestExplore(ctx context.Context, topic string) (string, int, error) {
	if c.rt == nil {
		return "", 0, errors.New("heartbeat not started")
	}
	return c.rt.RequestExplore(ctx, topic)
}

func (c *cadenceProxy) HandleInput(text string) {
	if c.rt != nil {
		c.rt.HandleInput(text)
	}
}

type budgetProxy struct{ r *cognition.Reasoner }

func (b *budgetProxy) BudgetUsed() int {
	if b.r == nil {
		return 0
	}
	return b.r.BudgetUsed()
}

func (b *budgetProxy) ResetBudget() {
	if b.r != nil {
		b.r.ResetBudget()
	}
}

// type2Bridge narrows the inference service to what the reasoner needs.
type type2Bridge struct{ svc *inference.Service }

func (t type2Bridge) Ready() bool { return t.svc.Ready() }

func (t type2Bridge) RunWithFallback(ctx context.Context, prompt string, timeout time.Duration) (string, string, error) {
	res, err := t.svc.Run(ctx, prompt, timeout)
	if err != nil {
		return "", "", err
	}
	return res.Provider, res.Text, nil
}

// openWorkspace resolves paths and performs the startup safety checks
// shared by every subcommand that touches the runtime tree.
func openWorkspace(_ context.Context) (*workspace.Paths, error) {
	start := flagWorkspace
	if start == "" {
		var err error
		start, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}
	paths, err := workspace.Resolve(start)
	if err != nil {
		return nil, err
	}
	if err := paths.Ensure(); err != nil {
		return nil, err
	}
	return paths, nil
}

// buildRuntime assembles the full process: lock, loggers, bus, engine,
// providers, sensors, cognition, heartbeat, transport, session.
func buildRuntime(ctx context.Context) (*runtime, error) {
	paths, err := openWorkspace(ctx)
	if err != nil {
		return nil, err
	}
	if err := workspace.CheckTrackedSecrets(ctx, paths.Root); err != nil {
		return nil, err
	}
	if _, err := workspace.EnsureKeys(paths.KeysFile); err != nil {
		return nil, err
	}
	if err := workspace.EnsureIgnoreEntries(paths.Root); err != nil {
		return nil, err
	}
	lock, err := workspace.Acquire(paths.LockFile)
	if err != nil {
		return nil, err
	}

	logs, err := logging.New(logging.Options{LogsDir: paths.Logs, Verbose: flagVerbose})
	if err != nil {
		lock.Release()
		return nil, err
	}

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		logs.Close()
		lock.Release()
		return nil, err
	}

	r := &runtime{paths: paths, cfg: cfg, lock: lock, logs: logs}
	if err := r.wire(ctx); err != nil {
		r.close()
		return nil, err
	}
	return r, nil
}

func (r *runtime) wire(ctx context.Context) error {
	policyName, err := r.cfg.StageName()
	if err != nil {
		return err
	}
	policy, err := stage.Lookup(policyName)
	if err != nil {
		return err
	}

	eventLog, nextID, err := events.OpenLog(r.paths.EventsFile)
	if err != nil {
		return err
	}
	r.eventLog = eventLog
	r.bus = events.NewBus(eventLog, nextID, r.logs.Runtime)

	doseState, err := dose.Load(r.paths.DoseFile)
	if err != nil {
		r.logs.Runtime.Warn("dose snapshot unreadable, starting fresh", zap.Error(err))
	}
	r.engine = dose.NewEngine(doseState)
	r.engine.SetBaselines(policy.EffectiveBaselines(dose.NeutralBaseline))
	if err := dose.Save(r.paths.DoseFile, r.engine.Snapshot()); err != nil {
		r.logs.Runtime.Warn("boot dose snapshot failed", zap.Error(err))
	}

	r.svc = inference.NewService(inference.NewBridge(inference.Options{
		WorkspaceTmp: r.paths.Tmp,
		NodeDir:      r.paths.Root,
		SettingsPath: r.paths.InferenceSettingsFile,
		SnapshotPath: r.paths.InferenceFile,
		Logger:       r.logs.Runtime,
		NotifyFailure: func(provider, summary string) {
			r.bus.Publish("inference.provider.failed", summary,
				events.SeverityWarn, "inference", map[string]any{"provider": provider})
		},
	}))
	if err := r.svc.Refresh(); err != nil {
		r.logs.Runtime.Warn("provider discovery failed", zap.Error(err))
	}

	r.seen, err = sensors.OpenSeenStore(r.paths.SensorsDB)
	if err != nil {
		return err
	}
	r.sensors = sensors.NewSet(r.logs.Runtime, r.sensorsFor(policy)...)

	r.triage = cognition.NewTriage(r.bus, r.engine.Stability, r.logs.Runtime)

	if r.cfg.XMTP.Enabled {
		r.trans = transport.NewNodeHelper(
			"xmtp-helper.js", r.paths.XMTPData, r.paths.KeysFile, r.logs.Runtime)
	} else {
		r.trans = transport.NewNull()
	}

	cadence := &cadenceProxy{}
	budget := &budgetProxy{}
	checker := &releaseChecker{current: version}
	sess, err := session.New(session.Options{
		Config:        r.cfg,
		Paths:         r.paths,
		Publisher:     r.bus,
		Inference:     r.svc,
		Cadence:       cadence,
		Budget:        budget,
		Dose:          r.engine,
		Convo:         convo.NewStore(r.paths.Conversations, convo.DefaultCaps),
		Transport:     r.trans,
		Update:        checker,
		Logger:        r.logs.App,
		RotateLog:     r.bus.RotateLog,
		ReseedSensors: func(p stage.Policy) { r.sensors.Replace(r.sensorsFor(p)...) },
		Version:       version,
	})
	if err != nil {
		return err
	}
	r.sess = sess

	r.reasoner = cognition.NewReasoner(cognition.ReasonerOptions{
		Tasks:     r.triage.Tasks(),
		Publisher: r.bus,
		Inference: type2Bridge{svc: r.svc},
		GateOpen:  sess.GateOpen,
		DoseLabel: r.engine.Label,
		BudgetCap: func() int { return sess.Policy().Type2BudgetPerDay },
		Paths:     r.paths,
		Logger:    r.logs.Runtime,
	})
	budget.r = r.reasoner

	r.hb = heartbeat.New(heartbeat.Options{
		Paths:         r.paths,
		Publisher:     r.bus,
		Dose:          r.engine,
		Sensors:       r.sensors,
		Committer:     git.NewAutoCommitter(r.paths.Root, r.logs.Runtime),
		OpenLoops:     sess.Loops(),
		Explore:       r.explore,
		Updates:       hbUpdate{rc: checker},
		Policy:        sess.Policy,
		Interval:      time.Duration(r.cfg.Cadence.HeartbeatSeconds) * time.Second,
		SnapshotEvery: r.cfg.Cadence.SnapshotEveryTicks,
		Logger:        r.logs.Runtime,
	})
	cadence.rt = r.hb

	// Delivery order: the DOSE fold sees every event first, triage
	// decides on the post-fold state, open loops indexes last.
	r.bus.Subscribe(events.SubscriberFunc{SubName: "dose", Fn: func(ev events.Event) {
		r.engine.ApplyEvent(ev.Type, string(ev.Severity), ev.Source, ev.Message, ev.Metadata)
	}})
	r.bus.Subscribe(r.triage)
	r.bus.Subscribe(sess.Loops())
	return nil
}

// sensorsFor builds the sensor roster a life stage enables.
func (r *runtime) sensorsFor(policy stage.Policy) []sensors.Sensor {
	var out []sensors.Sensor
	for _, name := range policy.Sensors {
		switch name {
		case "health":
			out = append(out, sensors.NewHealth(r.paths, r.seen))
		case "worldwatch":
			if len(r.cfg.Watch) > 0 {
				out = append(out, sensors.NewWorldWatch(r.cfg.Watch, policy.WorldWatchPollMultiplier, r.seen))
			}
		case "notes":
			if r.notes == nil {
				n, err := sensors.NewNotes(r.logs.Runtime, r.paths.MemoryFile(), r.paths.SoulFile())
				if err != nil {
					r.logs.Runtime.Warn("notes sensor unavailable", zap.Error(err))
					continue
				}
				r.notes = n
			}
			out = append(out, r.notes)
		}
	}
	return out
}

// explore runs one exploration pass over the watchlist right now,
// publishing fresh observations, and reports what it looked at.
func (r *runtime) explore(ctx context.Context, topic string) (string, int, error) {
	if topic == "" {
		topic = "the watchlist"
	}
	if len(r.cfg.Watch) == 0 {
		return topic, 0, nil
	}
	ww := sensors.NewWorldWatch(r.cfg.Watch, 1.0, r.seen)
	evs, err := ww.Poll(ctx)
	if err != nil {
		return "", 0, err
	}
	for _, ev := range evs {
		r.bus.Publish(ev.Type, ev.Message, ev.Severity, ev.Source, ev.Metadata)
	}
	return topic, len(evs), nil
}

// start launches the background tasks and publishes the cold-start
// record set.
func (r *runtime) start(ctx context.Context) {
	r.bus.Publish("reasoning.engine.started", "cognition online",
		events.SeverityInfo, "runtime", map[string]any{"version": version})
	r.bus.Publish("dose.started", "affective engine online: "+r.engine.Label(),
		events.SeverityInfo, "dose", map[string]any{"label": r.engine.Label()})

	summary := "all checks passed"
	if !r.svc.Ready() {
		r.bus.Publish("health.check.issue", "No ready inference provider found",
			events.SeverityWarn, "health", nil)
		summary = "degraded: no inference provider"
	}
	r.bus.Publish("health.check.summary", "startup health: "+summary,
		events.SeverityInfo, "health", nil)

	go r.triage.Run(ctx)
	go r.reasoner.Run(ctx)
	r.hb.Start(ctx)

	if r.cfg.XMTP.Enabled {
		if err := r.trans.Start(ctx); err != nil {
			r.bus.Publish("runtime.crash", "XMTP transport failed to start: "+err.Error(),
				events.SeverityError, "runtime", nil)
		} else {
			go r.pumpInbound(ctx)
		}
	}
	r.sess.Start(ctx)
}

// pumpInbound publishes transport messages as events and routes them
// through the session like local turns.
func (r *runtime) pumpInbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-r.trans.Messages():
			if !ok {
				r.bus.Publish("runtime.crash", "XMTP runtime stream ended",
					events.SeverityError, "runtime", nil)
				return
			}
			r.bus.Publish("xmtp.message", "message from "+msg.From,
				events.SeverityInfo, "xmtp", map[string]any{"from": msg.From})
			from := msg.From
			r.sess.Submit(msg.Text, func(reply session.Reply) {
				if reply.Text == "" {
					return
				}
				sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				defer cancel()
				if err := r.trans.Send(sendCtx, from, reply.Text); err != nil {
					r.logs.Runtime.Warn("xmtp reply failed", zap.Error(err))
				}
			})
		}
	}
}

func (r *runtime) close() {
	if r.hb != nil {
		r.hb.Stop()
	}
	if r.sess != nil {
		r.sess.Stop()
	}
	if r.trans != nil {
		r.trans.Close()
	}
	if r.engine != nil && r.paths != nil {
		if err := dose.Save(r.paths.DoseFile, r.engine.Snapshot()); err != nil && r.logs != nil {
			r.logs.Runtime.Warn("final dose snapshot failed", zap.Error(err))
		}
	}
	if r.notes != nil {
		r.notes.Close()
	}
	if r.seen != nil {
		r.seen.Close()
	}
	if r.eventLog != nil {
		r.eventLog.Close()
	}
	if r.logs != nil {
		r.logs.Close()
	}
	if r.lock != nil {
		r.lock.Release()
	}
}

// completer adapts the session catalogs to readline's interface.
type completer struct{ sess *session.Session }

func (c completer) Do(line []rune, pos int) ([][]rune, int) {
	buffer := string(line[:pos])
	prefix, matches := c.sess.Complete(buffer)
	token := buffer[len(prefix):]
	out := make([][]rune, 0, len(matches))
	for _, m := range matches {
		out = append(out, []rune(strings.TrimPrefix(m, token)))
	}
	return out, len([]rune(token))
}

// runApp is the default subcommand: full runtime plus the terminal UI.
func runApp(ctx context.Context) error {
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rt.start(loopCtx)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          rt.cfg.Name + "> ",
		AutoComplete:    completer{sess: rt.sess},
		InterruptPrompt: "^C",
		EOFPrompt:       "bye",
	})
	if err != nil {
		return fmt.Errorf("terminal setup: %w", err)
	}
	defer rl.Close()

	fmt.Println(rt.sess.Greeting())
	for {
		select {
		case <-ctx.Done():
			return errInterrupted
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			return errInterrupted
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		done := make(chan session.Reply, 1)
		if !rt.sess.Submit(line, func(reply session.Reply) { done <- reply }) {
			fmt.Println(session.Muted("(busy — that one got dropped, try again)"))
			continue
		}
		select {
		case reply := <-done:
			if reply.Text != "" {
				fmt.Println(reply.Text)
			}
			if reply.Quit {
				return nil
			}
		case <-ctx.Done():
			return errInterrupted
		}
	}
}
