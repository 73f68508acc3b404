package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tako/internal/config"
	"tako/internal/convo"
	"tako/internal/dose"
	"tako/internal/events"
	"tako/internal/inference"
	"tako/internal/workspace"
)

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(evType, message string, severity events.Severity, source string, metadata map[string]any) events.Event {
	ev := events.Event{Type: evType, Message: message, Severity: severity, Source: source, Metadata: metadata}
	p.events = append(p.events, ev)
	return ev
}

func (p *recordingPublisher) types() []string {
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func (p *recordingPublisher) has(evType string) bool {
	for _, ev := range p.events {
		if ev.Type == evType {
			return true
		}
	}
	return false
}

type fakeInference struct {
	ready    bool
	selected string
	reply    string
	runs     int
}

func (f *fakeInference) Refresh() error   { return nil }
func (f *fakeInference) Ready() bool      { return f.ready }
func (f *fakeInference) Selected() string { return f.selected }
func (f *fakeInference) Statuses() []inference.Status {
	return []inference.Status{{Name: f.selected, Ready: f.ready}}
}
func (f *fakeInference) SetKey(string, string) error { return nil }
func (f *fakeInference) SetPreferred(string) error   { return nil }
func (f *fakeInference) Run(context.Context, string, time.Duration) (inference.Result, error) {
	f.runs++
	return inference.Result{Provider: f.selected, Text: f.reply}, nil
}
func (f *fakeInference) Stream(_ context.Context, _ string, _ time.Duration, sink inference.Sink) (inference.Result, error) {
	f.runs++
	if sink != nil {
		sink(inference.KindDelta, f.reply)
	}
	return inference.Result{Provider: f.selected, Text: f.reply}, nil
}

type fakeCadence struct {
	explored []string
	inputs   []string
}

func (f *fakeCadence) RequestExplore(_ context.Context, topic string) (string, int, error) {
	f.explored = append(f.explored, topic)
	return "looked around", 2, nil
}
func (f *fakeCadence) HandleInput(text string) { f.inputs = append(f.inputs, text) }

type fixture struct {
	s   *Session
	pub *recordingPublisher
	inf *fakeInference
	cad *fakeCadence
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	paths := workspace.At(t.TempDir())
	require.NoError(t, paths.Ensure())

	pub := &recordingPublisher{}
	inf := &fakeInference{}
	cad := &fakeCadence{}
	opts := Options{
		Config:    config.Default(),
		Paths:     paths,
		Publisher: pub,
		Inference: inf,
		Cadence:   cad,
		Dose:      dose.NewEngine(dose.State{}),
		Convo:     convo.NewStore(paths.Conversations, convo.Caps{}),
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return &fixture{s: s, pub: pub, inf: inf, cad: cad}
}

func imprint(t *testing.T, paths *workspace.Paths) {
	t.Helper()
	op := Operator{Name: "casey", ImprintedAt: time.Now()}
	require.NoError(t, op.Save(paths.OperatorFile))
}

func runningFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	var paths *workspace.Paths
	f := newFixture(t, func(o *Options) {
		paths = o.Paths
		imprint(t, paths)
		if mutate != nil {
			mutate(o)
		}
	})
	require.Equal(t, Paired, f.s.State())
	require.NoError(t, f.s.machine.To(Running))
	return f
}

func TestNew_NoImprintEntersOnboarding(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, OnboardingIdentity, f.s.State())
	require.Contains(t, f.s.Greeting(), "name me")
}

func TestNew_ImprintEntersPaired(t *testing.T) {
	f := newFixture(t, func(o *Options) { imprint(t, o.Paths) })
	require.Equal(t, Paired, f.s.State())
	require.Contains(t, f.s.Greeting(), "casey")
}

func TestNew_ResumesPersistedConversation(t *testing.T) {
	paths := workspace.At(t.TempDir())
	require.NoError(t, paths.Ensure())
	prior := convo.NewStore(paths.Conversations, convo.Caps{})
	prior.Append("earlier-session", "operator", "we talked about lighthouses")

	f := newFixture(t, func(o *Options) {
		o.Paths = paths
		o.Convo = convo.NewStore(paths.Conversations, convo.Caps{})
	})

	h := f.s.convo.History(f.s.sessionKey)
	require.Len(t, h, 1)
	require.Equal(t, "we talked about lighthouses", h[0].Text)
}

func TestOnboarding_FullLocalPath(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	reply := f.s.Route(ctx, "Tako")
	require.False(t, reply.IsErr)
	require.Equal(t, OnboardingRoutines, f.s.State())

	reply = f.s.Route(ctx, "maybe")
	require.True(t, reply.IsErr, "routines answer must be yes/no")

	reply = f.s.Route(ctx, "yes")
	require.False(t, reply.IsErr)
	require.Equal(t, Running, f.s.State(), "collect_handle off skips the XMTP step")

	op, err := LoadOperator(f.s.paths.OperatorFile)
	require.NoError(t, err)
	require.Equal(t, "Tako", op.Name)
	require.True(t, f.pub.has("session.imprinted"))

	cfg, err := config.Load(f.s.paths.ConfigFile)
	require.NoError(t, err)
	require.True(t, cfg.Routines.Morning)
}

func TestOnboarding_XMTPSkipGoesLocal(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.XMTP.CollectHandle = true })
	ctx := context.Background()

	f.s.Route(ctx, "Tako")
	f.s.Route(ctx, "no")
	require.Equal(t, AskXMTPHandle, f.s.State())

	reply := f.s.Route(ctx, "skip")
	require.False(t, reply.IsErr)
	require.Equal(t, Running, f.s.State())
}

func TestGate_OpensOnFirstTurn(t *testing.T) {
	f := newFixture(t, nil)
	require.False(t, f.s.GateOpen())
	f.s.Route(context.Background(), "Tako")
	require.True(t, f.s.GateOpen())
	require.True(t, f.pub.has("session.gate.opened"))
}

func TestRoute_EmptyTurnDoesNothing(t *testing.T) {
	f := newFixture(t, nil)
	reply := f.s.Route(context.Background(), "   \x1b[2J ")
	require.Empty(t, reply.Text)
	require.False(t, f.s.GateOpen(), "whitespace must not open the gate")
}

func TestRoute_ChatRecordsBothSides(t *testing.T) {
	f := runningFixture(t, nil)
	f.inf.ready = true
	f.inf.selected = "codex"
	f.inf.reply = "hello there"

	reply := f.s.Route(context.Background(), "how are you feeling?")
	require.Equal(t, "hello there", reply.Text)
	require.Equal(t, 1, f.inf.runs)
	require.Equal(t, []string{"how are you feeling?"}, f.cad.inputs)

	history := f.s.convo.History(f.s.sessionKey)
	require.Len(t, history, 2)
	require.Equal(t, "operator", history[0].Role)
	require.Equal(t, "tako", history[1].Role)
}

func TestRoute_ChatWithoutProviderIsFriendly(t *testing.T) {
	f := runningFixture(t, nil)
	reply := f.s.Route(context.Background(), "anything on your mind?")
	require.False(t, reply.IsErr)
	require.Contains(t, reply.Text, "inference refresh")
	require.Zero(t, f.inf.runs)
}

func TestParseCommand_Forms(t *testing.T) {
	f := runningFixture(t, nil)
	for _, text := range []string{"/status", "takobot status", "tako status", "status"} {
		name, _, ok := f.s.parseCommand(text)
		require.True(t, ok, text)
		require.Equal(t, "status", name, text)
	}

	// run is not in the plain whitelist: bare use falls through to chat.
	_, _, ok := f.s.parseCommand("run ls")
	require.False(t, ok)
	name, args, ok := f.s.parseCommand("/run ls")
	require.True(t, ok)
	require.Equal(t, "run", name)
	require.Equal(t, []string{"ls"}, args)
}

func TestDispatch_UnknownCommandIsFriendly(t *testing.T) {
	f := runningFixture(t, nil)
	reply := f.s.Route(context.Background(), "/frobnicate")
	require.True(t, reply.IsErr)
	require.Contains(t, reply.Text, "help")
}

func TestCommands_TaskLifecycle(t *testing.T) {
	f := runningFixture(t, nil)
	ctx := context.Background()

	reply := f.s.Route(ctx, "task water the plants")
	require.False(t, reply.IsErr)

	tasks := f.s.tasks.List(true)
	require.Len(t, tasks, 1)

	reply = f.s.Route(ctx, "done "+tasks[0].ID)
	require.False(t, reply.IsErr)
	require.Zero(t, f.s.tasks.OpenCount())
	require.True(t, f.pub.has("task.completed"))
}

func TestCommands_MorningFlowSetsOutcomes(t *testing.T) {
	f := runningFixture(t, nil)
	ctx := context.Background()

	reply := f.s.Route(ctx, "morning")
	require.Contains(t, reply.Text, "outcomes")

	f.s.Route(ctx, "ship the report")
	f.s.Route(ctx, "inbox zero")
	reply = f.s.Route(ctx, "done")
	require.Contains(t, reply.Text, "ship the report")

	items := f.s.outcomes.Today(time.Now())
	require.Len(t, items, 2)

	// Flow released: the next turn routes normally again.
	reply = f.s.Route(ctx, "outcomes done 1")
	require.False(t, reply.IsErr)
	require.True(t, f.s.outcomes.Today(time.Now())[0].Done)
}

func TestCommands_StageSet(t *testing.T) {
	f := runningFixture(t, nil)
	reply := f.s.Route(context.Background(), "stage set teen")
	require.False(t, reply.IsErr)

	require.Equal(t, "teen", f.s.Config().Stage)
	require.Equal(t, 20, f.s.Policy().Type2BudgetPerDay)
	require.True(t, f.pub.has("life.stage.changed"))

	cfg, err := config.Load(f.s.paths.ConfigFile)
	require.NoError(t, err)
	require.Equal(t, "teen", cfg.Stage)

	reply = f.s.Route(context.Background(), "stage set teen")
	require.True(t, reply.IsErr, "same-stage set is rejected")
	reply = f.s.Route(context.Background(), "stage set larva")
	require.True(t, reply.IsErr)
}

func TestCommands_DoseChannelAndLattice(t *testing.T) {
	f := runningFixture(t, nil)
	ctx := context.Background()

	reply := f.s.Route(ctx, "dose d 0.9")
	require.False(t, reply.IsErr)
	require.Contains(t, reply.Text, "curious")

	reply = f.s.Route(ctx, "dose x 0.5")
	require.True(t, reply.IsErr)
	reply = f.s.Route(ctx, "dose d 1.5")
	require.True(t, reply.IsErr)
}

func TestCommands_ExploreDelegatesToCadence(t *testing.T) {
	f := runningFixture(t, nil)
	reply := f.s.Route(context.Background(), "explore rust compilers")
	require.False(t, reply.IsErr)
	require.Contains(t, reply.Text, "looked around")
	require.Equal(t, []string{"rust compilers"}, f.cad.explored)
}

func TestCommands_SafeModeBlocksRunAndWeb(t *testing.T) {
	f := runningFixture(t, nil)
	ctx := context.Background()

	f.s.Route(ctx, "/safe on")
	require.True(t, f.s.Config().SafeMode)

	reply := f.s.Route(ctx, "/run ls")
	require.True(t, reply.IsErr)
	reply = f.s.Route(ctx, "/web https://example.com")
	require.True(t, reply.IsErr)

	f.s.Route(ctx, "/safe off")
	require.False(t, f.s.Config().SafeMode)
}

func TestCommands_RunExecutesArgv(t *testing.T) {
	f := runningFixture(t, nil)
	reply := f.s.Route(context.Background(), "/run echo hi there")
	require.False(t, reply.IsErr)
	require.Equal(t, "hi there", reply.Text)
}

func TestCommands_InstallQuarantineLifecycle(t *testing.T) {
	f := runningFixture(t, nil)
	ctx := context.Background()

	reply := f.s.Route(ctx, "/install skill https://example.com/skills/summarize.git")
	require.False(t, reply.IsErr)
	require.Contains(t, reply.Text, "Quarantined")

	exts := f.s.exts.List()
	require.Len(t, exts, 1)
	require.Equal(t, ExtPending, exts[0].Status)

	reply = f.s.Route(ctx, "/enable skill summarize")
	require.True(t, reply.IsErr, "pending extensions cannot be enabled")

	f.s.Route(ctx, "/install accept "+exts[0].ID)
	reply = f.s.Route(ctx, "/enable skill summarize")
	require.False(t, reply.IsErr)
	require.Equal(t, ExtEnabled, f.s.exts.List()[0].Status)
}

func TestCommands_ReimprintRequiresConfirm(t *testing.T) {
	f := runningFixture(t, nil)
	ctx := context.Background()

	reply := f.s.Route(ctx, "/reimprint")
	require.True(t, reply.IsErr)
	require.Equal(t, Running, f.s.State())

	reply = f.s.Route(ctx, "/reimprint CONFIRM")
	require.False(t, reply.IsErr)
	require.Equal(t, OnboardingIdentity, f.s.State())
	_, err := os.Stat(f.s.paths.OperatorFile)
	require.True(t, os.IsNotExist(err))
}

func TestCommands_CompressRotatesLog(t *testing.T) {
	var archived string
	f := runningFixture(t, func(o *Options) {
		o.RotateLog = func(path string) error {
			archived = path
			return os.WriteFile(path, nil, 0o644)
		}
	})
	reply := f.s.Route(context.Background(), "compress")
	require.False(t, reply.IsErr)
	require.NotEmpty(t, archived)
	require.Contains(t, filepath.Base(archived), "events-")
}

func TestCommands_MissionEditsFrontmatter(t *testing.T) {
	f := runningFixture(t, nil)
	ctx := context.Background()
	memPath := f.s.paths.MemoryFile()
	require.NoError(t, os.WriteFile(memPath, []byte("---\nname: tako\n---\nbody\n"), 0o644))

	f.s.Route(ctx, "mission set keep the garden alive")
	reply := f.s.Route(ctx, "mission show")
	require.Contains(t, reply.Text, "keep the garden alive")

	f.s.Route(ctx, "mission add water on fridays")
	reply = f.s.Route(ctx, "mission show")
	require.Contains(t, reply.Text, "; water on fridays")

	f.s.Route(ctx, "mission clear")
	reply = f.s.Route(ctx, "mission show")
	require.Contains(t, reply.Text, "No mission")
}

func TestCommands_Quit(t *testing.T) {
	f := runningFixture(t, nil)
	reply := f.s.Route(context.Background(), "quit")
	require.True(t, reply.Quit)
}

func TestWorker_ProcessesQueuedTurns(t *testing.T) {
	f := runningFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.s.Start(ctx)

	got := make(chan Reply, 1)
	require.True(t, f.s.Submit("status", func(r Reply) { got <- r }))
	select {
	case r := <-got:
		require.Contains(t, r.Text, "mood")
	case <-time.After(2 * time.Second):
		t.Fatal("worker never replied")
	}
	f.s.Stop()
}

func TestSubmit_AfterStopIsRejectedNotPanic(t *testing.T) {
	f := runningFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.s.Start(ctx)
	f.s.Stop()

	// Late transport deliveries race shutdown; they must be dropped.
	require.False(t, f.s.Submit("status", func(Reply) {}))
	f.s.Stop() // repeated stop is a no-op
}

func TestComplete_SlashAndPlainCatalogs(t *testing.T) {
	f := runningFixture(t, nil)

	_, matches := f.s.Complete("/sta")
	require.Equal(t, []string{"/stage", "/stats", "/status"}, matches)

	_, matches = f.s.Complete("sta")
	require.Equal(t, []string{"stage", "stats", "status"}, matches)

	// web is slash-only.
	_, matches = f.s.Complete("we")
	require.Equal(t, []string{"weekly"}, matches)

	// Bare tokens mid-line complete against nothing.
	prefix, matches := f.s.Complete("task buy mi")
	require.Equal(t, "task buy ", prefix)
	require.Empty(t, matches)
}

func TestCompleter_TabRotation(t *testing.T) {
	f := runningFixture(t, nil)
	c := NewCompleter(f.s)

	first, matches, ok := c.Tab("/sta")
	require.True(t, ok)
	require.Len(t, matches, 3)
	require.Equal(t, "/stage", first)

	second, _, _ := c.Tab(first)
	require.Equal(t, "/stats", second)
	third, _, _ := c.Tab(second)
	require.Equal(t, "/status", third)
	again, _, _ := c.Tab(third)
	require.Equal(t, "/stage", again, "rotation wraps")

	// An edit resets the rotation.
	fresh, _, ok := c.Tab("/he")
	require.True(t, ok)
	require.Equal(t, "/health", fresh)
}
