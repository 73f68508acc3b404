package dose

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(State{})
	st := e.Snapshot()
	require.Equal(t, 0.5, st.BaselineD)
	require.Equal(t, 0.5, st.D)
	require.Equal(t, "balanced", e.Label())
}

func TestTick_DecaysTowardBaseline(t *testing.T) {
	e := NewEngine(State{D: 0.9, O: 0.5, S: 0.5, E: 0.5})
	e.Tick(time.Now(), 30*time.Minute)
	st := e.Snapshot()
	require.Less(t, st.D, 0.9)
	require.Greater(t, st.D, 0.5)
}

func TestTick_CapsOfflineCatchUp(t *testing.T) {
	e := NewEngine(State{D: 1.0, O: 0.5, S: 0.5, E: 0.5})
	// A week offline must not snap D all the way back to baseline.
	e.Tick(time.Now(), 7*24*time.Hour)
	st := e.Snapshot()
	// max step 0.25: 1.0 + (0.5-1.0)*0.25 = 0.875
	require.InDelta(t, 0.875, st.D, 1e-9)
}

func TestApplyEvent_ClampsToUnitInterval(t *testing.T) {
	e := NewEngine(State{D: 0.5, O: 0.5, S: 0.05, E: 0.05})
	for i := 0; i < 20; i++ {
		e.ApplyEvent("runtime.crash", "critical", "runtime", "boom", nil)
	}
	st := e.Snapshot()
	for _, v := range []float64{st.D, st.O, st.S, st.E} {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 1.0)
	}
	require.Equal(t, "stressed", e.Label())
}

func TestApplyEvent_IdempotentPerMetadata(t *testing.T) {
	e := NewEngine(State{})
	meta := map[string]any{}
	e.ApplyEvent("explore.completed", "info", "heartbeat", "explored", meta)
	after := e.Snapshot()
	e.ApplyEvent("explore.completed", "info", "heartbeat", "explored", meta)
	require.Equal(t, after.D, e.Snapshot().D, "second apply with same metadata must be a no-op")
}

func TestApplyEvent_OperatorRaisesOxytocin(t *testing.T) {
	e := NewEngine(State{})
	before := e.Snapshot().O
	e.ApplyEvent("operator.input", "info", "operator", "hi", nil)
	require.Greater(t, e.Snapshot().O, before)
}

func TestLabelLattice(t *testing.T) {
	cases := []struct {
		st   State
		want string
	}{
		{State{D: 0.5, O: 0.5, S: 0.2, E: 0.5}, "stressed"},
		{State{D: 0.5, O: 0.5, S: 0.5, E: 0.2}, "tired"},
		{State{D: 0.8, O: 0.5, S: 0.5, E: 0.5}, "curious"},
		{State{D: 0.5, O: 0.5, S: 0.6, E: 0.8}, "focused"},
		{State{D: 0.4, O: 0.5, S: 0.8, E: 0.5}, "calm"},
		{State{D: 0.5, O: 0.5, S: 0.5, E: 0.5}, "balanced"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, deriveLabel(tc.st), "state %+v", tc.st)
	}
}

func TestPersist_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dose.json")

	e := NewEngine(State{})
	e.ApplyEvent("explore.completed", "info", "heartbeat", "explored", nil)
	first := e.Snapshot()
	require.NoError(t, Save(path, first))

	loaded, err := Load(path)
	require.NoError(t, err)

	e2 := NewEngine(loaded)
	e2.Tick(time.Unix(loaded.LastUpdatedTS, 0), 0)
	second := e2.Snapshot()

	// tick(0) must not move channels; only the timestamp may differ.
	second.LastUpdatedTS = first.LastUpdatedTS
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("round trip changed state (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.Equal(t, State{}, st)
}
