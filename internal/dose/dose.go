// Package dose implements the four-channel affective state engine.
//
// Channels (each clamped to [0,1]):
//
//	D dopamine: exploration / novelty bias
//	O oxytocin: attachment / operator orientation
//	S serotonin: steadiness
//	E endorphins: resilience / energy
//
// Two mutation paths exist: Tick (decay toward baseline, driven by the
// heartbeat) and ApplyEvent (bounded impulses, driven by the bus
// subscriber). Both serialize on one mutex so they never interleave.
package dose

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Per-channel half-life for decay toward baseline.
const (
	tauD = 90 * time.Minute
	tauO = 240 * time.Minute
	tauS = 180 * time.Minute
	tauE = 120 * time.Minute
)

// maxTickStep caps a single tick's movement per channel so long offline
// gaps cannot produce catastrophic catch-up jumps.
const maxTickStep = 0.25

// appliedFlag marks event metadata once an impulse has been folded in, so
// the bus subscriber and direct callers cannot double-apply.
const appliedFlag = "dose_applied"

// State is the serializable affective snapshot (state/dose.json).
type State struct {
	D float64 `json:"d"`
	O float64 `json:"o"`
	S float64 `json:"s"`
	E float64 `json:"e"`

	BaselineD float64 `json:"baseline_d"`
	BaselineO float64 `json:"baseline_o"`
	BaselineS float64 `json:"baseline_s"`
	BaselineE float64 `json:"baseline_e"`

	LastUpdatedTS int64 `json:"last_updated_ts"`
}

// Engine owns the mutable DOSE state.
type Engine struct {
	mu    sync.Mutex
	state State
	label string
}

// NeutralBaseline is the resting point before any life-stage
// multipliers are applied.
const NeutralBaseline = 0.5

// NewEngine starts from the given state; zero baselines are replaced with
// the neutral default.
func NewEngine(initial State) *Engine {
	st := initial
	for _, b := range []*float64{&st.BaselineD, &st.BaselineO, &st.BaselineS, &st.BaselineE} {
		if *b == 0 {
			*b = NeutralBaseline
		}
	}
	st.D = clamp01(orDefault(st.D, st.BaselineD))
	st.O = clamp01(orDefault(st.O, st.BaselineO))
	st.S = clamp01(orDefault(st.S, st.BaselineS))
	st.E = clamp01(orDefault(st.E, st.BaselineE))

	e := &Engine{state: st}
	e.label = deriveLabel(e.state)
	return e
}

// Tick pulls each channel toward its baseline:
//
//	x <- clamp01(x + (baseline - x) * min(dt/tau, maxTickStep))
//
// Returns the label after the tick.
func (e *Engine) Tick(now time.Time, dt time.Duration) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if dt < 0 {
		dt = 0
	}
	decay := func(x, baseline float64, tau time.Duration) float64 {
		step := math.Min(dt.Seconds()/tau.Seconds(), maxTickStep)
		return clamp01(x + (baseline-x)*step)
	}
	e.state.D = decay(e.state.D, e.state.BaselineD, tauD)
	e.state.O = decay(e.state.O, e.state.BaselineO, tauO)
	e.state.S = decay(e.state.S, e.state.BaselineS, tauS)
	e.state.E = decay(e.state.E, e.state.BaselineE, tauE)
	e.state.LastUpdatedTS = now.Unix()

	e.label = deriveLabel(e.state)
	return e.label
}

// ApplyEvent folds one event into the state via the impulse table. The
// metadata map, when non-nil, is marked with an idempotency flag; a second
// call with the same map is a no-op. Returns the label after application.
func (e *Engine) ApplyEvent(evType, severity, source, message string, metadata map[string]any) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if metadata != nil {
		if done, ok := metadata[appliedFlag].(bool); ok && done {
			return e.label
		}
		metadata[appliedFlag] = true
	}

	imp := impulseFor(evType, severity, source)
	e.state.D = clamp01(e.state.D + imp.d)
	e.state.O = clamp01(e.state.O + imp.o)
	e.state.S = clamp01(e.state.S + imp.s)
	e.state.E = clamp01(e.state.E + imp.e)
	e.state.LastUpdatedTS = time.Now().Unix()

	e.label = deriveLabel(e.state)
	return e.label
}

// SetBaselines swaps the decay targets, used on life-stage change. The
// channels themselves are untouched; they drift to the new targets via Tick.
func (e *Engine) SetBaselines(d, o, s, en float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.BaselineD = clamp01(d)
	e.state.BaselineO = clamp01(o)
	e.state.BaselineS = clamp01(s)
	e.state.BaselineE = clamp01(en)
}

// SetChannel pins one channel to a value, clamped. Used by the
// operator-facing dose command; normal mutation goes through Tick and
// ApplyEvent.
func (e *Engine) SetChannel(name string, v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch name {
	case "d":
		e.state.D = clamp01(v)
	case "o":
		e.state.O = clamp01(v)
	case "s":
		e.state.S = clamp01(v)
	case "e":
		e.state.E = clamp01(v)
	default:
		return fmt.Errorf("unknown dose channel %q", name)
	}
	e.state.LastUpdatedTS = time.Now().Unix()
	e.label = deriveLabel(e.state)
	return nil
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Label returns the current derived mode label.
func (e *Engine) Label() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.label
}

// Stability exposes the serotonin channel for triage heuristics.
func (e *Engine) Stability() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.S
}

// deriveLabel maps the four channels to a mode through a fixed threshold
// lattice, checked top to bottom:
//
//	stressed  S < 0.35
//	tired     E < 0.30
//	curious   D > 0.70
//	focused   E > 0.70 and S > 0.50
//	calm      S > 0.70 and D < 0.50
//	balanced  otherwise
func deriveLabel(st State) string {
	switch {
	case st.S < 0.35:
		return "stressed"
	case st.E < 0.30:
		return "tired"
	case st.D > 0.70:
		return "curious"
	case st.E > 0.70 && st.S > 0.50:
		return "focused"
	case st.S > 0.70 && st.D < 0.50:
		return "calm"
	default:
		return "balanced"
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func orDefault(x, def float64) float64 {
	if x == 0 {
		return def
	}
	return x
}
