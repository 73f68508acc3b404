// Package session drives the interactive side of the runtime: the boot
// and onboarding state machine, the inference gate, the turn queue, and
// the operator command surface.
package session

import (
	"fmt"
	"sync"
	"time"
)

// State is the session lifecycle position.
type State string

const (
	Booting            State = "BOOTING"
	OnboardingIdentity State = "ONBOARDING_IDENTITY"
	OnboardingRoutines State = "ONBOARDING_ROUTINES"
	AskXMTPHandle      State = "ASK_XMTP_HANDLE"
	PairingOutbound    State = "PAIRING_OUTBOUND"
	Paired             State = "PAIRED"
	Running            State = "RUNNING"
)

// transitions lists the explicit edges. Additionally any non-BOOTING
// state may jump to RUNNING when onboarding completes.
var transitions = map[State][]State{
	Booting:            {OnboardingIdentity, Paired},
	OnboardingIdentity: {OnboardingRoutines},
	OnboardingRoutines: {AskXMTPHandle, Running},
	AskXMTPHandle:      {PairingOutbound, Running},
	PairingOutbound:    {Paired},
	Paired:             {Running},
}

// Machine guards state transitions.
type Machine struct {
	mu    sync.Mutex
	state State
}

func NewMachine() *Machine { return &Machine{state: Booting} }

func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To performs a transition, rejecting edges the lifecycle does not
// allow.
func (m *Machine) To(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == next {
		return nil
	}
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	if next == Running && m.state != Booting {
		m.state = next
		return nil
	}
	return fmt.Errorf("illegal session transition %s -> %s", m.state, next)
}

// Reset forces the machine to a state outside the transition table.
// Only the reimprint path uses it.
func (m *Machine) Reset(next State) {
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
}

// interactive reports whether operator turns in this state count toward
// opening the inference gate.
func interactive(s State) bool { return s != Booting }

// Gate is the latch that permits subprocess LLM calls. Closed at boot;
// opens exactly once, on the first non-empty interactive turn; closes
// only with the process.
type Gate struct {
	mu          sync.Mutex
	open        bool
	openedState State
	openedAt    time.Time
}

// OpenOnce opens the gate if it is closed and the state is interactive.
// Reports whether this call performed the opening.
func (g *Gate) OpenOnce(s State) bool {
	if !interactive(s) {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return false
	}
	g.open = true
	g.openedState = s
	g.openedAt = time.Now()
	return true
}

func (g *Gate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// OpenedIn reports where and when the gate opened (zero values while
// closed).
func (g *Gate) OpenedIn() (State, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openedState, g.openedAt
}
