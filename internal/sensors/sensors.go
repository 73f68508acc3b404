// Package sensors provides the poll-based event producers that feed the
// bus: pluggable probes that watch a source (the web, the workspace, the
// runtime itself) and report anything new as events. Sensors never
// subscribe; the heartbeat drives their cadence.
package sensors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tako/internal/events"
)

// Sensor is a pure producer. Poll returns zero or more event drafts;
// the scheduler fills in source and publishes them.
type Sensor interface {
	Name() string
	Interval() time.Duration
	Poll(ctx context.Context) ([]events.Event, error)
}

// Publisher is the slice of the event bus sensors need.
type Publisher interface {
	Publish(evType, message string, severity events.Severity, source string, metadata map[string]any) events.Event
}

// Set schedules a group of sensors. Each sensor polls on its own
// interval; PollDue is called from the heartbeat tick and only runs the
// sensors whose cadence has elapsed.
type Set struct {
	mu      sync.Mutex
	sensors []Sensor
	last    map[string]time.Time
	logger  *zap.Logger
}

func NewSet(logger *zap.Logger, sensors ...Sensor) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Set{
		sensors: sensors,
		last:    make(map[string]time.Time),
		logger:  logger,
	}
}

// Replace swaps the active sensor list (life-stage change). Poll clocks
// of surviving sensors are preserved so a stage change does not trigger
// an immediate re-poll of everything.
func (s *Set) Replace(sensors ...Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make(map[string]bool, len(sensors))
	for _, sn := range sensors {
		active[sn.Name()] = true
	}
	for name := range s.last {
		if !active[name] {
			delete(s.last, name)
		}
	}
	s.sensors = sensors
}

// Names lists the active sensors in scheduling order.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.sensors))
	for i, sn := range s.sensors {
		names[i] = sn.Name()
	}
	return names
}

// PollDue runs every sensor whose interval has elapsed and publishes
// what it produced. A failing sensor becomes a warn event carrying the
// sensor's name; it never stops the others.
func (s *Set) PollDue(ctx context.Context, now time.Time, pub Publisher) {
	s.mu.Lock()
	due := make([]Sensor, 0, len(s.sensors))
	for _, sn := range s.sensors {
		lastAt, polled := s.last[sn.Name()]
		if !polled || now.Sub(lastAt) >= sn.Interval() {
			s.last[sn.Name()] = now
			due = append(due, sn)
		}
	}
	s.mu.Unlock()

	for _, sn := range due {
		s.pollOne(ctx, sn, pub)
	}
}

func (s *Set) pollOne(ctx context.Context, sn Sensor, pub Publisher) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("sensor panicked", zap.String("sensor", sn.Name()), zap.Any("panic", r))
			pub.Publish("sensor.error", fmt.Sprintf("sensor %s panicked: %v", sn.Name(), r),
				events.SeverityWarn, "sensors", map[string]any{"sensor": sn.Name()})
		}
	}()

	evs, err := sn.Poll(ctx)
	if err != nil {
		s.logger.Warn("sensor poll failed", zap.String("sensor", sn.Name()), zap.Error(err))
		pub.Publish("sensor.error", fmt.Sprintf("sensor %s failed: %v", sn.Name(), err),
			events.SeverityWarn, "sensors", map[string]any{"sensor": sn.Name()})
		return
	}
	for _, ev := range evs {
		source := ev.Source
		if source == "" {
			source = sn.Name()
		}
		pub.Publish(ev.Type, ev.Message, ev.Severity, source, ev.Metadata)
	}
}
