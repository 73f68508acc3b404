// Package stage holds the immutable per-life-stage policy table. The
// runtime swaps the active policy object on an operator-driven stage change;
// policies themselves are never mutated.
package stage

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Name identifies a life stage.
type Name string

const (
	Hatchling Name = "hatchling"
	Child     Name = "child"
	Teen      Name = "teen"
	Adult     Name = "adult"
)

// BaselineMultipliers scale the neutral DOSE baselines per stage.
type BaselineMultipliers struct {
	D, O, S, E float64
}

// Policy is the immutable behavior profile for one stage.
type Policy struct {
	Name  Name
	Title string
	Tone  string

	ExploreInterval   time.Duration
	Type2BudgetPerDay int

	WorldWatchEnabled        bool
	WorldWatchPollMultiplier float64

	RoutinesActive map[string]bool
	Sensors        []string

	DoseBaselines BaselineMultipliers
}

// ExploreIntervalMinutes reports the exploration cadence in whole minutes,
// the unit the status surface uses.
func (p Policy) ExploreIntervalMinutes() int {
	return int(p.ExploreInterval / time.Minute)
}

// HasRoutine reports whether a named routine is active in this stage.
func (p Policy) HasRoutine(name string) bool { return p.RoutinesActive[name] }

var policies = map[Name]Policy{
	Hatchling: {
		Name:                     Hatchling,
		Title:                    "Hatchling",
		Tone:                     "wide-eyed, asks a lot of questions, keeps replies short",
		ExploreInterval:          4 * time.Hour,
		Type2BudgetPerDay:        6,
		WorldWatchEnabled:        false,
		WorldWatchPollMultiplier: 2.0,
		RoutinesActive:           map[string]bool{},
		Sensors:                  []string{"health"},
		DoseBaselines:            BaselineMultipliers{D: 1.2, O: 1.2, S: 0.9, E: 1.0},
	},
	Child: {
		Name:                     Child,
		Title:                    "Child",
		Tone:                     "curious and eager, narrates what it is learning",
		ExploreInterval:          2 * time.Hour,
		Type2BudgetPerDay:        12,
		WorldWatchEnabled:        true,
		WorldWatchPollMultiplier: 1.5,
		RoutinesActive:           map[string]bool{"morning": true},
		Sensors:                  []string{"health", "worldwatch", "notes"},
		DoseBaselines:            BaselineMultipliers{D: 1.3, O: 1.1, S: 1.0, E: 1.1},
	},
	Teen: {
		Name:                     Teen,
		Title:                    "Teen",
		Tone:                     "direct, productivity-aware, a bit opinionated",
		ExploreInterval:          90 * time.Minute,
		Type2BudgetPerDay:        20,
		WorldWatchEnabled:        true,
		WorldWatchPollMultiplier: 1.0,
		RoutinesActive:           map[string]bool{"morning": true, "outcomes": true},
		Sensors:                  []string{"health", "worldwatch", "notes"},
		DoseBaselines:            BaselineMultipliers{D: 1.1, O: 1.0, S: 1.0, E: 1.1},
	},
	Adult: {
		Name:                     Adult,
		Title:                    "Adult",
		Tone:                     "measured, concise, schedules the day deliberately",
		ExploreInterval:          time.Hour,
		Type2BudgetPerDay:        30,
		WorldWatchEnabled:        true,
		WorldWatchPollMultiplier: 1.0,
		RoutinesActive:           map[string]bool{"morning": true, "outcomes": true, "weekly": true},
		Sensors:                  []string{"health", "worldwatch", "notes"},
		DoseBaselines:            BaselineMultipliers{D: 1.0, O: 1.0, S: 1.1, E: 1.0},
	},
}

// Lookup returns the policy for a stage name.
func Lookup(name Name) (Policy, error) {
	p, ok := policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("unknown life stage %q (valid: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Parse normalizes operator input to a stage name.
func Parse(raw string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := policies[n]; !ok {
		return "", fmt.Errorf("unknown life stage %q (valid: %s)", raw, strings.Join(Names(), ", "))
	}
	return n, nil
}

// Names lists the valid stage names in progression order.
func Names() []string {
	order := map[Name]int{Hatchling: 0, Child: 1, Teen: 2, Adult: 3}
	names := make([]string, 0, len(policies))
	for n := range policies {
		names = append(names, string(n))
	}
	sort.Slice(names, func(i, j int) bool { return order[Name(names[i])] < order[Name(names[j])] })
	return names
}

// EffectiveBaselines applies the stage multipliers to a neutral base value,
// clamped to [0,1].
func (p Policy) EffectiveBaselines(base float64) (d, o, s, e float64) {
	c := func(x float64) float64 {
		if x > 1 {
			return 1
		}
		if x < 0 {
			return 0
		}
		return x
	}
	return c(base * p.DoseBaselines.D), c(base * p.DoseBaselines.O), c(base * p.DoseBaselines.S), c(base * p.DoseBaselines.E)
}
