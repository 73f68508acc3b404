package dose

import "strings"

// impulse is a bounded per-channel delta contributed by one event.
type impulse struct{ d, o, s, e float64 }

// Severity contributions. Bad news lands on serotonin first, then energy.
var severityImpulses = map[string]impulse{
	"critical": {s: -0.20, e: -0.10},
	"error":    {s: -0.12, e: -0.06},
	"warn":     {s: -0.05},
}

// prefixImpulses is the frozen event-type impulse table. First matching
// prefix wins; severity contributions stack on top.
var prefixImpulses = []struct {
	prefix string
	imp    impulse
}{
	{"explore.", impulse{d: 0.08, e: 0.02}},
	{"world.", impulse{d: 0.06, e: 0.01}},
	{"operator.", impulse{o: 0.10, d: 0.02}},
	{"chat.", impulse{o: 0.08}},
	{"xmtp.message", impulse{o: 0.08, d: 0.02}},
	{"health.check.issue", impulse{s: -0.08}},
	{"task.completed", impulse{e: 0.06, s: 0.03}},
	{"type2.result", impulse{e: 0.04, s: 0.02}},
	{"life.stage", impulse{d: 0.05, o: 0.05}},
	{"runtime.crash", impulse{s: -0.10, e: -0.05}},
}

// operator sources also count as attachment signals regardless of type.
func impulseFor(evType, severity, source string) impulse {
	var total impulse
	if sev, ok := severityImpulses[severity]; ok {
		total = add(total, sev)
	}
	for _, row := range prefixImpulses {
		if strings.HasPrefix(evType, row.prefix) {
			total = add(total, row.imp)
			break
		}
	}
	if source == "operator" {
		total = add(total, impulse{o: 0.05})
	}
	return bound(total)
}

// Per-event per-channel cap. Keeps a single event from swinging a channel
// more than this in either direction.
const maxImpulse = 0.25

func add(a, b impulse) impulse {
	return impulse{d: a.d + b.d, o: a.o + b.o, s: a.s + b.s, e: a.e + b.e}
}

func bound(i impulse) impulse {
	clampStep := func(x float64) float64 {
		if x > maxImpulse {
			return maxImpulse
		}
		if x < -maxImpulse {
			return -maxImpulse
		}
		return x
	}
	return impulse{d: clampStep(i.d), o: clampStep(i.o), s: clampStep(i.s), e: clampStep(i.e)}
}
