package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"tako/internal/config"
	"tako/internal/events"
	"tako/internal/inference"
	"tako/internal/notes"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Sanitize strips ANSI escapes and control characters from operator
// input and collapses runs of whitespace. Pasted terminal junk never
// reaches command parsing or prompts.
func Sanitize(text string) string {
	text = ansiEscape.ReplaceAllString(text, "")
	var b strings.Builder
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(' ')
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Route handles one operator turn. Order: active flow, onboarding,
// command, chat. The first non-empty interactive turn opens the
// inference gate for the rest of the run.
func (s *Session) Route(ctx context.Context, raw string) Reply {
	text := Sanitize(raw)
	if text == "" {
		return Reply{}
	}

	state := s.machine.Current()
	if s.gate.OpenOnce(state) {
		s.pub.Publish("session.gate.opened", "operator interaction opened the inference gate",
			events.SeverityInfo, "session", map[string]any{"state": string(state)})
	}

	if fl := s.activeFlow(); fl != nil {
		reply, done := fl.Feed(ctx, text)
		if done {
			s.setFlow(nil)
		}
		return reply
	}

	if interactive(state) && state != Running && state != Paired {
		return s.onboard(state, text)
	}

	if name, args, ok := s.parseCommand(text); ok {
		return s.dispatch(ctx, name, args)
	}

	s.cadence.HandleInput(text)
	return s.chat(ctx, text)
}

func (s *Session) activeFlow() Flow {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	return s.flow
}

func (s *Session) setFlow(f Flow) {
	s.flowMu.Lock()
	s.flow = f
	s.flowMu.Unlock()
}

// startFlow installs f and returns its opening prompt.
func (s *Session) startFlow(f Flow) Reply {
	s.setFlow(f)
	return textReply(f.Prompt())
}

// parseCommand decides whether text addresses the command surface.
// Commands are a "/" prefix, a "takobot "/"tako " address, or a bare
// first word from the plain catalog.
func (s *Session) parseCommand(text string) (name string, args []string, ok bool) {
	body := text
	switch {
	case strings.HasPrefix(text, "/"):
		body = strings.TrimPrefix(text, "/")
	case strings.HasPrefix(strings.ToLower(text), "takobot "):
		body = text[len("takobot "):]
	case strings.HasPrefix(strings.ToLower(text), "tako "):
		body = text[len("tako "):]
	default:
		fields := strings.Fields(text)
		if len(fields) == 0 {
			return "", nil, false
		}
		first := strings.ToLower(fields[0])
		if _, known := s.cmds.plain[first]; !known {
			return "", nil, false
		}
		return first, fields[1:], true
	}
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// chat runs one freeform turn through the inference bridge, recording
// both sides in the conversation store.
func (s *Session) chat(ctx context.Context, text string) Reply {
	s.convo.Append(s.sessionKey, "operator", text)

	if !s.inf.Ready() {
		return textReply("No inference provider is ready. Try `inference refresh`, or set a key with `inference key set <PROVIDER_ENV> <value>`.")
	}

	prompt := s.chatPrompt(text)
	var streamed strings.Builder
	res, err := s.inf.Stream(ctx, prompt, chatTimeout, func(kind, payload string) {
		if kind == inference.KindDelta {
			streamed.WriteString(payload)
		}
	})
	if err != nil {
		s.log.Warn("chat turn failed", zap.Error(err))
		return errReply("inference failed: " + err.Error())
	}
	answer := strings.TrimSpace(res.Text)
	if answer == "" {
		answer = strings.TrimSpace(streamed.String())
	}
	s.convo.Append(s.sessionKey, "tako", answer)
	return textReply(answer)
}

// chatPrompt assembles identity, mood, memory, recall, and recent
// conversation around the operator's message.
func (s *Session) chatPrompt(text string) string {
	cfg := s.Config()
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a small workspace companion (stage: %s).\n", cfg.Name, cfg.Stage)
	fmt.Fprintf(&b, "Mood: %s\n", s.dose.Label())
	if soul, err := notes.SoulExcerpt(s.paths.SoulFile(), 800); err == nil && soul != "" {
		b.WriteString("Soul:\n" + soul + "\n")
	}
	if mem, err := notes.MemoryExcerpt(s.paths.MemoryFile(), 1500); err == nil && mem != "" {
		b.WriteString("Memory:\n" + mem + "\n")
	}
	if history := s.convo.Render(s.sessionKey); history != "" {
		b.WriteString("Conversation so far:\n" + history + "\n")
	}
	b.WriteString("Operator: " + text + "\nRespond briefly and helpfully.")
	return b.String()
}

// onboard walks the first-run imprint: identity, routines, transport.
func (s *Session) onboard(state State, text string) Reply {
	switch state {
	case OnboardingIdentity:
		name := strings.TrimSpace(text)
		if name == "" || len(name) > 40 {
			return errReply("I need a short name (40 characters or fewer).")
		}
		op := &Operator{Name: name, ImprintedAt: time.Now()}
		if err := op.Save(s.paths.OperatorFile); err != nil {
			return errReply("could not save operator imprint: " + err.Error())
		}
		s.operator = op
		if err := s.machine.To(OnboardingRoutines); err != nil {
			return errReply(err.Error())
		}
		return textReply("Nice to meet you, " + name + "! Should I keep a morning-outcomes routine? (yes/no)")

	case OnboardingRoutines:
		answer := strings.ToLower(strings.TrimSpace(text))
		if answer != "yes" && answer != "y" && answer != "no" && answer != "n" {
			return errReply("Just 'yes' or 'no', please.")
		}
		want := answer == "yes" || answer == "y"
		if err := s.mutateConfig(func(c *config.Config) { c.Routines.Morning = want }); err != nil {
			return errReply("could not save config: " + err.Error())
		}
		if s.Config().XMTP.CollectHandle {
			if err := s.machine.To(AskXMTPHandle); err != nil {
				return errReply(err.Error())
			}
			return textReply("Got it. Do you have an XMTP handle for remote messages? (paste it, or 'skip' for local-only)")
		}
		if err := s.machine.To(Running); err != nil {
			return errReply(err.Error())
		}
		return s.imprinted("")

	case AskXMTPHandle:
		handle := strings.TrimSpace(text)
		if strings.EqualFold(handle, "skip") || handle == "" {
			if err := s.machine.To(Running); err != nil {
				return errReply(err.Error())
			}
			return s.imprinted("")
		}
		s.operator.XMTPHandle = handle
		if err := s.operator.Save(s.paths.OperatorFile); err != nil {
			return errReply("could not save operator imprint: " + err.Error())
		}
		if err := s.machine.To(PairingOutbound); err != nil {
			return errReply(err.Error())
		}
		if err := s.pair(handle); err != nil {
			s.log.Warn("outbound pairing failed", zap.Error(err))
		}
		if err := s.machine.To(Paired); err != nil {
			return errReply(err.Error())
		}
		if err := s.machine.To(Running); err != nil {
			return errReply(err.Error())
		}
		return s.imprinted(handle)

	default:
		return errReply("still booting, give me a moment")
	}
}

// pair sends the outbound hello to the operator's handle, best-effort.
func (s *Session) pair(handle string) error {
	if s.trans == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.trans.Send(ctx, handle, s.Config().Name+" here — paired and listening.")
}

func (s *Session) imprinted(handle string) Reply {
	s.pub.Publish("session.imprinted", "operator imprint completed",
		events.SeverityInfo, "session", map[string]any{"operator": s.operator.Name})
	mode := "Local-only it is."
	if handle != "" {
		mode = "I'll reach you over XMTP when something matters."
	}
	return textReply(mode + " I'm all set — say `help` to see what I can do.")
}
