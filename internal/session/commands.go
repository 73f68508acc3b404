package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"tako/internal/config"
	"tako/internal/events"
	"tako/internal/notes"
	"tako/internal/redact"
)

type commandHandler func(ctx context.Context, args []string) Reply

type command struct {
	summary string
	handler commandHandler
}

// commandSet is the dispatch table plus the completion catalogs: every
// command is reachable via "/" or an address prefix; the plain set is
// the whitelist of names that also work bare.
type commandSet struct {
	byName map[string]command
	plain  map[string]struct{}
}

// plainWhitelist lists commands safe to trigger as the bare first word
// of a turn. Anything that touches the network, subprocesses, or the
// imprint requires the explicit command form.
var plainWhitelist = []string{
	"help", "status", "stats", "health", "config", "stage", "mission",
	"models", "dose", "explore", "task", "tasks", "done", "morning",
	"outcomes", "compress", "weekly", "promote", "inference", "doctor",
	"pair", "update", "extensions", "quit",
}

func (s *Session) buildCommands() commandSet {
	byName := map[string]command{
		"help":       {"list commands", s.cmdHelp},
		"status":     {"runtime snapshot: stage, mood, provider, loops", s.cmdStatus},
		"stats":      {"event counts from the log", s.cmdStats},
		"health":     {"current health signals", s.cmdHealth},
		"config":     {"show workspace configuration", s.cmdConfig},
		"stage":      {"show or set the life stage", s.cmdStage},
		"mission":    {"show or edit the MEMORY.md mission", s.cmdMission},
		"models":     {"provider discovery table", s.cmdModels},
		"dose":       {"show or nudge the affective state", s.cmdDose},
		"explore":    {"run an exploration pass now", s.cmdExplore},
		"task":       {"add a task", s.cmdTask},
		"tasks":      {"list tasks", s.cmdTasks},
		"done":       {"complete a task by id", s.cmdDone},
		"morning":    {"set today's outcomes", s.cmdMorning},
		"outcomes":   {"show or update today's outcomes", s.cmdOutcomes},
		"compress":   {"archive the event log and start fresh", s.cmdCompress},
		"weekly":     {"seven-day activity review", s.cmdWeekly},
		"promote":    {"promote a note into MEMORY.md", s.cmdPromote},
		"inference":  {"provider controls: refresh, key set, prefer, auth, login", s.cmdInference},
		"doctor":     {"workspace and provider diagnosis", s.cmdDoctor},
		"pair":       {"re-send the pairing hello", s.cmdPair},
		"update":     {"check for updates or toggle auto-update", s.cmdUpdate},
		"web":        {"fetch and summarize a page", s.cmdWeb},
		"run":        {"run a shell-free command in the workspace", s.cmdRun},
		"install":    {"quarantine a skill/tool URL, or accept/reject", s.cmdInstall},
		"enable":     {"enable an accepted skill or tool", s.cmdEnable},
		"draft":      {"register a locally authored skill or tool", s.cmdDraft},
		"extensions": {"list the extension registry", s.cmdExtensions},
		"reimprint":  {"forget the operator imprint (requires CONFIRM)", s.cmdReimprint},
		"safe":       {"show or toggle safe mode", s.cmdSafe},
		"quit":       {"exit the session", s.cmdQuit},
	}
	plain := make(map[string]struct{}, len(plainWhitelist))
	for _, name := range plainWhitelist {
		plain[name] = struct{}{}
	}
	return commandSet{byName: byName, plain: plain}
}

// dispatch resolves a parsed command name. Unknown names are a friendly
// error, never a crash.
func (s *Session) dispatch(ctx context.Context, name string, args []string) Reply {
	cmd, ok := s.cmds.byName[name]
	if !ok {
		return errReply(fmt.Sprintf("I don't know %q — try `help`.", name))
	}
	return cmd.handler(ctx, args)
}

func (s *Session) cmdHelp(context.Context, []string) Reply {
	names := make([]string, 0, len(s.cmds.byName))
	for name := range s.cmds.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%-11s %s\n", name, s.cmds.byName[name].summary)
	}
	return cardReply("commands", b.String())
}

func (s *Session) cmdStatus(context.Context, []string) Reply {
	cfg := s.Config()
	st := s.dose.Snapshot()
	loops := s.loops.Current()

	provider := "none ready"
	if s.inf.Ready() {
		provider = s.inf.Selected()
	}
	budget := "-"
	if s.budget != nil {
		budget = fmt.Sprintf("%d/%d", s.budget.BudgetUsed(), s.Policy().Type2BudgetPerDay)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "name       %s (stage %s)\n", cfg.Name, cfg.Stage)
	fmt.Fprintf(&b, "state      %s\n", s.machine.Current())
	fmt.Fprintf(&b, "mood       %s  (d=%.2f o=%.2f s=%.2f e=%.2f)\n", s.dose.Label(), st.D, st.O, st.S, st.E)
	fmt.Fprintf(&b, "provider   %s\n", provider)
	fmt.Fprintf(&b, "type2      %s used today\n", budget)
	fmt.Fprintf(&b, "open loops %d (%d tasks, %d recent signals)\n", loops.Count(), len(loops.OpenTasks), len(loops.RecentSignals))
	fmt.Fprintf(&b, "queue      %d waiting\n", s.QueueDepth())
	if s.version != "" {
		fmt.Fprintf(&b, "version    %s\n", s.version)
	}
	return cardReply("status", b.String())
}

func (s *Session) cmdStats(context.Context, []string) Reply {
	evs, err := events.Replay(s.paths.EventsFile)
	if err != nil {
		return errReply("could not read the event log: " + err.Error())
	}
	bySeverity := map[events.Severity]int{}
	byPrefix := map[string]int{}
	for _, ev := range evs {
		bySeverity[ev.Severity]++
		prefix := ev.Type
		if i := strings.IndexByte(prefix, '.'); i > 0 {
			prefix = prefix[:i]
		}
		byPrefix[prefix]++
	}
	prefixes := make([]string, 0, len(byPrefix))
	for p := range byPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if byPrefix[prefixes[i]] != byPrefix[prefixes[j]] {
			return byPrefix[prefixes[i]] > byPrefix[prefixes[j]]
		}
		return prefixes[i] < prefixes[j]
	})

	var b strings.Builder
	fmt.Fprintf(&b, "events     %d\n", len(evs))
	fmt.Fprintf(&b, "severity   info=%d warn=%d error=%d critical=%d\n",
		bySeverity[events.SeverityInfo], bySeverity[events.SeverityWarn],
		bySeverity[events.SeverityError], bySeverity[events.SeverityCritical])
	for i, p := range prefixes {
		if i >= 8 {
			break
		}
		fmt.Fprintf(&b, "%-10s %d\n", p, byPrefix[p])
	}
	return cardReply("stats", b.String())
}

func (s *Session) cmdHealth(context.Context, []string) Reply {
	loops := s.loops.Current()
	var b strings.Builder
	if s.inf.Ready() {
		fmt.Fprintf(&b, "inference  ready (%s)\n", s.inf.Selected())
	} else {
		b.WriteString("inference  no ready provider\n")
	}
	fmt.Fprintf(&b, "stability  %.2f (%s)\n", s.dose.Stability(), s.dose.Label())
	if len(loops.RecentSignals) == 0 {
		b.WriteString("signals    quiet\n")
	} else {
		b.WriteString("signals:\n")
		for _, sig := range loops.RecentSignals {
			b.WriteString("  " + sig + "\n")
		}
	}
	return cardReply("health", b.String())
}

func (s *Session) cmdConfig(context.Context, []string) Reply {
	cfg := s.Config()
	var b strings.Builder
	fmt.Fprintf(&b, "name                 %s\n", cfg.Name)
	fmt.Fprintf(&b, "stage                %s\n", cfg.Stage)
	fmt.Fprintf(&b, "heartbeat_seconds    %d\n", cfg.Cadence.HeartbeatSeconds)
	fmt.Fprintf(&b, "snapshot_every_ticks %d\n", cfg.Cadence.SnapshotEveryTicks)
	fmt.Fprintf(&b, "routines.morning     %t\n", cfg.Routines.Morning)
	fmt.Fprintf(&b, "xmtp.enabled         %t\n", cfg.XMTP.Enabled)
	fmt.Fprintf(&b, "update.auto          %t\n", cfg.Update.Auto)
	fmt.Fprintf(&b, "safe_mode            %t\n", cfg.SafeMode)
	if len(cfg.Watch) > 0 {
		fmt.Fprintf(&b, "watch                %s\n", strings.Join(cfg.Watch, ", "))
	}
	return cardReply("tako.toml", b.String())
}

func (s *Session) cmdStage(_ context.Context, args []string) Reply {
	if len(args) == 0 || args[0] == "show" {
		p := s.Policy()
		return textReply(fmt.Sprintf("stage %s: explore every %dm, %d type2/day, sensors: %s",
			s.Config().Stage, p.ExploreIntervalMinutes(), p.Type2BudgetPerDay, strings.Join(p.Sensors, ", ")))
	}
	if args[0] != "set" || len(args) < 2 {
		return errReply("usage: stage [show|set <hatchling|child|teen|adult>]")
	}
	if err := s.changeStage(args[1]); err != nil {
		return errReply(err.Error())
	}
	return textReply("Life stage is now " + args[1] + ".")
}

func (s *Session) cmdMission(_ context.Context, args []string) Reply {
	memPath := s.paths.MemoryFile()
	if len(args) == 0 || args[0] == "show" {
		var mission string
		err := notes.UpdateFrontmatter(memPath, func(fm *notes.Frontmatter) { mission = fm.Mission })
		if err != nil {
			return errReply("could not read MEMORY.md: " + err.Error())
		}
		if mission == "" {
			return textReply("No mission set. `mission set <text>` to give me one.")
		}
		return textReply("Mission: " + mission)
	}
	rest := strings.Join(args[1:], " ")
	switch args[0] {
	case "set":
		if rest == "" {
			return errReply("usage: mission set <text>")
		}
		if err := notes.UpdateFrontmatter(memPath, func(fm *notes.Frontmatter) { fm.Mission = rest }); err != nil {
			return errReply("could not update MEMORY.md: " + err.Error())
		}
		return textReply("Mission set.")
	case "add":
		if rest == "" {
			return errReply("usage: mission add <text>")
		}
		err := notes.UpdateFrontmatter(memPath, func(fm *notes.Frontmatter) {
			if fm.Mission == "" {
				fm.Mission = rest
			} else {
				fm.Mission += "; " + rest
			}
		})
		if err != nil {
			return errReply("could not update MEMORY.md: " + err.Error())
		}
		return textReply("Mission extended.")
	case "clear":
		if err := notes.UpdateFrontmatter(memPath, func(fm *notes.Frontmatter) { fm.Mission = "" }); err != nil {
			return errReply("could not update MEMORY.md: " + err.Error())
		}
		return textReply("Mission cleared.")
	default:
		return errReply("usage: mission [show|set <text>|add <text>|clear]")
	}
}

func (s *Session) cmdModels(context.Context, []string) Reply {
	var b strings.Builder
	for _, st := range s.inf.Statuses() {
		mark := " "
		if st.Ready {
			mark = "*"
		}
		line := fmt.Sprintf("%s %-7s cli=%-5t key=%-5t", mark, st.Name, st.CLIInstalled, st.KeyPresent)
		if st.KeySource != "" {
			line += "  " + st.KeySource
		}
		if st.Note != "" {
			line += "  (" + st.Note + ")"
		}
		b.WriteString(line + "\n")
	}
	if selected := s.inf.Selected(); selected != "" {
		b.WriteString("selected: " + selected + "\n")
	}
	return cardReply("providers", b.String())
}

func (s *Session) cmdDose(_ context.Context, args []string) Reply {
	if len(args) == 0 || args[0] == "show" {
		st := s.dose.Snapshot()
		var b strings.Builder
		fmt.Fprintf(&b, "mode %s\n", s.dose.Label())
		fmt.Fprintf(&b, "d %.2f (baseline %.2f)\n", st.D, st.BaselineD)
		fmt.Fprintf(&b, "o %.2f (baseline %.2f)\n", st.O, st.BaselineO)
		fmt.Fprintf(&b, "s %.2f (baseline %.2f)\n", st.S, st.BaselineS)
		fmt.Fprintf(&b, "e %.2f (baseline %.2f)\n", st.E, st.BaselineE)
		return cardReply("dose", b.String())
	}
	switch args[0] {
	case "calm":
		st := s.dose.Snapshot()
		s.dose.SetChannel("s", st.S+0.10)
		s.dose.SetChannel("d", st.D-0.05)
		return textReply("Settling down. Mode: " + s.dose.Label())
	case "explore":
		st := s.dose.Snapshot()
		s.dose.SetChannel("d", st.D+0.15)
		return textReply("Curiosity up. Mode: " + s.dose.Label())
	default:
		if len(args) < 2 {
			return errReply("usage: dose [show|calm|explore|<d|o|s|e> <0..1>]")
		}
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil || v < 0 || v > 1 {
			return errReply("value must be a number in [0,1]")
		}
		if err := s.dose.SetChannel(args[0], v); err != nil {
			return errReply(err.Error())
		}
		return textReply(fmt.Sprintf("%s=%.2f. Mode: %s", args[0], v, s.dose.Label()))
	}
}

func (s *Session) cmdExplore(ctx context.Context, args []string) Reply {
	topic := strings.Join(args, " ")
	summary, fresh, err := s.cadence.RequestExplore(ctx, topic)
	if err != nil {
		return errReply("exploration failed: " + err.Error())
	}
	if summary == "" {
		summary = "nothing new out there right now"
	}
	return textReply(fmt.Sprintf("%s (%d new)", summary, fresh))
}

func (s *Session) cmdTask(_ context.Context, args []string) Reply {
	title := strings.Join(args, " ")
	if strings.TrimSpace(title) == "" {
		return errReply("usage: task <title>")
	}
	task, err := s.tasks.Add(title)
	if err != nil {
		return errReply("could not save the task: " + err.Error())
	}
	return textReply(fmt.Sprintf("Task %s added: %s", task.ID, task.Title))
}

func (s *Session) cmdTasks(_ context.Context, args []string) Reply {
	openOnly := true
	if len(args) > 0 && (args[0] == "all" || args[0] == "done") {
		openOnly = false
	}
	tasks := s.tasks.List(openOnly)
	if len(tasks) == 0 {
		return textReply("No open tasks.")
	}
	var b strings.Builder
	for _, t := range tasks {
		mark := "[ ]"
		if !t.Open() {
			mark = "[x]"
		}
		fmt.Fprintf(&b, "%s %s  %s\n", mark, t.ID, t.Title)
	}
	return cardReply("tasks", b.String())
}

func (s *Session) cmdDone(_ context.Context, args []string) Reply {
	if len(args) != 1 {
		return errReply("usage: done <id>")
	}
	task, err := s.tasks.Done(args[0])
	if err != nil {
		return errReply(err.Error())
	}
	s.pub.Publish("task.completed", "task completed: "+task.Title,
		events.SeverityInfo, "operator", map[string]any{"task_id": task.ID})
	return textReply("Done: " + task.Title)
}

func (s *Session) cmdMorning(context.Context, []string) Reply {
	return s.startFlow(newMorningFlow(s))
}

func (s *Session) cmdOutcomes(_ context.Context, args []string) Reply {
	now := time.Now()
	if len(args) == 0 {
		items := s.outcomes.Today(now)
		if len(items) == 0 {
			return textReply("No outcomes set for today. `morning` to set them.")
		}
		var b strings.Builder
		for i, o := range items {
			mark := "[ ]"
			if o.Done {
				mark = "[x]"
			}
			fmt.Fprintf(&b, "%s %d. %s\n", mark, i+1, o.Text)
		}
		return cardReply("today's outcomes", b.String())
	}
	switch args[0] {
	case "set":
		return s.startFlow(newMorningFlow(s))
	case "done", "undo":
		if len(args) != 2 {
			return errReply("usage: outcomes " + args[0] + " <n>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return errReply("outcome number must be an integer")
		}
		out, err := s.outcomes.Mark(now, n, args[0] == "done")
		if err != nil {
			return errReply(err.Error())
		}
		verb := "done"
		if args[0] == "undo" {
			verb = "reopened"
		}
		return textReply(fmt.Sprintf("Outcome %d %s: %s", n, verb, out.Text))
	default:
		return errReply("usage: outcomes [set|done <n>|undo <n>]")
	}
}

func (s *Session) cmdCompress(_ context.Context, args []string) Reply {
	if s.rotate == nil {
		return errReply("log rotation is not wired in this session")
	}
	archive := strings.TrimSuffix(s.paths.EventsFile, ".jsonl") +
		"-" + time.Now().UTC().Format("20060102-150405") + ".jsonl"
	if err := s.rotate(archive); err != nil {
		return errReply("could not archive the event log: " + err.Error())
	}
	return textReply("Event log archived to " + archive)
}

func (s *Session) cmdWeekly(context.Context, []string) Reply {
	evs, err := events.Replay(s.paths.EventsFile)
	if err != nil {
		return errReply("could not read the event log: " + err.Error())
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -7)
	byDay := map[string]int{}
	warnings := 0
	for _, ev := range evs {
		if ev.TS.Before(cutoff) {
			continue
		}
		byDay[ev.TS.Format("2006-01-02")]++
		if ev.Severity != events.SeverityInfo {
			warnings++
		}
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	var b strings.Builder
	if len(days) == 0 {
		b.WriteString("a quiet week\n")
	}
	for _, d := range days {
		fmt.Fprintf(&b, "%s  %d events\n", d, byDay[d])
	}
	fmt.Fprintf(&b, "non-info signals: %d\n", warnings)
	fmt.Fprintf(&b, "open tasks: %d\n", s.tasks.OpenCount())
	return cardReply("weekly review", b.String())
}

func (s *Session) cmdPromote(_ context.Context, args []string) Reply {
	note := strings.Join(args, " ")
	if strings.TrimSpace(note) == "" {
		return errReply("usage: promote <note>")
	}
	if err := notes.AppendBody(s.paths.MemoryFile(), note); err != nil {
		return errReply("could not update MEMORY.md: " + err.Error())
	}
	return textReply("Promoted to MEMORY.md.")
}

func (s *Session) cmdInference(ctx context.Context, args []string) Reply {
	if len(args) == 0 {
		return s.cmdModels(ctx, nil)
	}
	switch args[0] {
	case "refresh":
		if err := s.inf.Refresh(); err != nil {
			return errReply("discovery failed: " + err.Error())
		}
		if s.inf.Ready() {
			return textReply("Provider refreshed: " + s.inf.Selected())
		}
		return textReply("Refreshed; no ready provider found.")
	case "auth":
		return s.cmdModels(ctx, nil)
	case "key":
		if len(args) != 4 || args[1] != "set" {
			return errReply("usage: inference key set <ENV_NAME> <value>")
		}
		envName, secret := args[2], args[3]
		if err := s.inf.SetKey(envName, secret); err != nil {
			return errReply("could not store the key: " + err.Error())
		}
		return textReply(fmt.Sprintf("Stored %s=%s. Selected: %s", envName, redact.Mask(secret), s.inf.Selected()))
	case "prefer":
		if len(args) != 2 {
			return errReply("usage: inference prefer <provider|auto>")
		}
		if err := s.inf.SetPreferred(args[1]); err != nil {
			return errReply(err.Error())
		}
		return textReply("Preferred provider: " + args[1])
	case "login":
		return textReply("Run your provider's own login flow in another terminal (e.g. `codex login`, `claude login`, `pi login`), then `inference refresh` here.")
	default:
		return errReply("usage: inference [refresh|auth|key set <ENV> <value>|prefer <name>|login]")
	}
}

func (s *Session) cmdDoctor(ctx context.Context, _ []string) Reply {
	var b strings.Builder
	b.WriteString("workspace  " + s.paths.Root + "\n")
	if op := s.operator; op != nil {
		fmt.Fprintf(&b, "operator   %s (since %s)\n", op.Name, op.ImprintedAt.Format("2006-01-02"))
	} else {
		b.WriteString("operator   not imprinted\n")
	}
	fmt.Fprintf(&b, "state      %s, gate open: %t\n", s.machine.Current(), s.gate.Open())
	b.WriteString("\n")
	models := s.cmdModels(ctx, nil)
	b.WriteString(models.Text)
	return cardReply("doctor", b.String())
}

func (s *Session) cmdPair(context.Context, []string) Reply {
	if s.operator == nil || s.operator.XMTPHandle == "" {
		return errReply("No XMTP handle on file. `reimprint CONFIRM` to redo onboarding.")
	}
	if err := s.pair(s.operator.XMTPHandle); err != nil {
		return errReply("pairing hello failed: " + err.Error())
	}
	return textReply("Pairing hello sent to " + s.operator.XMTPHandle)
}

func (s *Session) cmdUpdate(ctx context.Context, args []string) Reply {
	if len(args) == 0 || args[0] == "check" {
		if s.update == nil {
			return textReply("Update checks are not wired in this build.")
		}
		version, available, err := s.update.Check(ctx)
		if err != nil {
			return errReply("update check failed: " + err.Error())
		}
		if !available {
			return textReply("You're on the latest build.")
		}
		return textReply("Update available: " + version)
	}
	if args[0] == "auto" && len(args) == 2 && (args[1] == "on" || args[1] == "off") {
		want := args[1] == "on"
		if err := s.mutateConfig(func(c *config.Config) { c.Update.Auto = want }); err != nil {
			return errReply("could not save config: " + err.Error())
		}
		return textReply("Auto-update " + args[1] + ".")
	}
	return errReply("usage: update [check|auto on|auto off]")
}

func (s *Session) cmdWeb(ctx context.Context, args []string) Reply {
	if s.Config().SafeMode {
		return errReply("safe mode is on; `safe off` to allow web fetches")
	}
	if len(args) != 1 {
		return errReply("usage: web <url>")
	}
	page, err := s.web.Fetch(ctx, args[0])
	if err != nil {
		return errReply("fetch failed: " + err.Error())
	}
	body := page.Summary(600)
	if body == "" {
		body = "(no readable text)"
	}
	title := page.Title
	if title == "" {
		title = page.URL
	}
	return cardReply(title, body)
}

const runOutputCap = 4000

func (s *Session) cmdRun(ctx context.Context, args []string) Reply {
	if s.Config().SafeMode {
		return errReply("safe mode is on; `safe off` to allow running commands")
	}
	if len(args) == 0 {
		return errReply("usage: run <cmd> [args...]")
	}
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	// Argv execution only; the turn text is never handed to a shell.
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = s.paths.Root
	out, err := cmd.CombinedOutput()
	text := redact.Scrub(strings.TrimSpace(string(out)))
	if len(text) > runOutputCap {
		text = text[:runOutputCap] + "\n... (truncated)"
	}
	if err != nil {
		if text == "" {
			text = err.Error()
		}
		return errReply(text)
	}
	if text == "" {
		text = "(no output)"
	}
	return textReply(text)
}

func (s *Session) cmdInstall(_ context.Context, args []string) Reply {
	if len(args) == 2 && (args[0] == "accept" || args[0] == "reject") {
		ext, err := s.exts.Resolve(args[1], args[0] == "accept")
		if err != nil {
			return errReply(err.Error())
		}
		return textReply(fmt.Sprintf("%s %s %q is now %s", ext.Kind, ext.ID, ext.Name, ext.Status))
	}
	if len(args) != 2 || (args[0] != "skill" && args[0] != "tool") {
		return errReply("usage: install (skill|tool) <url>, or install accept|reject <id>")
	}
	if s.Config().SafeMode {
		return errReply("safe mode is on; `safe off` to allow installs")
	}
	ext, fresh, err := s.exts.Install(args[0], args[1])
	if err != nil {
		return errReply("could not record the install: " + err.Error())
	}
	if !fresh {
		return textReply(fmt.Sprintf("Already known as %s (%s).", ext.ID, ext.Status))
	}
	return textReply(fmt.Sprintf("Quarantined %s %q as %s. `install accept %s` when you've reviewed it.",
		ext.Kind, ext.Name, ext.ID, ext.ID))
}

func (s *Session) cmdEnable(_ context.Context, args []string) Reply {
	if len(args) != 2 || (args[0] != "skill" && args[0] != "tool") {
		return errReply("usage: enable (skill|tool) <name>")
	}
	ext, err := s.exts.Enable(args[0], args[1])
	if err != nil {
		return errReply(err.Error())
	}
	return textReply(fmt.Sprintf("Enabled %s %q.", ext.Kind, ext.Name))
}

func (s *Session) cmdDraft(_ context.Context, args []string) Reply {
	if len(args) != 2 || (args[0] != "skill" && args[0] != "tool") {
		return errReply("usage: draft (skill|tool) <name>")
	}
	ext, err := s.exts.Draft(args[0], args[1])
	if err != nil {
		return errReply("could not record the draft: " + err.Error())
	}
	return textReply(fmt.Sprintf("Drafted %s %q (%s), accepted and ready to enable.", ext.Kind, ext.Name, ext.ID))
}

func (s *Session) cmdExtensions(context.Context, []string) Reply {
	exts := s.exts.List()
	if len(exts) == 0 {
		return textReply("No extensions registered.")
	}
	var b strings.Builder
	for _, e := range exts {
		line := fmt.Sprintf("%-8s %-5s %-9s %s", e.ID, e.Kind, e.Status, e.Name)
		if e.URL != "" {
			line += "  " + e.URL
		}
		b.WriteString(line + "\n")
	}
	return cardReply("extensions", b.String())
}

func (s *Session) cmdReimprint(_ context.Context, args []string) Reply {
	if len(args) != 1 || args[0] != "CONFIRM" {
		return errReply("This forgets who you are to me. `reimprint CONFIRM` if you mean it.")
	}
	if err := removeFile(s.paths.OperatorFile); err != nil {
		return errReply("could not remove the imprint: " + err.Error())
	}
	s.operator = nil
	s.machine.Reset(OnboardingIdentity)
	s.pub.Publish("session.reimprint", "operator imprint cleared",
		events.SeverityWarn, "session", nil)
	return textReply("Imprint cleared. So — what would you like to name me?")
}

func (s *Session) cmdSafe(_ context.Context, args []string) Reply {
	if len(args) == 0 {
		state := "off"
		if s.Config().SafeMode {
			state = "on"
		}
		return textReply("Safe mode is " + state + ".")
	}
	if args[0] != "on" && args[0] != "off" {
		return errReply("usage: safe [on|off]")
	}
	want := args[0] == "on"
	if err := s.mutateConfig(func(c *config.Config) { c.SafeMode = want }); err != nil {
		return errReply("could not save config: " + err.Error())
	}
	return textReply("Safe mode " + args[0] + ".")
}

func (s *Session) cmdQuit(context.Context, []string) Reply {
	return Reply{Text: "Talk soon.", Quit: true}
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
