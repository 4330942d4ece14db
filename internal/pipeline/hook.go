package pipeline

import (
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/shlex"

	ev "github.com/KarsMulder/evsieve"
)

// HookState is one of the three states of a hook's trigger state
// machine (spec §4.D).
type HookState int

const (
	HookIdle HookState = iota
	HookPartial
	HookActive
)

// ConsequenceKind distinguishes the three hook consequence forms.
type ConsequenceKind int

const (
	ConsequenceExecShell ConsequenceKind = iota
	ConsequenceSendKey
	ConsequenceToggle
)

// Consequence is one action fired, in declaration order, when a hook
// reaches Active.
type Consequence struct {
	Kind ConsequenceKind

	Shell string // ConsequenceExecShell

	SendKeyCode uint16 // ConsequenceSendKey

	ToggleID       string // ConsequenceToggle, "" = anonymous group
	ToggleIndex    int
	HasToggleIndex bool // true for toggle=ID:K, false for bare toggle/toggle=ID
}

// HookDecision records what a HookStage decided about the event it
// just ran on, so a paired WithholdStage can resolve its buffer in
// lockstep (see WithholdStage.Run). Zero value means "not a trigger,
// no state change".
type HookDecision struct {
	IsTrigger bool
	Activated bool // this event was the Nth trigger, completing Partial(n)->Active
	Released  bool // the hook left Partial/Active without activating on this event, or stayed Idle on a trigger event that does not start a match
}

// execRunner is the narrow os/exec surface a HookStage needs; kept as
// an interface so tests can substitute a recording fake instead of
// actually forking.
type execRunner interface {
	Run(cmd string)
}

// shellRunner forks CMD via shlex-tokenized argv (spec §4.D:
// "exec-shell=CMD (fork+exec)") and does not wait for it — the reactor
// reaps children on SIGCHLD.
type shellRunner struct {
	Logger *slog.Logger
}

func (r shellRunner) Run(cmd string) {
	argv, err := shlex.Split(cmd)
	if err != nil || len(argv) == 0 {
		if r.Logger != nil {
			r.Logger.Warn("exec-shell: invalid command", "cmd", cmd, "error", err)
		}
		return
	}

	c := exec.Command(argv[0], argv[1:]...)
	if err := c.Start(); err != nil {
		if r.Logger != nil {
			r.Logger.Warn("exec-shell: failed to start", "cmd", cmd, "error", err)
		}
		return
	}

	// Detach: the reactor's SIGCHLD handler reaps it, we never Wait here.
	go func() { _ = c.Process.Release() }()
}

// HookStage is the per-hook state machine of spec §4.D/§4.I. Triggers
// are matched in declaration order; Sequential additionally requires
// presses in that order.
type HookStage struct {
	Triggers     []ev.Selector
	Consequences []Consequence
	Period       time.Duration // 0 disables the sliding window
	Sequential   bool
	BreaksOn     ev.SelectorSet
	Domains      *ev.DomainRegistry
	Toggles      *ToggleRegistry
	Shell        execRunner

	state       HookState
	held        []bool
	periodStart time.Time
	hasDeadline bool
	injected    []uint16
	injectedDom ev.Domain

	lastDecision HookDecision
}

// NewHookStage constructs a ready-to-run hook stage in the Idle state.
func NewHookStage(triggers []ev.Selector, consequences []Consequence, period time.Duration, sequential bool, breaksOn ev.SelectorSet, domains *ev.DomainRegistry, toggles *ToggleRegistry, logger *slog.Logger) *HookStage {
	return &HookStage{
		Triggers:     triggers,
		Consequences: consequences,
		Period:       period,
		Sequential:   sequential,
		BreaksOn:     breaksOn,
		Domains:      domains,
		Toggles:      toggles,
		Shell:        shellRunner{Logger: logger},
	}
}

// LastDecision returns what happened the last time Run was called. A
// paired WithholdStage consults this immediately after, per the
// pipeline's depth-first execution order (see pipeline.go).
func (h *HookStage) LastDecision() HookDecision {
	return h.lastDecision
}

func (h *HookStage) matchTrigger(e ev.Event) int {
	for i, sel := range h.Triggers {
		if sel.Match(e, h.Domains.Name) {
			return i
		}
	}
	return -1
}

func (h *HookStage) countHeld() int {
	n := 0
	for _, v := range h.held {
		if v {
			n++
		}
	}
	return n
}

func (h *HookStage) Run(e ev.Event) []ev.Event {
	h.lastDecision = HookDecision{}

	triggerIdx := h.matchTrigger(e)
	isTrigger := triggerIdx >= 0

	if h.state != HookIdle && len(h.BreaksOn) > 0 && h.BreaksOn.MatchAny(e, h.Domains.Name) {
		released := h.demote()
		h.lastDecision = HookDecision{IsTrigger: isTrigger, Released: true}
		return append([]ev.Event{e}, released...)
	}

	if !isTrigger {
		return []ev.Event{e}
	}

	h.lastDecision.IsTrigger = true
	pressed := e.Value >= 1
	released := e.Value == 0

	switch h.state {
	case HookIdle:
		if pressed && (!h.Sequential || triggerIdx == 0) {
			h.held = make([]bool, len(h.Triggers))
			h.held[triggerIdx] = true
			h.state = HookPartial

			if len(h.Triggers) == 1 {
				return h.activate(e)
			}

			if h.Period > 0 {
				h.periodStart = time.Now()
				h.hasDeadline = true
			}
		} else {
			h.lastDecision.Released = true
		}

	case HookPartial:
		if pressed {
			if h.Sequential && triggerIdx != h.countHeld() {
				rel := h.demote()
				h.lastDecision.Released = true
				return append([]ev.Event{e}, rel...)
			}

			if !h.held[triggerIdx] {
				h.held[triggerIdx] = true
			}

			if h.countHeld() == len(h.Triggers) {
				return h.activate(e)
			}
		} else if released && h.held[triggerIdx] {
			rel := h.demote()
			h.lastDecision.Released = true
			return append([]ev.Event{e}, rel...)
		}

	case HookActive:
		if released && h.held[triggerIdx] {
			h.held[triggerIdx] = false
			h.state = HookPartial
			injRelease := h.releaseInjected()
			h.lastDecision.Released = true
			return append([]ev.Event{e}, injRelease...)
		}
	}

	return []ev.Event{e}
}

func (h *HookStage) activate(e ev.Event) []ev.Event {
	h.state = HookActive
	h.hasDeadline = false
	h.lastDecision.Activated = true

	out := []ev.Event{e}

	for _, c := range h.Consequences {
		switch c.Kind {
		case ConsequenceExecShell:
			h.Shell.Run(c.Shell)

		case ConsequenceSendKey:
			out = append(out, ev.Event{Type: evKey, Code: c.SendKeyCode, Value: 1, Domain: e.Domain})
			h.injected = append(h.injected, c.SendKeyCode)
			h.injectedDom = e.Domain

		case ConsequenceToggle:
			if c.HasToggleIndex {
				h.Toggles.Set(c.ToggleID, c.ToggleIndex)
			} else {
				h.Toggles.Advance(c.ToggleID)
			}
		}
	}

	return out
}

func (h *HookStage) releaseInjected() []ev.Event {
	if len(h.injected) == 0 {
		return nil
	}

	out := make([]ev.Event, len(h.injected))
	for i, code := range h.injected {
		out[i] = ev.Event{Type: evKey, Code: code, Value: 0, Domain: h.injectedDom}
	}
	h.injected = nil

	return out
}

// demote resets the hook to Idle, releasing any keys it had injected.
func (h *HookStage) demote() []ev.Event {
	released := h.releaseInjected()
	h.state = HookIdle
	h.held = nil
	h.hasDeadline = false
	return released
}

// Tick checks the sliding window deadline (spec §4.D: "period=T…if the
// window expires with only a partial set held, the hook resets"). The
// reactor calls this from its timerfd loop; it never emits events
// itself (a demotion alone produces none) but sets lastDecision so a
// paired WithholdStage can release what it was holding on Pipeline.Tick.
func (h *HookStage) Tick() []ev.Event {
	h.lastDecision = HookDecision{}

	if h.state != HookPartial || !h.hasDeadline {
		return nil
	}

	if time.Since(h.periodStart) < h.Period {
		return nil
	}

	h.demote()
	h.lastDecision = HookDecision{Released: true}
	return nil
}

// NextDeadline reports when this hook's period window next expires, if
// any, so the reactor can arm its timerfd accordingly.
func (h *HookStage) NextDeadline() (time.Time, bool) {
	if h.state != HookPartial || !h.hasDeadline {
		return time.Time{}, false
	}
	return h.periodStart.Add(h.Period), true
}
