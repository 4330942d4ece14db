package pipeline

import ev "github.com/KarsMulder/evsieve"

// withheldEntry is one buffered trigger event and the set of hooks
// still undecided about it (spec §4.I: "pending_events: list<(event,
// consumers)>").
type withheldEntry struct {
	event   ev.Event
	pending map[*HookStage]struct{}
	consume map[*HookStage]bool // resolved hooks: true=consumed, false=released
}

// WithholdStage buffers trigger events on behalf of the hooks it is
// paired with, replaying or dropping them once every paired hook has
// decided (spec §4.D "withhold", detailed in §4.I).
type WithholdStage struct {
	Src     ev.SelectorSet // optional extra filter; empty means "every trigger of a paired hook"
	Hooks   []*HookStage
	Domains *ev.DomainRegistry

	buffer []*withheldEntry
}

// NewWithholdStage constructs a withhold stage paired with hooks.
func NewWithholdStage(src ev.SelectorSet, hooks []*HookStage, domains *ev.DomainRegistry) *WithholdStage {
	return &WithholdStage{Src: src, Hooks: hooks, Domains: domains}
}

func (s *WithholdStage) Run(e ev.Event) []ev.Event {
	triggerFor := s.triggersThisEvent(e)

	if len(triggerFor) > 0 {
		pending := make(map[*HookStage]struct{}, len(triggerFor))
		for _, h := range triggerFor {
			pending[h] = struct{}{}
		}
		s.buffer = append(s.buffer, &withheldEntry{event: e, pending: pending, consume: make(map[*HookStage]bool)})
	}

	s.applyDecisions()

	released, kept := s.drainResolved()
	s.buffer = kept

	if len(triggerFor) > 0 {
		return released
	}
	return append(released, e)
}

// Tick resolves any buffer entries freed up by a period timeout on one
// of the paired hooks, without a new incoming event.
func (s *WithholdStage) Tick() []ev.Event {
	s.applyDecisions()
	released, kept := s.drainResolved()
	s.buffer = kept
	return released
}

// Flush releases every buffered event immediately, in arrival order
// (spec §4.D delay's teardown rule applies identically here: withheld
// events must not vanish when their device goes away).
func (s *WithholdStage) Flush() []ev.Event {
	out := make([]ev.Event, len(s.buffer))
	for i, entry := range s.buffer {
		out[i] = entry.event
	}
	s.buffer = nil
	return out
}

// triggersThisEvent returns the hooks, among s.Hooks, for which e was
// just observed as one of their own trigger events this round,
// filtered by the withhold's own selector when present.
func (s *WithholdStage) triggersThisEvent(e ev.Event) []*HookStage {
	if len(s.Src) > 0 && !s.Src.MatchAny(e, s.Domains.Name) {
		return nil
	}

	var out []*HookStage
	for _, h := range s.Hooks {
		if h.LastDecision().IsTrigger && h.matchTrigger(e) >= 0 {
			out = append(out, h)
		}
	}
	return out
}

// applyDecisions records this round's Activated/Released verdict from
// every paired hook against whichever buffered entries still have that
// hook pending.
func (s *WithholdStage) applyDecisions() {
	for _, h := range s.Hooks {
		d := h.LastDecision()
		if !d.Activated && !d.Released {
			continue
		}

		for _, entry := range s.buffer {
			if _, ok := entry.pending[h]; !ok {
				continue
			}
			delete(entry.pending, h)
			entry.consume[h] = d.Activated
		}
	}
}

// drainResolved splits the buffer into events ready to emit (released,
// in arrival order) or drop (consumed — some hook activated on it) from
// whatever is still undecided.
func (s *WithholdStage) drainResolved() (released []ev.Event, kept []*withheldEntry) {
	for _, entry := range s.buffer {
		if len(entry.pending) > 0 {
			kept = append(kept, entry)
			continue
		}

		consumed := false
		for _, c := range entry.consume {
			if c {
				consumed = true
				break
			}
		}

		if !consumed {
			released = append(released, entry.event)
		}
	}

	return released, kept
}
