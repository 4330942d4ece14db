package pipeline

import ev "github.com/KarsMulder/evsieve"

type mergeKey struct {
	typ    uint16
	code   uint16
	domain ev.Domain
}

// MergeStage deduplicates key state (spec §4.D): "suppresses press(1)
// events for codes already pressed (per domain), and suppresses
// release(0) for codes not pressed". An empty Src matches every event
// that reaches the stage, per the grammar's "src… is optional"
// convention used elsewhere in §4.D.
type MergeStage struct {
	Src     ev.SelectorSet
	Domains *ev.DomainRegistry

	pressed map[mergeKey]bool
}

// NewMergeStage constructs a ready-to-run merge stage.
func NewMergeStage(src ev.SelectorSet, domains *ev.DomainRegistry) *MergeStage {
	return &MergeStage{Src: src, Domains: domains, pressed: make(map[mergeKey]bool)}
}

func (s *MergeStage) Run(e ev.Event) []ev.Event {
	if e.Yielded() {
		return []ev.Event{e}
	}

	if len(s.Src) > 0 && !s.Src.MatchAny(e, s.Domains.Name) {
		return []ev.Event{e}
	}

	if e.Value != 0 && e.Value != 1 {
		// Repeats and anything else outside press/release carry no
		// dedup state of their own.
		return []ev.Event{e}
	}

	key := mergeKey{e.Type, e.Code, e.Domain}
	wasPressed := s.pressed[key]

	if e.Value == 1 {
		if wasPressed {
			return nil
		}
		s.pressed[key] = true
		return []ev.Event{e}
	}

	if !wasPressed {
		return nil
	}
	s.pressed[key] = false
	return []ev.Event{e}
}
