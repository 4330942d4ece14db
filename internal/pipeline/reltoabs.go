package pipeline

import ev "github.com/KarsMulder/evsieve"

// RelToAbsStage integrates rel events into a clamped absolute value
// (spec §4.D: "rel-to-abs rel:x abs:x:min~max"). Untracked codes (not
// matching Src) pass through unchanged.
type RelToAbsStage struct {
	Src     ev.Selector
	Dst     ev.OutputTemplate
	Min     int32
	Max     int32
	Domains *ev.DomainRegistry

	value map[ev.Domain]int32
}

// NewRelToAbsStage constructs a ready-to-run rel-to-abs stage.
func NewRelToAbsStage(src ev.Selector, dst ev.OutputTemplate, min, max int32, domains *ev.DomainRegistry) *RelToAbsStage {
	return &RelToAbsStage{Src: src, Dst: dst, Min: min, Max: max, Domains: domains, value: make(map[ev.Domain]int32)}
}

func (s *RelToAbsStage) Run(e ev.Event) []ev.Event {
	if e.Yielded() {
		return []ev.Event{e}
	}

	if !s.Src.Match(e, s.Domains.Name) {
		return []ev.Event{e}
	}

	cur := s.value[e.Domain] + e.Value
	if cur < s.Min {
		cur = s.Min
	}
	if cur > s.Max {
		cur = s.Max
	}
	s.value[e.Domain] = cur

	out := s.Dst.Apply(e, s.Domains, nil)
	out.Value = cur

	return []ev.Event{out}
}
