package pipeline

import ev "github.com/KarsMulder/evsieve"

// BlockStage drops any event matching Src (spec §4.D: "block src… –
// drops matching events").
type BlockStage struct {
	Src     ev.SelectorSet
	Domains *ev.DomainRegistry
}

func (s *BlockStage) Run(e ev.Event) []ev.Event {
	if e.Yielded() {
		return []ev.Event{e}
	}

	if s.Src.MatchAny(e, s.Domains.Name) {
		return nil
	}

	return []ev.Event{e}
}
