package pipeline

import (
	"math"

	ev "github.com/KarsMulder/evsieve"
)

type scaleKey struct {
	typ    uint16
	code   uint16
	domain ev.Domain
}

// ScaleStage multiplies an event's value by Factor (spec §4.D: "scale
// src… factor=F"). rel: events carry a per-(type,code,domain) residual
// so fractional factors sum correctly over time; abs: events truncate
// fresh every time.
type ScaleStage struct {
	Src     ev.SelectorSet // empty means "every rel/abs event", the grammar's default
	Factor  float64
	Domains *ev.DomainRegistry

	residuals map[scaleKey]float64
}

// NewScaleStage constructs a ready-to-run scale stage.
func NewScaleStage(src ev.SelectorSet, factor float64, domains *ev.DomainRegistry) *ScaleStage {
	return &ScaleStage{Src: src, Factor: factor, Domains: domains, residuals: make(map[scaleKey]float64)}
}

func (s *ScaleStage) Run(e ev.Event) []ev.Event {
	if e.Yielded() {
		return []ev.Event{e}
	}

	matches := false
	if len(s.Src) > 0 {
		matches = s.Src.MatchAny(e, s.Domains.Name)
	} else {
		matches = e.Type == evRel || e.Type == evAbs
	}
	if !matches {
		return []ev.Event{e}
	}

	out := e

	if e.Type == evRel {
		key := scaleKey{e.Type, e.Code, e.Domain}
		total := s.Factor*float64(e.Value) + s.residuals[key]
		truncated := math.Trunc(total)
		s.residuals[key] = total - truncated
		out.Value = int32(truncated)
	} else {
		out.Value = int32(math.Trunc(s.Factor * float64(e.Value)))
	}

	return []ev.Event{out}
}
