package pipeline

import ev "github.com/KarsMulder/evsieve"

// evdev type numbers this package needs directly. Kept local rather
// than imported from the linux-tagged internal/inputuapi so that
// pipeline stays buildable and testable on any platform; see
// evsieve.Event.IsSyn for the same tradeoff at the root package.
const (
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03
)

// TransformStage implements both map and copy (spec §4.D): map consumes
// the matched event, copy keeps it. Each dst produces one output event;
// yield marks every emitted event so later map/copy/block stages skip
// it.
type TransformStage struct {
	Src     ev.SelectorSet
	Dst     []ev.OutputTemplate
	Keep    bool // true for copy, false for map
	Yield   bool
	Domains *ev.DomainRegistry

	residuals map[residualKey]*float64
}

type residualKey struct {
	dst    int
	typ    uint16
	code   uint16
	domain ev.Domain
}

// NewTransformStage constructs a ready-to-run map/copy stage.
func NewTransformStage(src ev.SelectorSet, dst []ev.OutputTemplate, keep, yield bool, domains *ev.DomainRegistry) *TransformStage {
	return &TransformStage{
		Src:       src,
		Dst:       dst,
		Keep:      keep,
		Yield:     yield,
		Domains:   domains,
		residuals: make(map[residualKey]*float64),
	}
}

func (s *TransformStage) Run(e ev.Event) []ev.Event {
	if e.Yielded() {
		return []ev.Event{e}
	}

	if !s.Src.MatchAny(e, s.Domains.Name) {
		return []ev.Event{e}
	}

	out := make([]ev.Event, 0, len(s.Dst)+1)
	if s.Keep {
		out = append(out, e)
	}

	for i, dst := range s.Dst {
		res := s.residualFor(i, e, dst)
		produced := dst.Apply(e, s.Domains, res)
		if s.Yield {
			produced = produced.WithYield()
		}
		out = append(out, produced)
	}

	return out
}

// residualFor returns the Fd residual accumulator for this (dst index,
// output type/code, event domain) combination, or nil if dst has no
// delta term — abs events and non-Fd templates never carry one (§4.D).
func (s *TransformStage) residualFor(dstIdx int, e ev.Event, dst ev.OutputTemplate) *float64 {
	if !dst.HasValue || !dst.Value.HasD {
		return nil
	}

	typ := dst.Type
	if typ == evAbs {
		return nil
	}

	code := e.Code
	if dst.HasCode {
		code = dst.Code
	}

	key := residualKey{dst: dstIdx, typ: typ, code: code, domain: e.Domain}

	r, ok := s.residuals[key]
	if !ok {
		r = new(float64)
		s.residuals[key] = r
	}

	return r
}
