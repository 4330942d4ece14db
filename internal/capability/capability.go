// Package capability implements the static capability propagation pass
// of spec §4.E: before opening uinput, compute the set of (type, code)
// pairs each output may ever emit, so the output device builder can
// advertise accurate EVIOCGBIT-equivalent capabilities up front instead
// of discovering them by surprise at runtime.
package capability

import (
	"github.com/KarsMulder/evsieve/internal/pipeline"

	ev "github.com/KarsMulder/evsieve"
)

// Key is a bare (type, code) pair, deliberately dropping value range
// and domain: spec §4.E only asks for "the set of (type, code) pairs
// it may emit", and the persistence cache (§4.F) serializes exactly
// this shape.
type Key struct {
	Type uint16
	Code uint16
}

// Set is an unordered collection of capability keys.
type Set map[Key]struct{}

// NewSet returns an empty Set.
func NewSet() Set { return make(Set) }

// Add inserts a key.
func (s Set) Add(typ, code uint16) { s[Key{typ, code}] = struct{}{} }

// Union returns a new Set containing every key from s and other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Has reports whether (typ, code) is in s.
func (s Set) Has(typ, code uint16) bool {
	_, ok := s[Key{typ, code}]
	return ok
}

const evSyn = 0x00

// Propagate threads a capability set through stages in order, per spec
// §4.E: map/copy add the output template's codes, block removes
// matches, merge passes through unchanged, toggle unions over its
// branches, hook's send-key consequences add their injected codes,
// scale keeps the type/code (only the value range would change, which
// this coarse model does not track), and rel-to-abs moves matched
// rel: codes to their abs: destination.
func Propagate(stages []pipeline.Stage, in Set) Set {
	cur := in
	for _, stage := range stages {
		cur = propagateOne(stage, cur)
	}

	cur.Add(evSyn, 0)
	return cur
}

func propagateOne(stage pipeline.Stage, in Set) Set {
	switch s := stage.(type) {
	case *pipeline.TransformStage:
		out := make(Set, len(in))
		for k := range in {
			if !s.Src.MatchesCode(k.Type, k.Code) {
				out[k] = struct{}{}
				continue
			}

			if s.Keep {
				out[k] = struct{}{}
			}

			for _, dst := range s.Dst {
				out.Add(dst.Type, dst.StaticCode(k.Code))
			}
		}
		return out

	case *pipeline.BlockStage:
		out := make(Set, len(in))
		for k := range in {
			if !s.Src.MatchesCode(k.Type, k.Code) {
				out[k] = struct{}{}
			}
		}
		return out

	case *pipeline.MergeStage:
		return in

	case *pipeline.ToggleStage:
		out := make(Set, len(in))
		for k := range in {
			if !s.Src.MatchesCode(k.Type, k.Code) {
				out[k] = struct{}{}
				continue
			}
			for _, branch := range s.Branches {
				out.Add(branch.Type, branch.StaticCode(k.Code))
			}
		}
		return out

	case *pipeline.HookStage:
		out := make(Set, len(in))
		for k := range in {
			out[k] = struct{}{}
		}
		for _, c := range s.Consequences {
			if c.Kind == pipeline.ConsequenceSendKey {
				out.Add(evKeyType, c.SendKeyCode)
			}
		}
		return out

	case *pipeline.WithholdStage:
		return in

	case *pipeline.ScaleStage:
		return in

	case *pipeline.RelToAbsStage:
		out := make(Set, len(in))
		for k := range in {
			if s.Src.MatchesCode(k.Type, k.Code) {
				out.Add(s.Dst.Type, s.Dst.StaticCode(k.Code))
				continue
			}
			out[k] = struct{}{}
		}
		return out

	case *pipeline.DelayStage:
		return in

	default:
		return in
	}
}

const evKeyType = 0x01

// Filter returns the subset of caps visible to an output that only
// wants events matching sel (spec §4.E: "An output's final capability
// is the union of codes still reaching it filtered by its declared
// selectors"). An empty sel accepts everything.
func Filter(caps Set, sel ev.SelectorSet) Set {
	if len(sel) == 0 {
		return caps
	}

	out := make(Set, len(caps))
	for k := range caps {
		if sel.MatchesCode(k.Type, k.Code) {
			out[k] = struct{}{}
		}
	}
	out.Add(evSyn, 0)
	return out
}
