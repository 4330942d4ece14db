package pipeline

import ev "github.com/KarsMulder/evsieve"

// ToggleRegistry is the shared store of toggle state, reachable both
// from ToggleStage (routing) and from hook `toggle` consequences and
// the control FIFO's `toggle`/`toggle=ID`/`toggle=ID:K` commands (spec
// §4.D, §4.G). Anonymous toggles (no id=) all advance together under
// one implicit counter; named toggles each keep their own index.
type ToggleRegistry struct {
	anonymous int
	named     map[string]*int
}

// NewToggleRegistry returns an empty registry.
func NewToggleRegistry() *ToggleRegistry {
	return &ToggleRegistry{named: make(map[string]*int)}
}

func (r *ToggleRegistry) namedCounter(id string) *int {
	c, ok := r.named[id]
	if !ok {
		c = new(int)
		r.named[id] = c
	}
	return c
}

// Advance implements the bare `toggle`/`toggle=ID` commands: id == ""
// advances the shared anonymous group, otherwise the named toggle.
func (r *ToggleRegistry) Advance(id string) {
	if id == "" {
		r.anonymous++
		return
	}
	*r.namedCounter(id)++
}

// Set implements `toggle=ID:K`, setting a named toggle's index
// directly.
func (r *ToggleRegistry) Set(id string, index int) {
	*r.namedCounter(id) = index
}

// index returns the current branch index for a toggle with n branches,
// wrapped into [0, n).
func (r *ToggleRegistry) index(id string, n int) int {
	var raw int
	if id == "" {
		raw = r.anonymous
	} else {
		raw = *r.namedCounter(id)
	}

	idx := raw % n
	if idx < 0 {
		idx += n
	}
	return idx
}

// ToggleStage routes matched events to whichever branch is currently
// selected (spec §4.D: "toggle src… out1 out2 … [id=] – stateful
// multi-branch: routes matched events to the currently-selected
// branch").
type ToggleStage struct {
	Src      ev.SelectorSet
	Branches []ev.OutputTemplate
	ID       string // "" joins the anonymous group
	Registry *ToggleRegistry
	Domains  *ev.DomainRegistry
}

func (s *ToggleStage) Run(e ev.Event) []ev.Event {
	if e.Yielded() {
		return []ev.Event{e}
	}

	if !s.Src.MatchAny(e, s.Domains.Name) {
		return []ev.Event{e}
	}

	idx := s.Registry.index(s.ID, len(s.Branches))
	return []ev.Event{s.Branches[idx].Apply(e, s.Domains, nil)}
}
