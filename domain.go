package evsieve

import "strconv"

// DomainRegistry interns domain strings to small integers so that
// Event comparisons and per-domain bookkeeping (merge, scale residuals)
// stay allocation-free on the hot path. It is owned by the reactor and
// never shared across goroutines; per §5, there is no pipeline-level
// concurrency, so this needs no locking.
type DomainRegistry struct {
	byName map[string]Domain
	names  []string
}

// NewDomainRegistry returns an empty registry. Domain 0 (DomainNone) is
// reserved and never returned by Intern.
func NewDomainRegistry() *DomainRegistry {
	return &DomainRegistry{
		byName: make(map[string]Domain),
		names:  []string{""},
	}
}

// Intern returns the Domain for name, assigning a new one if this is
// the first time name is seen.
func (r *DomainRegistry) Intern(name string) Domain {
	if d, ok := r.byName[name]; ok {
		return d
	}

	d := Domain(len(r.names))
	r.names = append(r.names, name)
	r.byName[name] = d

	return d
}

// Name returns the string a Domain was interned from, or "" for
// DomainNone or an unknown value.
func (r *DomainRegistry) Name(d Domain) string {
	if int(d) < 0 || int(d) >= len(r.names) {
		return ""
	}

	return r.names[d]
}

// AnonymousInputDomain returns the interned domain for the index-th
// input lacking an explicit domain= option, per SPEC_FULL.md's
// supplemented "__inputN" convention. The double underscore prefix
// keeps it from colliding with any user-chosen domain name, which
// config validation rejects if it starts with "__".
func (r *DomainRegistry) AnonymousInputDomain(index int) Domain {
	return r.Intern(anonymousDomainName(index))
}

func anonymousDomainName(index int) string {
	return "__input" + strconv.Itoa(index)
}
