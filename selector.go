package evsieve

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueMatch matches the value field of an Event: any value, an
// explicit set, or a range (possibly open on one side).
type ValueMatch struct {
	any   bool
	set   map[int32]struct{}
	hasLo bool
	lo    int32
	hasHi bool
	hi    int32
}

// AnyValue matches every value.
func AnyValue() ValueMatch { return ValueMatch{any: true} }

// Match reports whether v satisfies the ValueMatch.
func (m ValueMatch) Match(v int32) bool {
	if m.any {
		return true
	}

	if m.set != nil {
		_, ok := m.set[v]
		return ok
	}

	if m.hasLo && v < m.lo {
		return false
	}

	if m.hasHi && v > m.hi {
		return false
	}

	return true
}

// parseValueMatch parses the value portion of a selector: empty (any),
// "N" (set of one), "N,M,..." (set), "N~M" (inclusive range), "N~"
// (open-ended above), or "~M" (open-ended below).
func parseValueMatch(s string) (ValueMatch, error) {
	if s == "" {
		return AnyValue(), nil
	}

	if strings.Contains(s, "~") {
		parts := strings.SplitN(s, "~", 2)
		vm := ValueMatch{}

		if parts[0] != "" {
			lo, err := strconv.ParseInt(parts[0], 10, 32)
			if err != nil {
				return ValueMatch{}, fmt.Errorf("parseValueMatch: invalid range lower bound %q: %w", s, err)
			}
			vm.hasLo, vm.lo = true, int32(lo)
		}

		if parts[1] != "" {
			hi, err := strconv.ParseInt(parts[1], 10, 32)
			if err != nil {
				return ValueMatch{}, fmt.Errorf("parseValueMatch: invalid range upper bound %q: %w", s, err)
			}
			vm.hasHi, vm.hi = true, int32(hi)
		}

		return vm, nil
	}

	members := strings.Split(s, ",")
	set := make(map[int32]struct{}, len(members))

	for _, member := range members {
		n, err := strconv.ParseInt(member, 10, 32)
		if err != nil {
			return ValueMatch{}, fmt.Errorf("parseValueMatch: invalid value %q: %w", s, err)
		}
		set[int32(n)] = struct{}{}
	}

	return ValueMatch{set: set}, nil
}

// Selector is a parsed key/event selector of the form
// type[:code[:value]][@domain], as described in spec §3/§4.A.
type Selector struct {
	// TypeName is the lowercase type keyword ("key", "btn", "rel",
	// "abs", ...). Empty TypeName never happens for a successfully
	// parsed selector.
	TypeName string

	// Type is the resolved EV_* numeric type.
	Type uint16

	// HasCode reports whether a code was given at all (false means
	// "any code of this type").
	HasCode bool

	// Code is the resolved numeric code, meaningful only if HasCode.
	Code uint16

	// BtnOnly is set when TypeName == "btn" and HasCode is false: match
	// any code of EV_KEY that falls in the BTN_* subrange.
	BtnOnly bool

	Value ValueMatch

	// Domain is the selector's domain filter; "" matches any domain.
	Domain string

	raw string
}

// CodeLookup resolves a symbolic or numeric code string against the
// name table for typeName. It is injected by the caller (internal/inputuapi
// lives behind a linux build tag; this package stays platform-neutral
// and receives the lookup function instead of importing inputuapi
// directly).
type CodeLookup func(typeName, code string) (numeric uint16, ok bool)

// ParseSelector parses one selector token using lookup to resolve
// symbolic type/code names. lookup receives the type keyword and the
// code string (already stripped of a leading '%' escape, which this
// function handles itself) and returns the matching numeric code.
func ParseSelector(s string, typeOf map[string]uint16, lookup CodeLookup) (Selector, error) {
	raw := s
	sel := Selector{raw: raw}

	if at := strings.LastIndexByte(s, '@'); at != -1 {
		sel.Domain = s[at+1:]
		s = s[:at]
	}

	parts := strings.SplitN(s, ":", 3)
	typeName := strings.ToLower(parts[0])

	evType, ok := typeOf[typeName]
	if !ok {
		return Selector{}, fmt.Errorf("ParseSelector: unknown type %q in selector %q", parts[0], raw)
	}

	sel.TypeName = typeName
	sel.Type = evType

	if len(parts) >= 2 && parts[1] != "" {
		code, err := resolveCode(typeName, parts[1], lookup)
		if err != nil {
			return Selector{}, fmt.Errorf("ParseSelector: %w (in selector %q)", err, raw)
		}

		sel.HasCode = true
		sel.Code = code
	} else if typeName == "btn" {
		sel.BtnOnly = true
	}

	if len(parts) == 3 {
		vm, err := parseValueMatch(parts[2])
		if err != nil {
			return Selector{}, fmt.Errorf("ParseSelector: %w (in selector %q)", err, raw)
		}

		sel.Value = vm
	} else {
		sel.Value = AnyValue()
	}

	return sel, nil
}

// resolveCode resolves a code token: "%N" is a numeric escape, anything
// else is looked up symbolically via lookup.
func resolveCode(typeName, token string, lookup CodeLookup) (uint16, error) {
	if strings.HasPrefix(token, "%") {
		n, err := strconv.ParseUint(token[1:], 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid numeric code escape %q: %w", token, err)
		}

		return uint16(n), nil
	}

	code, ok := lookup(typeName, strings.ToLower(token))
	if !ok {
		return 0, fmt.Errorf("unknown code %q for type %q", token, typeName)
	}

	return code, nil
}

// Match reports whether ev satisfies sel.
func (sel Selector) Match(ev Event, domainName func(Domain) string) bool {
	if ev.Type != sel.Type {
		return false
	}

	if sel.HasCode {
		if ev.Code != sel.Code {
			return false
		}
	} else if sel.BtnOnly {
		if !isBtnCode(ev.Code) {
			return false
		}
	}

	if !sel.Value.Match(ev.Value) {
		return false
	}

	if sel.Domain != "" {
		if domainName == nil || domainName(ev.Domain) != sel.Domain {
			return false
		}
	}

	return true
}

// MatchesCode reports whether a (type, code) pair could satisfy sel,
// ignoring value and domain. Used by the capability analyzer (§4.E),
// which reasons about which (type, code) pairs can reach an output
// without replaying actual event values.
func (sel Selector) MatchesCode(typ, code uint16) bool {
	if typ != sel.Type {
		return false
	}

	if sel.HasCode {
		return code == sel.Code
	}

	if sel.BtnOnly {
		return isBtnCode(code)
	}

	return true
}

// MatchesCode reports whether any selector in the set could match a
// (type, code) pair; see Selector.MatchesCode.
func (set SelectorSet) MatchesCode(typ, code uint16) bool {
	for _, sel := range set {
		if sel.MatchesCode(typ, code) {
			return true
		}
	}
	return false
}

// isBtnCode is overridden at init time by the inputuapi-aware package
// (internal/config) since this package must stay free of the
// linux-tagged inputuapi import; by default nothing is a button code.
var isBtnCode = func(code uint16) bool { return false }

// SetBtnCodeClassifier lets callers install the real BTN_* range test
// from internal/inputuapi once, at program startup.
func SetBtnCodeClassifier(f func(code uint16) bool) {
	isBtnCode = f
}

// SelectorSet is an OR of selectors, as used by every stage's input
// filter (spec §4.A: "a transform's selectors are OR'd").
type SelectorSet []Selector

// MatchAny reports whether ev matches any selector in the set. An empty
// set matches nothing; stages whose empty src stands for a default
// (scale, merge, withhold, output filters) check for that themselves
// before calling it.
func (set SelectorSet) MatchAny(ev Event, domainName func(Domain) string) bool {
	for _, sel := range set {
		if sel.Match(ev, domainName) {
			return true
		}
	}

	return false
}
