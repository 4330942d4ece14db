package evsieve

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueTemplate computes an output value from a matched event's value,
// per spec §4.D: "C (constant), %C (numeric code), Fx (multiply old
// value by F, truncate), Fd (delta-scaled with residual), or sums
// thereof with constant offset (e.g. 1.5x+0.4d+1)."
type ValueTemplate struct {
	Const   int64
	HasX    bool
	XFactor float64
	HasD    bool
	DFactor float64
}

// ParseValueTemplate parses a value template expression.
func ParseValueTemplate(s string) (ValueTemplate, error) {
	var vt ValueTemplate

	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return vt, fmt.Errorf("ParseValueTemplate: empty value template")
	}

	for _, term := range splitTerms(s) {
		if err := vt.addTerm(term); err != nil {
			return ValueTemplate{}, fmt.Errorf("ParseValueTemplate: %w (in %q)", err, s)
		}
	}

	return vt, nil
}

// splitTerms splits a template on top-level '+'/'-', keeping the sign
// attached to each term (e.g. "1.5x+0.4d+1" -> ["1.5x", "+0.4d", "+1"]).
func splitTerms(s string) []string {
	var terms []string

	start := 0
	for i := 1; i < len(s); i++ {
		if (s[i] == '+' || s[i] == '-') && s[i-1] != 'e' && s[i-1] != 'E' {
			terms = append(terms, s[start:i])
			start = i
		}
	}

	terms = append(terms, s[start:])

	return terms
}

func (vt *ValueTemplate) addTerm(term string) error {
	if term == "" {
		return nil
	}

	switch {
	case strings.HasPrefix(term, "%") || strings.HasPrefix(term, "+%"):
		digits := strings.TrimPrefix(strings.TrimPrefix(term, "+"), "%")
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric escape %q: %w", term, err)
		}
		vt.Const += n

	case strings.HasSuffix(term, "x"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(term, "x"), 64)
		if err != nil {
			return fmt.Errorf("invalid scale factor %q: %w", term, err)
		}
		vt.HasX = true
		vt.XFactor += f

	case strings.HasSuffix(term, "d"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(term, "d"), 64)
		if err != nil {
			return fmt.Errorf("invalid delta factor %q: %w", term, err)
		}
		vt.HasD = true
		vt.DFactor += f

	default:
		n, err := strconv.ParseInt(term, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid constant term %q: %w", term, err)
		}
		vt.Const += n
	}

	return nil
}

// Apply computes the output value for oldValue. residual is the
// caller-owned accumulator for the Fd term (per spec §4.D, scale keeps
// a per-(type,code,domain) residual so integer outputs sum to the
// correct real total over time); pass nil when no Fd term is present or
// when the caller deliberately wants truncation without carry (abs
// events per §4.D never carry a residual).
func (vt ValueTemplate) Apply(oldValue int32, residual *float64) int32 {
	result := vt.Const

	if vt.HasX {
		result += int64(math.Trunc(vt.XFactor * float64(oldValue)))
	}

	if vt.HasD {
		total := vt.DFactor * float64(oldValue)
		if residual != nil {
			total += *residual
		}

		truncated := math.Trunc(total)
		if residual != nil {
			*residual = total - truncated
		}

		result += int64(truncated)
	}

	return int32(result)
}

// OutputTemplate is the dst side of a map/copy transform: a selector
// shaped code/value rewrite whose omitted fields borrow from the
// matched event (spec §4.A: "output template borrows missing fields
// from the matched event").
type OutputTemplate struct {
	TypeName string
	Type     uint16

	HasCode bool
	Code    uint16

	HasValue bool
	Value    ValueTemplate

	HasDomain bool
	Domain    string
}

// ParseOutputTemplate parses a dst token using the same type/code
// lookup machinery as ParseSelector.
func ParseOutputTemplate(s string, typeOf map[string]uint16, lookup CodeLookup) (OutputTemplate, error) {
	raw := s
	var tmpl OutputTemplate

	if at := strings.LastIndexByte(s, '@'); at != -1 {
		tmpl.HasDomain = true
		tmpl.Domain = s[at+1:]
		s = s[:at]
	}

	parts := strings.SplitN(s, ":", 3)
	typeName := strings.ToLower(parts[0])

	evType, ok := typeOf[typeName]
	if !ok {
		return OutputTemplate{}, fmt.Errorf("ParseOutputTemplate: unknown type %q in %q", parts[0], raw)
	}

	tmpl.TypeName = typeName
	tmpl.Type = evType

	if len(parts) >= 2 && parts[1] != "" {
		code, err := resolveCode(typeName, parts[1], lookup)
		if err != nil {
			return OutputTemplate{}, fmt.Errorf("ParseOutputTemplate: %w (in %q)", err, raw)
		}

		tmpl.HasCode = true
		tmpl.Code = code
	}

	if len(parts) == 3 && parts[2] != "" {
		vt, err := ParseValueTemplate(parts[2])
		if err != nil {
			return OutputTemplate{}, fmt.Errorf("ParseOutputTemplate: %w (in %q)", err, raw)
		}

		tmpl.HasValue = true
		tmpl.Value = vt
	}

	return tmpl, nil
}

// StaticCode resolves the output code a template produces for an event
// whose current code is inputCode, without needing an actual Event —
// used by the capability analyzer (§4.E) to propagate (type, code)
// pairs through map/copy/toggle/rel-to-abs stages.
func (tmpl OutputTemplate) StaticCode(inputCode uint16) uint16 {
	if tmpl.HasCode {
		return tmpl.Code
	}
	return inputCode
}

// Apply rewrites a matched event per the template, borrowing any field
// the template left unspecified from ev. residual is forwarded to the
// value template's Fd term, see ValueTemplate.Apply.
func (tmpl OutputTemplate) Apply(ev Event, domains *DomainRegistry, residual *float64) Event {
	out := ev
	out.Type = tmpl.Type

	if tmpl.HasCode {
		out.Code = tmpl.Code
	}

	if tmpl.HasValue {
		out.Value = tmpl.Value.Apply(ev.Value, residual)
	}

	if tmpl.HasDomain {
		out.Domain = domains.Intern(tmpl.Domain)
	}

	out.Flags = 0

	return out
}
