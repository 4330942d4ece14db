//go:build linux

// Package config implements the CLI argument-group tokenizer and the
// translation from parsed argument groups into a running Pipeline: the
// thin collaborator spec.md §1 calls out as out of scope ("the CLI
// argument tokenizer and its grammar; only their interfaces to the core
// are specified"). It owns exactly enough grammar to build every stage
// kind spec §4.D describes and the --input/--output/--control-fifo
// declarations of §6; it does not attempt to reproduce every flag
// upstream evsieve accepts.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/KarsMulder/evsieve/internal/inputuapi"
	"github.com/KarsMulder/evsieve/internal/pipeline"

	ev "github.com/KarsMulder/evsieve"
)

func init() {
	ev.SetBtnCodeClassifier(inputuapi.IsBtnCode)
}

var typeOf = inputuapi.TypeNames

func lookup(typeName, code string) (uint16, bool) {
	names, ok := inputuapi.NamesForType(typeName)
	if !ok {
		return 0, false
	}
	c, ok := names[code]
	return c, ok
}

// Group is one "--section token token …" run of argv.
type Group struct {
	Name   string
	Tokens []string
}

// Tokenize splits argv into Groups. Every group's first token must
// begin with "--"; anything before the first such token is an error.
func Tokenize(args []string) ([]Group, error) {
	var groups []Group

	for _, a := range args {
		if strings.HasPrefix(a, "--") {
			groups = append(groups, Group{Name: strings.TrimPrefix(a, "--")})
			continue
		}

		if len(groups) == 0 {
			return nil, fmt.Errorf("config.Tokenize: argument %q before any --section", a)
		}

		last := &groups[len(groups)-1]
		last.Tokens = append(last.Tokens, a)
	}

	return groups, nil
}

// InputSpec describes one --input declaration (spec §3 "Input device").
type InputSpec struct {
	Path    string
	Domain  string // "" means auto-assign an anonymous domain
	Grab    string // none|auto|force
	Persist string // none|reopen|full
}

// OutputSpec describes one --output declaration (spec §3 "Output
// device").
type OutputSpec struct {
	Name       string
	CreateLink string
	Repeat     string // passive|enable|disable
	Filters    ev.SelectorSet
}

// Pipeline is everything Build extracted from argv.
type Pipeline struct {
	Inputs      []InputSpec
	Outputs     []OutputSpec
	Stages      []pipeline.Stage
	ControlFIFO string
}

// Build walks the tokenized groups in order, constructing pipeline
// stages as it goes (matching spec §4.D's "ordered list of stages")
// and consuming --input/--output/--control-fifo declarations
// separately from the stage list.
func Build(groups []Group, domains *ev.DomainRegistry, toggles *pipeline.ToggleRegistry, logger *slog.Logger) (*Pipeline, error) {
	cfg := &Pipeline{}

	var pendingHooks []*pipeline.HookStage // hooks since the last --withhold, per spec §4.D "withhold… paired with … all preceding hooks since the last --withhold"
	inputIndex := 0

	for _, g := range groups {
		switch g.Name {
		case "input":
			spec, err := parseInput(g.Tokens, domains, inputIndex)
			if err != nil {
				return nil, err
			}
			cfg.Inputs = append(cfg.Inputs, spec)
			inputIndex++

		case "output":
			spec, err := parseOutput(g.Tokens)
			if err != nil {
				return nil, err
			}
			cfg.Outputs = append(cfg.Outputs, spec)

		case "control-fifo":
			if len(g.Tokens) != 1 {
				return nil, fmt.Errorf("config: --control-fifo takes exactly one path")
			}
			cfg.ControlFIFO = g.Tokens[0]

		case "map", "copy":
			stage, err := parseTransform(g.Name, g.Tokens, domains)
			if err != nil {
				return nil, err
			}
			cfg.Stages = append(cfg.Stages, stage)

		case "block":
			src, err := parseSelectors(g.Tokens)
			if err != nil {
				return nil, err
			}
			cfg.Stages = append(cfg.Stages, &pipeline.BlockStage{Src: src, Domains: domains})

		case "merge":
			src, err := parseSelectors(g.Tokens)
			if err != nil {
				return nil, err
			}
			cfg.Stages = append(cfg.Stages, pipeline.NewMergeStage(src, domains))

		case "toggle":
			stage, err := parseToggle(g.Tokens, domains, toggles)
			if err != nil {
				return nil, err
			}
			cfg.Stages = append(cfg.Stages, stage)

		case "hook":
			stage, err := parseHook(g.Tokens, domains, toggles, logger)
			if err != nil {
				return nil, err
			}
			cfg.Stages = append(cfg.Stages, stage)
			pendingHooks = append(pendingHooks, stage)

		case "withhold":
			stage, err := parseWithhold(g.Tokens, pendingHooks, domains)
			if err != nil {
				return nil, err
			}
			cfg.Stages = append(cfg.Stages, stage)
			pendingHooks = nil

		case "scale":
			stage, err := parseScale(g.Tokens, domains)
			if err != nil {
				return nil, err
			}
			cfg.Stages = append(cfg.Stages, stage)

		case "rel-to-abs":
			stage, err := parseRelToAbs(g.Tokens, domains)
			if err != nil {
				return nil, err
			}
			cfg.Stages = append(cfg.Stages, stage)

		case "delay":
			stage, err := parseDelay(g.Tokens, domains)
			if err != nil {
				return nil, err
			}
			cfg.Stages = append(cfg.Stages, stage)

		default:
			return nil, fmt.Errorf("config: unknown section --%s", g.Name)
		}
	}

	return cfg, nil
}

func splitKV(tok string) (key, value string, ok bool) {
	idx := strings.IndexByte(tok, '=')
	if idx < 0 {
		return "", "", false
	}
	return tok[:idx], tok[idx+1:], true
}

func parseInput(tokens []string, domains *ev.DomainRegistry, index int) (InputSpec, error) {
	spec := InputSpec{Grab: "auto", Persist: "none"}

	for _, t := range tokens {
		if key, val, ok := splitKV(t); ok {
			switch key {
			case "domain":
				if strings.HasPrefix(val, "__") {
					return InputSpec{}, fmt.Errorf("config: --input: domain %q must not start with \"__\"", val)
				}
				spec.Domain = val
			case "grab":
				spec.Grab = val
			case "persist":
				spec.Persist = val
			default:
				return InputSpec{}, fmt.Errorf("config: --input: unknown option %q", t)
			}
			continue
		}

		if spec.Path != "" {
			return InputSpec{}, fmt.Errorf("config: --input: unexpected extra path %q", t)
		}
		spec.Path = t
	}

	if spec.Path == "" {
		return InputSpec{}, fmt.Errorf("config: --input: missing device path")
	}

	if spec.Domain == "" {
		spec.Domain = fmt.Sprintf("__input%d", index)
	}
	domains.Intern(spec.Domain)

	return spec, nil
}

func parseOutput(tokens []string) (OutputSpec, error) {
	spec := OutputSpec{Name: "evsieve virtual device", Repeat: "passive"}

	var rest []string
	for _, t := range tokens {
		if key, val, ok := splitKV(t); ok {
			switch key {
			case "create-link":
				spec.CreateLink = val
				continue
			case "repeat":
				spec.Repeat = val
				continue
			case "name":
				spec.Name = val
				continue
			}
		}
		rest = append(rest, t)
	}

	sels, err := parseSelectors(rest)
	if err != nil {
		return OutputSpec{}, fmt.Errorf("config: --output: %w", err)
	}
	spec.Filters = sels

	return spec, nil
}

func parseSelectors(tokens []string) (ev.SelectorSet, error) {
	set := make(ev.SelectorSet, 0, len(tokens))
	for _, t := range tokens {
		sel, err := ev.ParseSelector(t, typeOf, lookup)
		if err != nil {
			return nil, err
		}
		set = append(set, sel)
	}
	return set, nil
}

// splitSrcDst splits a map/copy/toggle-style token list into the
// leading run of selector-parseable tokens (src) and the trailing run
// (dst/branches), stopping the src run at the first token that either
// fails to parse as a selector or is a recognized trailing option
// (yield, id=...). When every token parses as a selector, the first
// token is the src and the rest are the dst.
func splitSrcDst(tokens []string) (srcToks, dstToks []string) {
	i := 0
	for ; i < len(tokens); i++ {
		if tokens[i] == "yield" {
			break
		}
		if key, _, ok := splitKV(tokens[i]); ok && key == "id" {
			break
		}
		if _, err := ev.ParseSelector(tokens[i], typeOf, lookup); err != nil {
			break
		}
	}
	if i == len(tokens) && len(tokens) > 1 {
		i = 1
	}
	return tokens[:i], tokens[i:]
}

func parseTransform(kind string, tokens []string, domains *ev.DomainRegistry) (*pipeline.TransformStage, error) {
	yield := false
	var clean []string
	for _, t := range tokens {
		if t == "yield" {
			yield = true
			continue
		}
		clean = append(clean, t)
	}

	srcToks, dstToks := splitSrcDst(clean)
	if len(srcToks) == 0 || len(dstToks) == 0 {
		return nil, fmt.Errorf("config: --%s: need at least one src and one dst", kind)
	}

	src, err := parseSelectors(srcToks)
	if err != nil {
		return nil, fmt.Errorf("config: --%s: %w", kind, err)
	}

	dst := make([]ev.OutputTemplate, 0, len(dstToks))
	for _, t := range dstToks {
		tmpl, err := ev.ParseOutputTemplate(t, typeOf, lookup)
		if err != nil {
			return nil, fmt.Errorf("config: --%s: %w", kind, err)
		}
		dst = append(dst, tmpl)
	}

	return pipeline.NewTransformStage(src, dst, kind == "copy", yield, domains), nil
}

// parseToggle implements the convention described in DESIGN.md for
// spec §4.D's "toggle src… out1 out2 … [id=]": the first selector
// token is the (possibly sole) src filter, every selector token after
// it up to id= is a branch, matching spec scenario 3's
// "--toggle key:a key:b key:c id=t" (src=key:a, branches=[key:b,
// key:c]).
func parseToggle(tokens []string, domains *ev.DomainRegistry, toggles *pipeline.ToggleRegistry) (*pipeline.ToggleStage, error) {
	var id string
	var selToks []string
	for _, t := range tokens {
		if key, val, ok := splitKV(t); ok && key == "id" {
			id = val
			continue
		}
		selToks = append(selToks, t)
	}

	if len(selToks) < 2 {
		return nil, fmt.Errorf("config: --toggle: need a src selector and at least one branch")
	}

	srcSel, err := ev.ParseSelector(selToks[0], typeOf, lookup)
	if err != nil {
		return nil, fmt.Errorf("config: --toggle: %w", err)
	}

	branches := make([]ev.OutputTemplate, 0, len(selToks)-1)
	for _, t := range selToks[1:] {
		tmpl, err := ev.ParseOutputTemplate(t, typeOf, lookup)
		if err != nil {
			return nil, fmt.Errorf("config: --toggle: %w", err)
		}
		branches = append(branches, tmpl)
	}

	return &pipeline.ToggleStage{
		Src:      ev.SelectorSet{srcSel},
		Branches: branches,
		ID:       id,
		Registry: toggles,
		Domains:  domains,
	}, nil
}

func parseHook(tokens []string, domains *ev.DomainRegistry, toggles *pipeline.ToggleRegistry, logger *slog.Logger) (*pipeline.HookStage, error) {
	var (
		triggers     []ev.Selector
		consequences []pipeline.Consequence
		period       time.Duration
		sequential   bool
		breaksOn     ev.SelectorSet
	)

	for _, t := range tokens {
		switch {
		case t == "sequential":
			sequential = true

		case strings.HasPrefix(t, "period="):
			secs, err := strconv.ParseFloat(strings.TrimPrefix(t, "period="), 64)
			if err != nil {
				return nil, fmt.Errorf("config: --hook: invalid period %q: %w", t, err)
			}
			period = time.Duration(secs * float64(time.Second))

		case strings.HasPrefix(t, "breaks-on="):
			sel, err := ev.ParseSelector(strings.TrimPrefix(t, "breaks-on="), typeOf, lookup)
			if err != nil {
				return nil, fmt.Errorf("config: --hook: %w", err)
			}
			breaksOn = append(breaksOn, sel)

		case strings.HasPrefix(t, "exec-shell="):
			consequences = append(consequences, pipeline.Consequence{
				Kind:  pipeline.ConsequenceExecShell,
				Shell: strings.TrimPrefix(t, "exec-shell="),
			})

		case strings.HasPrefix(t, "send-key="):
			code, ok := lookup("key", strings.TrimPrefix(t, "send-key="))
			if !ok {
				return nil, fmt.Errorf("config: --hook: unknown send-key target %q", t)
			}
			consequences = append(consequences, pipeline.Consequence{Kind: pipeline.ConsequenceSendKey, SendKeyCode: code})

		case t == "toggle":
			consequences = append(consequences, pipeline.Consequence{Kind: pipeline.ConsequenceToggle})

		case strings.HasPrefix(t, "toggle="):
			rest := strings.TrimPrefix(t, "toggle=")
			if idx := strings.IndexByte(rest, ':'); idx >= 0 {
				k, err := strconv.Atoi(rest[idx+1:])
				if err != nil {
					return nil, fmt.Errorf("config: --hook: invalid toggle index %q: %w", t, err)
				}
				consequences = append(consequences, pipeline.Consequence{
					Kind: pipeline.ConsequenceToggle, ToggleID: rest[:idx], ToggleIndex: k, HasToggleIndex: true,
				})
			} else {
				consequences = append(consequences, pipeline.Consequence{Kind: pipeline.ConsequenceToggle, ToggleID: rest})
			}

		default:
			sel, err := ev.ParseSelector(t, typeOf, lookup)
			if err != nil {
				return nil, fmt.Errorf("config: --hook: %w", err)
			}
			triggers = append(triggers, sel)
		}
	}

	if len(triggers) == 0 {
		return nil, fmt.Errorf("config: --hook: need at least one trigger selector")
	}

	return pipeline.NewHookStage(triggers, consequences, period, sequential, breaksOn, domains, toggles, logger), nil
}

func parseWithhold(tokens []string, pendingHooks []*pipeline.HookStage, domains *ev.DomainRegistry) (*pipeline.WithholdStage, error) {
	if len(pendingHooks) == 0 {
		return nil, fmt.Errorf("config: --withhold: no preceding --hook to pair with")
	}

	src, err := parseSelectors(tokens)
	if err != nil {
		return nil, fmt.Errorf("config: --withhold: %w", err)
	}

	hooks := make([]*pipeline.HookStage, len(pendingHooks))
	copy(hooks, pendingHooks)

	return pipeline.NewWithholdStage(src, hooks, domains), nil
}

func parseScale(tokens []string, domains *ev.DomainRegistry) (*pipeline.ScaleStage, error) {
	var factor float64
	hasFactor := false
	var selToks []string

	for _, t := range tokens {
		if key, val, ok := splitKV(t); ok && key == "factor" {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("config: --scale: invalid factor %q: %w", t, err)
			}
			factor = f
			hasFactor = true
			continue
		}
		selToks = append(selToks, t)
	}

	if !hasFactor {
		return nil, fmt.Errorf("config: --scale: missing factor=")
	}

	src, err := parseSelectors(selToks)
	if err != nil {
		return nil, fmt.Errorf("config: --scale: %w", err)
	}

	return pipeline.NewScaleStage(src, factor, domains), nil
}

func parseRelToAbs(tokens []string, domains *ev.DomainRegistry) (*pipeline.RelToAbsStage, error) {
	if len(tokens) != 2 {
		return nil, fmt.Errorf("config: --rel-to-abs: expected exactly rel:SRC abs:DST:min~max")
	}

	src, err := ev.ParseSelector(tokens[0], typeOf, lookup)
	if err != nil {
		return nil, fmt.Errorf("config: --rel-to-abs: %w", err)
	}

	lastColon := strings.LastIndexByte(tokens[1], ':')
	if lastColon < 0 {
		return nil, fmt.Errorf("config: --rel-to-abs: destination %q missing a min~max range", tokens[1])
	}
	dstSpec := tokens[1][:lastColon]
	rangeTok := tokens[1][lastColon+1:]

	dst, err := ev.ParseOutputTemplate(dstSpec, typeOf, lookup)
	if err != nil {
		return nil, fmt.Errorf("config: --rel-to-abs: %w", err)
	}

	lo, hi, err := parseRange(rangeTok)
	if err != nil {
		return nil, fmt.Errorf("config: --rel-to-abs: %w", err)
	}

	return pipeline.NewRelToAbsStage(src, dst, lo, hi, domains), nil
}

func parseRange(s string) (lo, hi int32, err error) {
	parts := strings.SplitN(s, "~", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range %q, expected min~max", s)
	}
	loV, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range lower bound %q: %w", s, err)
	}
	hiV, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range upper bound %q: %w", s, err)
	}
	return int32(loV), int32(hiV), nil
}

func parseDelay(tokens []string, domains *ev.DomainRegistry) (*pipeline.DelayStage, error) {
	var period time.Duration
	hasPeriod := false
	var selToks []string

	for _, t := range tokens {
		if key, val, ok := splitKV(t); ok && key == "period" {
			secs, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("config: --delay: invalid period %q: %w", t, err)
			}
			period = time.Duration(secs * float64(time.Second))
			hasPeriod = true
			continue
		}
		selToks = append(selToks, t)
	}

	if !hasPeriod {
		return nil, fmt.Errorf("config: --delay: missing period=")
	}

	src, err := parseSelectors(selToks)
	if err != nil {
		return nil, fmt.Errorf("config: --delay: %w", err)
	}

	return pipeline.NewDelayStage(src, period, domains), nil
}
