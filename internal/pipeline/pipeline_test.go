package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ev "github.com/KarsMulder/evsieve"
)

func keySelector(code uint16, value ev.ValueMatch) ev.Selector {
	return ev.Selector{TypeName: "key", Type: evKey, HasCode: true, Code: code, Value: value}
}

func keyOutput(code uint16) ev.OutputTemplate {
	return ev.OutputTemplate{TypeName: "key", Type: evKey, HasCode: true, Code: code}
}

func TestTransformStageMapConsumesAndYields(t *testing.T) {
	domains := ev.NewDomainRegistry()
	stage := NewTransformStage(
		ev.SelectorSet{keySelector(30, ev.AnyValue())},
		[]ev.OutputTemplate{keyOutput(31)},
		false, true, domains,
	)

	out := stage.Run(ev.Event{Type: evKey, Code: 30, Value: 1})
	require.Len(t, out, 1)
	assert.Equal(t, uint16(31), out[0].Code)
	assert.True(t, out[0].Yielded())
}

func TestTransformStageCopyKeepsOriginal(t *testing.T) {
	domains := ev.NewDomainRegistry()
	stage := NewTransformStage(
		ev.SelectorSet{keySelector(30, ev.AnyValue())},
		[]ev.OutputTemplate{keyOutput(31)},
		true, false, domains,
	)

	out := stage.Run(ev.Event{Type: evKey, Code: 30, Value: 1})
	require.Len(t, out, 2)
	assert.Equal(t, uint16(30), out[0].Code)
	assert.Equal(t, uint16(31), out[1].Code)
}

func TestBlockStageDrops(t *testing.T) {
	domains := ev.NewDomainRegistry()
	stage := &BlockStage{Src: ev.SelectorSet{keySelector(30, ev.AnyValue())}, Domains: domains}

	assert.Nil(t, stage.Run(ev.Event{Type: evKey, Code: 30, Value: 1}))
	assert.Len(t, stage.Run(ev.Event{Type: evKey, Code: 31, Value: 1}), 1)
}

func TestMergeStageSuppressesDuplicatePress(t *testing.T) {
	domains := ev.NewDomainRegistry()
	stage := NewMergeStage(nil, domains)

	first := stage.Run(ev.Event{Type: evKey, Code: 30, Value: 1})
	second := stage.Run(ev.Event{Type: evKey, Code: 30, Value: 1})
	releaseWithoutPress := stage.Run(ev.Event{Type: evKey, Code: 31, Value: 0})
	release := stage.Run(ev.Event{Type: evKey, Code: 30, Value: 0})

	assert.Len(t, first, 1)
	assert.Nil(t, second)
	assert.Nil(t, releaseWithoutPress)
	assert.Len(t, release, 1)
}

func TestToggleStageRoutesToCurrentBranch(t *testing.T) {
	domains := ev.NewDomainRegistry()
	reg := NewToggleRegistry()
	stage := &ToggleStage{
		Src:      ev.SelectorSet{keySelector(30, ev.AnyValue())},
		Branches: []ev.OutputTemplate{keyOutput(40), keyOutput(41)},
		ID:       "",
		Registry: reg,
		Domains:  domains,
	}

	out := stage.Run(ev.Event{Type: evKey, Code: 30, Value: 1})
	assert.Equal(t, uint16(40), out[0].Code)

	reg.Advance("")
	out = stage.Run(ev.Event{Type: evKey, Code: 30, Value: 1})
	assert.Equal(t, uint16(41), out[0].Code)
}

func TestHookStageActivatesOnAllTriggers(t *testing.T) {
	domains := ev.NewDomainRegistry()
	toggles := NewToggleRegistry()
	hook := NewHookStage(
		[]ev.Selector{keySelector(29, ev.AnyValue()), keySelector(56, ev.AnyValue())},
		[]Consequence{{Kind: ConsequenceSendKey, SendKeyCode: 1}},
		0, false, nil, domains, toggles, nil,
	)

	out := hook.Run(ev.Event{Type: evKey, Code: 29, Value: 1})
	assert.Len(t, out, 1) // still partial, just passthrough
	assert.False(t, hook.LastDecision().Activated)

	out = hook.Run(ev.Event{Type: evKey, Code: 56, Value: 1})
	require.Len(t, out, 2) // trigger passthrough + injected send-key press
	assert.True(t, hook.LastDecision().Activated)
	assert.Equal(t, uint16(1), out[1].Code)
	assert.Equal(t, int32(1), out[1].Value)

	out = hook.Run(ev.Event{Type: evKey, Code: 56, Value: 0})
	require.Len(t, out, 2) // release passthrough + injected send-key release
	assert.Equal(t, int32(0), out[1].Value)
}

func TestHookStageSequentialViolationDemotes(t *testing.T) {
	domains := ev.NewDomainRegistry()
	toggles := NewToggleRegistry()
	hook := NewHookStage(
		[]ev.Selector{keySelector(29, ev.AnyValue()), keySelector(56, ev.AnyValue())},
		nil, 0, true, nil, domains, toggles, nil,
	)

	hook.Run(ev.Event{Type: evKey, Code: 56, Value: 1}) // wrong order, should demote to idle
	assert.True(t, hook.LastDecision().Released)
	assert.Equal(t, HookIdle, hook.state)
}

func TestHookStageBreaksOnDemotes(t *testing.T) {
	domains := ev.NewDomainRegistry()
	toggles := NewToggleRegistry()
	hook := NewHookStage(
		[]ev.Selector{keySelector(29, ev.AnyValue()), keySelector(56, ev.AnyValue())},
		nil, 0, false, ev.SelectorSet{keySelector(1, ev.AnyValue())}, domains, toggles, nil,
	)

	hook.Run(ev.Event{Type: evKey, Code: 29, Value: 1})
	assert.Equal(t, HookPartial, hook.state)

	hook.Run(ev.Event{Type: evKey, Code: 1, Value: 1})
	assert.Equal(t, HookIdle, hook.state)
	assert.True(t, hook.LastDecision().Released)
}

func TestHookStagePeriodTimeout(t *testing.T) {
	domains := ev.NewDomainRegistry()
	toggles := NewToggleRegistry()
	hook := NewHookStage(
		[]ev.Selector{keySelector(29, ev.AnyValue()), keySelector(56, ev.AnyValue())},
		nil, time.Millisecond, false, nil, domains, toggles, nil,
	)

	hook.Run(ev.Event{Type: evKey, Code: 29, Value: 1})
	require.Equal(t, HookPartial, hook.state)

	time.Sleep(5 * time.Millisecond)
	hook.Tick()

	assert.Equal(t, HookIdle, hook.state)
	assert.True(t, hook.LastDecision().Released)
}

func TestWithholdConsumesOnActivation(t *testing.T) {
	domains := ev.NewDomainRegistry()
	toggles := NewToggleRegistry()
	hook := NewHookStage(
		[]ev.Selector{keySelector(29, ev.AnyValue()), keySelector(56, ev.AnyValue())},
		nil, 0, false, nil, domains, toggles, nil,
	)
	wh := NewWithholdStage(nil, []*HookStage{hook}, domains)

	// First trigger: hook goes Partial, withhold buffers it, nothing
	// released yet.
	hookOut := hook.Run(ev.Event{Type: evKey, Code: 29, Value: 1})
	var whOut []ev.Event
	for _, e := range hookOut {
		whOut = append(whOut, wh.Run(e)...)
	}
	assert.Empty(t, whOut)

	// Second trigger activates: both buffered events are consumed, not
	// released.
	hookOut = hook.Run(ev.Event{Type: evKey, Code: 56, Value: 1})
	whOut = nil
	for _, e := range hookOut {
		whOut = append(whOut, wh.Run(e)...)
	}
	assert.Empty(t, whOut)
}

func TestWithholdReleasesOnAbandonment(t *testing.T) {
	domains := ev.NewDomainRegistry()
	toggles := NewToggleRegistry()
	hook := NewHookStage(
		[]ev.Selector{keySelector(29, ev.AnyValue()), keySelector(56, ev.AnyValue())},
		nil, 0, false, nil, domains, toggles, nil,
	)
	wh := NewWithholdStage(nil, []*HookStage{hook}, domains)

	hookOut := hook.Run(ev.Event{Type: evKey, Code: 29, Value: 1})
	for _, e := range hookOut {
		wh.Run(e)
	}

	// The held trigger releases before the second trigger arrives: hook
	// demotes, withhold must replay the buffered press before the
	// release event itself.
	hookOut = hook.Run(ev.Event{Type: evKey, Code: 29, Value: 0})
	var whOut []ev.Event
	for _, e := range hookOut {
		whOut = append(whOut, wh.Run(e)...)
	}

	require.Len(t, whOut, 2)
	assert.Equal(t, int32(1), whOut[0].Value) // the replayed press
	assert.Equal(t, int32(0), whOut[1].Value) // the release that caused it
}

func TestScaleStageAccumulatesRelResidual(t *testing.T) {
	domains := ev.NewDomainRegistry()
	stage := NewScaleStage(nil, 1.5, domains)

	out1 := stage.Run(ev.Event{Type: evRel, Code: 0, Value: 1})
	out2 := stage.Run(ev.Event{Type: evRel, Code: 0, Value: 1})
	out3 := stage.Run(ev.Event{Type: evRel, Code: 0, Value: 1})

	total := out1[0].Value + out2[0].Value + out3[0].Value
	assert.Equal(t, int32(4), total) // 1.5*3 = 4.5, truncates to 4 over time, not 3
}

func TestRelToAbsClamps(t *testing.T) {
	domains := ev.NewDomainRegistry()
	src := keySelector(0, ev.AnyValue())
	src.Type = evRel
	dst := keyOutput(0)
	dst.Type = evAbs

	stage := NewRelToAbsStage(src, dst, 0, 10, domains)

	out := stage.Run(ev.Event{Type: evRel, Code: 0, Value: 15})
	assert.Equal(t, int32(10), out[0].Value)

	out = stage.Run(ev.Event{Type: evRel, Code: 0, Value: -100})
	assert.Equal(t, int32(0), out[0].Value)
}

func TestDelayStageReleasesAfterPeriod(t *testing.T) {
	domains := ev.NewDomainRegistry()
	stage := NewDelayStage(ev.SelectorSet{keySelector(30, ev.AnyValue())}, 10*time.Millisecond, domains)

	now := time.Now()
	stage.now = func() time.Time { return now }

	out := stage.Run(ev.Event{Type: evKey, Code: 30, Value: 1})
	assert.Nil(t, out)

	stage.now = func() time.Time { return now.Add(5 * time.Millisecond) }
	assert.Empty(t, stage.Tick())

	stage.now = func() time.Time { return now.Add(11 * time.Millisecond) }
	released := stage.Tick()
	require.Len(t, released, 1)
	assert.Equal(t, uint16(30), released[0].Code)
}

func TestPipelineDriveOrdersPerEventToCompletion(t *testing.T) {
	domains := ev.NewDomainRegistry()
	mapStage := NewTransformStage(
		ev.SelectorSet{keySelector(30, ev.AnyValue())},
		[]ev.OutputTemplate{keyOutput(40), keyOutput(41)},
		false, false, domains,
	)

	var sunk []ev.Event
	p := &Pipeline{Stages: []Stage{mapStage}, Sink: func(e ev.Event) { sunk = append(sunk, e) }}

	p.Run([]ev.Event{
		{Type: evKey, Code: 30, Value: 1},
		{Type: evKey, Code: 31, Value: 1},
	})

	require.Len(t, sunk, 3)
	assert.Equal(t, uint16(40), sunk[0].Code)
	assert.Equal(t, uint16(41), sunk[1].Code)
	assert.Equal(t, uint16(31), sunk[2].Code)
}
