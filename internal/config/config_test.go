package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KarsMulder/evsieve/internal/pipeline"

	ev "github.com/KarsMulder/evsieve"
)

func TestTokenizeGroupsBySection(t *testing.T) {
	groups, err := Tokenize([]string{"--input", "/dev/input/event0", "--map", "key:a", "key:b"})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "input", groups[0].Name)
	assert.Equal(t, []string{"/dev/input/event0"}, groups[0].Tokens)
	assert.Equal(t, "map", groups[1].Name)
	assert.Equal(t, []string{"key:a", "key:b"}, groups[1].Tokens)
}

func TestTokenizeRejectsLeadingBareToken(t *testing.T) {
	_, err := Tokenize([]string{"/dev/input/event0", "--input"})
	assert.Error(t, err)
}

func TestBuildMapStage(t *testing.T) {
	groups, err := Tokenize([]string{
		"--input", "/dev/input/event0",
		"--map", "key:a", "key:b",
		"--output",
	})
	require.NoError(t, err)

	domains := ev.NewDomainRegistry()
	toggles := pipeline.NewToggleRegistry()

	cfg, err := Build(groups, domains, toggles, nil)
	require.NoError(t, err)

	require.Len(t, cfg.Inputs, 1)
	assert.Equal(t, "/dev/input/event0", cfg.Inputs[0].Path)
	assert.Equal(t, "__input0", cfg.Inputs[0].Domain)

	require.Len(t, cfg.Stages, 1)
	stage, ok := cfg.Stages[0].(*pipeline.TransformStage)
	require.True(t, ok)
	assert.False(t, stage.Keep)

	require.Len(t, cfg.Outputs, 1)
}

func TestBuildToggleSrcIsFirstSelector(t *testing.T) {
	groups, err := Tokenize([]string{"--toggle", "key:a", "key:b", "key:c", "id=t"})
	require.NoError(t, err)

	domains := ev.NewDomainRegistry()
	toggles := pipeline.NewToggleRegistry()

	cfg, err := Build(groups, domains, toggles, nil)
	require.NoError(t, err)
	require.Len(t, cfg.Stages, 1)

	stage, ok := cfg.Stages[0].(*pipeline.ToggleStage)
	require.True(t, ok)
	assert.Equal(t, "t", stage.ID)
	assert.Len(t, stage.Src, 1)
	assert.Len(t, stage.Branches, 2)
}

func TestBuildWithholdRequiresPrecedingHook(t *testing.T) {
	groups, err := Tokenize([]string{"--withhold", "key:a"})
	require.NoError(t, err)

	domains := ev.NewDomainRegistry()
	toggles := pipeline.NewToggleRegistry()

	_, err = Build(groups, domains, toggles, nil)
	assert.Error(t, err)
}

func TestBuildHookThenWithholdPairsAllPendingHooks(t *testing.T) {
	groups, err := Tokenize([]string{
		"--hook", "key:a", "key:b", "exec-shell=echo hi",
		"--hook", "key:c",
		"--withhold", "key:a", "key:c",
	})
	require.NoError(t, err)

	domains := ev.NewDomainRegistry()
	toggles := pipeline.NewToggleRegistry()

	cfg, err := Build(groups, domains, toggles, nil)
	require.NoError(t, err)
	require.Len(t, cfg.Stages, 3)

	withhold, ok := cfg.Stages[2].(*pipeline.WithholdStage)
	require.True(t, ok)
	assert.Len(t, withhold.Hooks, 2)
}

func TestBuildScaleRequiresFactor(t *testing.T) {
	groups, err := Tokenize([]string{"--scale", "rel:x"})
	require.NoError(t, err)

	_, err = Build(groups, ev.NewDomainRegistry(), pipeline.NewToggleRegistry(), nil)
	assert.Error(t, err)
}

func TestBuildRelToAbsParsesRange(t *testing.T) {
	groups, err := Tokenize([]string{"--rel-to-abs", "rel:x", "abs:x:0~255"})
	require.NoError(t, err)

	cfg, err := Build(groups, ev.NewDomainRegistry(), pipeline.NewToggleRegistry(), nil)
	require.NoError(t, err)
	require.Len(t, cfg.Stages, 1)

	stage, ok := cfg.Stages[0].(*pipeline.RelToAbsStage)
	require.True(t, ok)
	assert.Equal(t, int32(0), stage.Min)
	assert.Equal(t, int32(255), stage.Max)
}

func TestBuildUnknownSectionErrors(t *testing.T) {
	groups, err := Tokenize([]string{"--nonsense", "foo"})
	require.NoError(t, err)

	_, err = Build(groups, ev.NewDomainRegistry(), pipeline.NewToggleRegistry(), nil)
	assert.Error(t, err)
}
