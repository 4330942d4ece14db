//go:build linux

package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	advanced []string
	set      map[string]int
}

func (f *fakeHandler) Advance(id string) { f.advanced = append(f.advanced, id) }
func (f *fakeHandler) Set(id string, index int) {
	if f.set == nil {
		f.set = make(map[string]int)
	}
	f.set[id] = index
}

func TestDispatchBareToggleAdvancesAnonymous(t *testing.T) {
	h := &fakeHandler{}
	require.NoError(t, dispatch("toggle", h))
	assert.Equal(t, []string{""}, h.advanced)
}

func TestDispatchNamedToggleAdvances(t *testing.T) {
	h := &fakeHandler{}
	require.NoError(t, dispatch("toggle=profile", h))
	assert.Equal(t, []string{"profile"}, h.advanced)
}

func TestDispatchNamedToggleSetsIndex(t *testing.T) {
	h := &fakeHandler{}
	require.NoError(t, dispatch("toggle=profile:2", h))
	assert.Equal(t, 2, h.set["profile"])
}

func TestDispatchUnrecognizedIsError(t *testing.T) {
	h := &fakeHandler{}
	assert.Error(t, dispatch("nonsense", h))
}
