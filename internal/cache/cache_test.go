package cache

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KarsMulder/evsieve/internal/capability"
)

func TestStoreThenLoadRoundTrips(t *testing.T) {
	t.Setenv("EVSIEVE_STATE_DIR", t.TempDir())

	c, err := Open()
	require.NoError(t, err)

	caps := capability.NewSet()
	caps.Add(0x01, 30)
	caps.Add(0x03, 0)

	require.NoError(t, c.Store("/dev/input/event3", caps))

	loaded, ok := c.Load("/dev/input/event3", nil)
	require.True(t, ok)
	require.True(t, loaded.Has(0x01, 30))
	require.True(t, loaded.Has(0x03, 0))
}

func TestLoadMissingEntryIsNotOK(t *testing.T) {
	t.Setenv("EVSIEVE_STATE_DIR", t.TempDir())

	c, err := Open()
	require.NoError(t, err)

	_, ok := c.Load("/dev/input/event99", nil)
	require.False(t, ok)
}

func TestLoadCorruptedEntryIsNotOK(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EVSIEVE_STATE_DIR", dir)

	c, err := Open()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(c.entryPath("/dev/input/event3"), []byte("not json"), 0o600))

	_, ok := c.Load("/dev/input/event3", nil)
	require.False(t, ok)
}
