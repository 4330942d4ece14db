package statedir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootHonoursEnvOverride(t *testing.T) {
	t.Setenv("EVSIEVE_STATE_DIR", "/tmp/evsieve-custom-state")
	assert.Equal(t, "/tmp/evsieve-custom-state", Root())
}

func TestRootFallsBackToXDGStateHome(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root always takes the /var/lib/evsieve branch")
	}

	t.Setenv("EVSIEVE_STATE_DIR", "")
	t.Setenv("XDG_STATE_HOME", "/tmp/xdg-state")

	assert.Equal(t, filepath.Join("/tmp/xdg-state", "evsieve"), Root())
}
