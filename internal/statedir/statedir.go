// Package statedir resolves where evsieve keeps the files it needs to
// survive a restart: the device capability cache (spec §4.F). It
// delegates XDG Base
// Directory resolution to the xdg package, with two evsieve-specific
// overrides: $EVSIEVE_STATE_DIR always wins when set, and a root-run
// daemon defaults to /var/lib/evsieve instead of a per-user XDG path
// (spec §6: "running as root uses /var/lib/evsieve by default").
package statedir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/KarsMulder/evsieve/xdg"
)

const appName = "evsieve"

// systemStateDir is where a root-run daemon keeps state, matching the
// FHS convention for persistent state owned by system services.
const systemStateDir = "/var/lib/evsieve"

// Root returns the directory evsieve's persistent state lives under:
//  1. $EVSIEVE_STATE_DIR if set
//  2. /var/lib/evsieve if running as root
//  3. otherwise the XDG state home's "evsieve" subdirectory
//     ($XDG_STATE_HOME/evsieve, defaulting to ~/.local/state/evsieve)
//
// It does not create the directory.
func Root() string {
	if v := os.Getenv("EVSIEVE_STATE_DIR"); v != "" {
		return v
	}
	if os.Geteuid() == 0 {
		return systemStateDir
	}
	return filepath.Join(xdg.StateHome(), appName)
}

// EnsureDir creates relPath under Root() (and any missing parents)
// with mode 0700, and returns the full path.
func EnsureDir(relPath string) (string, error) {
	path := filepath.Join(Root(), relPath)

	const userOnly os.FileMode = 0o700
	if err := os.MkdirAll(path, userOnly); err != nil {
		return "", fmt.Errorf("statedir.EnsureDir: %w", err)
	}

	return path, nil
}
