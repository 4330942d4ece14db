// Package xdg resolves base directories per the [XDG Base Directory
// Specification]. Trimmed from the original package (which also opened
// per-app data/config/cache/runtime files) down to the one thing
// evsieve's statedir package actually needs: the bare state-home
// directory, for it to join an "evsieve" subdirectory onto.
//
// [XDG Base Directory Specification]: https://specifications.freedesktop.org/basedir-spec/latest
package xdg

import (
	"os"
	"path/filepath"
)

func home() string {
	var home string

	home = os.Getenv("HOME")
	if home == "" {
		return "/"
	}

	return home
}

func xdg(env string, subPaths ...string) string {
	env = os.Getenv(env)
	if env == "" || !filepath.IsAbs(env) {
		env = filepath.Join(subPaths...)
	}

	return env
}

// StateHome returns $XDG_STATE_HOME if set and absolute, else
// $HOME/.local/state, without creating or opening anything.
//
// From the [XDG Base Directory Specification]:
//
// $XDG_STATE_HOME defines the base directory relative to which
// user-specific state files should be stored. If $XDG_STATE_HOME is
// either not set or empty, a default equal to $HOME/.local/state
// should be used.
//
// [XDG Base Directory Specification]: https://specifications.freedesktop.org/basedir-spec/latest
func StateHome() string {
	return xdg("XDG_STATE_HOME", home(), ".local/state")
}
