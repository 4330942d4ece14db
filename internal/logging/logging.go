// Package logging sets up per-module slog loggers, journal-aware when
// running under systemd, following the pattern smazurov/videonode's
// internal/logging package uses (GetLogger(module) registry, a
// journal-native handler swapped in when the journal is reachable).
// evsieve has no web UI to stream logs to, so this is the pack's
// pattern trimmed to what a single long-running daemon needs: no ring
// buffer, no SSE callback.
package logging

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mutex         sync.Mutex
	moduleLoggers = make(map[string]*slog.Logger)
	levelVar      = &slog.LevelVar{}
	handler       slog.Handler
)

// SetLevel changes the level every module logger observes, including
// ones created later.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mutex.Lock()
	defer mutex.Unlock()

	if l, ok := moduleLoggers[module]; ok {
		return l
	}

	l := slog.New(handlerLocked()).With("module", module)
	moduleLoggers[module] = l
	return l
}

func handlerLocked() slog.Handler {
	if handler != nil {
		return handler
	}

	if JournalAvailable() {
		handler = NewJournalHandler(levelVar)
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})
	}

	return handler
}
