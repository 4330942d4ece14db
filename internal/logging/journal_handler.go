package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/coreos/go-systemd/v22/journal"
)

// JournalAvailable reports whether logs should go to the systemd
// journal instead of stderr: either $JOURNAL_STREAM is set (systemd
// connected our stdout/stderr to the journal directly) or the journal
// socket itself is reachable.
func JournalAvailable() bool {
	if os.Getenv("JOURNAL_STREAM") != "" {
		return true
	}
	return journal.Enabled()
}

// JournalHandler is a slog.Handler that forwards records to the
// systemd journal, adapted from smazurov/videonode's
// internal/logging/journal_handler.go: same journal.Send call and
// level-to-priority mapping, trimmed of the ring-buffer/SSE plumbing
// evsieve has no use for.
type JournalHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewJournalHandler returns a handler gated at level.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level}
}

func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := map[string]string{
		"SYSLOG_IDENTIFIER": "evsieve",
	}

	for _, a := range h.attrs {
		addField(fields, h.prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addField(fields, h.prefix, a)
		return true
	})

	if err := journal.Send(r.Message, priorityFor(r.Level), fields); err != nil {
		fmt.Fprintf(os.Stderr, "evsieve: journal send failed: %v\n", err)
		return err
	}
	return nil
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &JournalHandler{level: h.level, prefix: h.prefix, attrs: make([]slog.Attr, len(h.attrs)+len(attrs))}
	copy(next.attrs, h.attrs)
	copy(next.attrs[len(h.attrs):], attrs)
	return next
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	prefix := name
	if h.prefix != "" {
		prefix = h.prefix + "_" + name
	}
	return &JournalHandler{level: h.level, prefix: prefix, attrs: h.attrs}
}

func priorityFor(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

func addField(fields map[string]string, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "_" + key
	}
	fields[toJournalKey(key)] = a.Value.String()
}

func toJournalKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
