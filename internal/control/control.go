//go:build linux

// Package control implements the control FIFO of spec §4.G: a named
// pipe accepting one toggle command per line.
package control

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Handler receives dispatched commands. *pipeline.ToggleRegistry
// satisfies this directly.
type Handler interface {
	Advance(id string)
	Set(id string, index int)
}

// FIFO is an open control pipe.
type FIFO struct {
	path string
	file *os.File

	pending []byte // partial line carried across Drain calls
}

// Create makes a 0600 named pipe at path, removing anything already
// there first, and opens it for reading. The fd is opened O_RDWR
// nonblocking: O_RDWR so the open itself never blocks waiting for a
// writer (a read-only FIFO open blocks until a writer appears), and
// O_NONBLOCK so Drain's reads never block the single-threaded reactor
// (spec §5: "No stage may perform blocking I/O while processing an
// event"; "Only the epoll wait" suspends).
func Create(path string) (*FIFO, error) {
	_ = os.Remove(path)

	if err := unix.Mkfifo(path, 0o600); err != nil {
		return nil, fmt.Errorf("control.Create: mkfifo %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("control.Create: open %s: %w", path, err)
	}

	return &FIFO{path: path, file: f}, nil
}

// Fd is the file descriptor the reactor registers with epoll.
func (f *FIFO) Fd() uintptr { return f.file.Fd() }

// Drain reads every complete line currently available and dispatches
// it to handler, stopping at EAGAIN/EWOULDBLOCK without blocking.
// Incomplete trailing lines are carried over to the next Drain call.
// Malformed lines are logged and ignored (spec §4.G: "Invalid lines
// are logged and ignored").
func (f *FIFO) Drain(handler Handler, logger *slog.Logger) {
	buf := make([]byte, 4096)

	for {
		n, err := f.file.Read(buf)
		if n > 0 {
			f.pending = append(f.pending, buf[:n]...)
		}

		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			// EOF (last writer closed) or a genuine read error: nothing
			// more to drain this wakeup.
			break
		}
	}

	for {
		idx := bytes.IndexByte(f.pending, '\n')
		if idx < 0 {
			break
		}

		line := strings.TrimSpace(string(f.pending[:idx]))
		f.pending = f.pending[idx+1:]

		if line == "" {
			continue
		}

		if err := dispatch(line, handler); err != nil && logger != nil {
			logger.Warn("control: invalid command", "line", line, "error", err)
		}
	}
}

func dispatch(line string, handler Handler) error {
	if line == "toggle" {
		handler.Advance("")
		return nil
	}

	rest, ok := strings.CutPrefix(line, "toggle=")
	if !ok {
		return fmt.Errorf("unrecognized command %q", line)
	}

	if idx := strings.IndexByte(rest, ':'); idx >= 0 {
		id := rest[:idx]
		k, err := strconv.Atoi(rest[idx+1:])
		if err != nil {
			return fmt.Errorf("invalid index in %q: %w", line, err)
		}
		handler.Set(id, k)
		return nil
	}

	handler.Advance(rest)
	return nil
}

// Close closes and removes the FIFO (spec §4.G: "removed on
// shutdown").
func (f *FIFO) Close() error {
	_ = f.file.Close()
	return os.Remove(f.path)
}
