//go:build linux

// Package device implements the input device driver of spec §4.B:
// opening an evdev node, grabbing it, reading SYN-delimited batches,
// and detecting hot-unplug so the reactor can apply the configured
// persist mode.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"

	"github.com/KarsMulder/evsieve/internal/capability"
	"github.com/KarsMulder/evsieve/internal/inputuapi"
	"github.com/KarsMulder/evsieve/internal/ioctl"

	ev "github.com/KarsMulder/evsieve"
)

// ErrGone is returned by Read when the device has been unplugged
// (EIO/ENODEV from the kernel), per spec §4.B.
var ErrGone = errors.New("device: input device gone")

// Device is one opened evdev node.
type Device struct {
	path   string
	file   *os.File
	fd     uintptr
	Domain ev.Domain

	held map[uint16]bool // currently-pressed EV_KEY codes, for the synthetic release on disconnect
}

// Open resolves path's symlink chain, opens it nonblocking, and
// returns a Device. It does not grab the device; call Grab separately
// so callers can retry with backoff as spec §4.B specifies for
// grab=force.
func Open(path string, domain ev.Domain) (*Device, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}

	file, err := os.OpenFile(resolved, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("device.Open: %w", err)
	}

	return &Device{path: resolved, file: file, fd: file.Fd(), Domain: domain, held: make(map[uint16]bool)}, nil
}

// Path returns the resolved device path this Device was opened from.
func (d *Device) Path() string { return d.path }

// Fd is the file descriptor the reactor registers with epoll.
func (d *Device) Fd() uintptr { return d.fd }

// Grab issues EVIOCGRAB, retrying with exponential backoff (spec §4.B:
// "issues EVIOCGRAB if grab=force (retry with backoff if fails)").
func (d *Device) Grab(ctx context.Context) error {
	one := 1
	op := func() error {
		return ioctl.Any(d.fd, inputuapi.EVIOCGRAB, &one)
	}

	return backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

// Ungrab releases a prior Grab.
func (d *Device) Ungrab() error {
	return unix.IoctlSetInt(int(d.fd), inputuapi.EVIOCGRAB, 0)
}

// Name reads the device's human-readable name via EVIOCGNAME.
func (d *Device) Name() (string, error) {
	buf := make([]byte, 256)
	if err := ioctl.Any(d.fd, inputuapi.EVIOCGNAME(256), &buf[0]); err != nil {
		return "", fmt.Errorf("device.Name: %w", err)
	}
	return unix.ByteSliceToString(buf), nil
}

// Capabilities reads the device's reported EV_*/code masks and returns
// them as a capability.Set of bare (type, code) pairs; no domain is
// attached here or by the capability analyzer (spec
// §4.B: "Capability propagation: the driver exports the device's
// reported EV_* masks to the capability analyzer").
func (d *Device) Capabilities() (capability.Set, error) {
	caps := capability.NewSet()

	evBuf := make([]byte, (inputuapi.EV_MAX+7)/8)
	if err := ioctl.Any(d.fd, inputuapi.EVIOCGBIT(0, uint(len(evBuf))), &evBuf[0]); err != nil {
		return nil, fmt.Errorf("device.Capabilities: %w", err)
	}

	for typ := 0; typ < inputuapi.EV_CNT; typ++ {
		if !testBit(evBuf, uint(typ)) {
			continue
		}
		if typ == inputuapi.EV_SYN {
			caps.Add(uint16(typ), 0)
			continue
		}

		maxCodes, ok := maxCodesForType(uint16(typ))
		if !ok {
			continue
		}

		codeBuf := make([]byte, (maxCodes+7)/8)
		if err := ioctl.Any(d.fd, inputuapi.EVIOCGBIT(uint(typ), uint(len(codeBuf))), &codeBuf[0]); err != nil {
			return nil, fmt.Errorf("device.Capabilities: %w", err)
		}

		for code := uint(0); code <= maxCodes; code++ {
			if testBit(codeBuf, code) {
				caps.Add(uint16(typ), uint16(code))
			}
		}
	}

	return caps, nil
}

func testBit(b []byte, pos uint) bool {
	return b[pos/8]&(1<<(pos%8)) != 0
}

func maxCodesForType(typ uint16) (uint, bool) {
	switch typ {
	case inputuapi.EV_KEY:
		return inputuapi.KEY_MAX, true
	case inputuapi.EV_REL:
		return inputuapi.REL_MAX, true
	case inputuapi.EV_ABS:
		return inputuapi.ABS_MAX, true
	case inputuapi.EV_MSC:
		return inputuapi.MSC_MAX, true
	case inputuapi.EV_SW:
		return inputuapi.SW_MAX, true
	case inputuapi.EV_LED:
		return inputuapi.LED_MAX, true
	case inputuapi.EV_SND:
		return inputuapi.SND_MAX, true
	default:
		return 0, false
	}
}

// rawEventSize is the on-wire size of struct input_event on a 64-bit
// kernel (two 64-bit timeval fields, a 16-bit type, a 16-bit code, and
// a 32-bit value).
const rawEventSize = 24

// ReadBatch drains the fd and returns the events up to and including
// the next SYN_REPORT, or fewer if the fd had less buffered and no
// SYN_REPORT has arrived yet (the caller is expected to call again
// once epoll reports more data). Events read before their SYN_REPORT
// are returned as they are; they are not held back until the SYN
// arrives. Returns ErrGone on EIO/ENODEV.
func (d *Device) ReadBatch() ([]ev.Event, error) {
	var out []ev.Event
	buf := make([]byte, rawEventSize)

	for {
		n, err := d.file.Read(buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return out, nil
			}
			if errors.Is(err, unix.EIO) || errors.Is(err, unix.ENODEV) || errors.Is(err, io.EOF) {
				return out, ErrGone
			}
			return out, fmt.Errorf("device.ReadBatch: %w", err)
		}
		if n < rawEventSize {
			continue
		}

		e := decodeEvent(buf, d.Domain)
		d.trackHeld(e)
		out = append(out, e)

		if e.IsSyn() {
			return out, nil
		}
	}
}

func decodeEvent(buf []byte, domain ev.Domain) ev.Event {
	typ := uint16(buf[16]) | uint16(buf[17])<<8
	code := uint16(buf[18]) | uint16(buf[19])<<8
	value := int32(buf[20]) | int32(buf[21])<<8 | int32(buf[22])<<16 | int32(buf[23])<<24

	return ev.Event{Type: typ, Code: code, Value: value, Domain: domain}
}

func (d *Device) trackHeld(e ev.Event) {
	if e.Type != inputuapi.EV_KEY {
		return
	}
	if e.Value == 0 {
		delete(d.held, e.Code)
	} else {
		d.held[e.Code] = true
	}
}

// ReleaseEvents synthesizes value-0 events (and a terminating SYN) for
// every key the driver believes is held, per spec §4.B's disconnect
// handling: "synthesizes value-0 events for every key in held_keys…so
// downstream stages see a clean release".
func (d *Device) ReleaseEvents() []ev.Event {
	if len(d.held) == 0 {
		return nil
	}

	out := make([]ev.Event, 0, len(d.held)+1)
	for code := range d.held {
		out = append(out, ev.Event{Type: inputuapi.EV_KEY, Code: code, Value: 0, Domain: d.Domain})
	}
	out = append(out, ev.Event{Type: inputuapi.EV_SYN, Code: 0, Value: 0, Domain: d.Domain})
	d.held = make(map[uint16]bool)

	return out
}

// Close closes the underlying file. It does not release the grab
// explicitly — closing the fd does that implicitly in the kernel.
func (d *Device) Close() error {
	return d.file.Close()
}

// WaitReappear polls for path's existence every pollEvery. It returns
// when the path exists again or ctx is cancelled.
func WaitReappear(ctx context.Context, path string, pollEvery time.Duration) error {
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
