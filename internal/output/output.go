//go:build linux

// Package output implements the uinput device builder of spec §4.C:
// creating a virtual input device from the capability analyzer's
// synthesized set, with repeat-policy and create-link handling, and a
// clean teardown that releases every held key.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/KarsMulder/evsieve/internal/capability"
	"github.com/KarsMulder/evsieve/internal/inputuapi"
	"github.com/KarsMulder/evsieve/internal/ioctl"

	ev "github.com/KarsMulder/evsieve"
)

// RepeatPolicy controls what an output does with EV_REP.
type RepeatPolicy int

const (
	// RepeatPassive suppresses EV_REP so that value=2 (auto-repeat)
	// events from the input pass through verbatim (spec §4.C).
	RepeatPassive RepeatPolicy = iota
	// RepeatEnable lets the kernel generate its own repeats.
	RepeatEnable
	// RepeatDisable turns auto-repeat off entirely.
	RepeatDisable
)

// Device is one created uinput node.
type Device struct {
	Name   string
	Repeat RepeatPolicy
	Src    ev.SelectorSet // declared filters; events must also match Domain

	file *os.File
	fd   uintptr

	linkPath  string
	heldKeys  map[uint16]bool
	createdOk bool
}

// Create sets up and publishes a uinput device advertising caps, under
// name, with the given repeat policy. If linkPath is non-empty, a
// symlink pointing at the created /dev/input/eventN is created
// atomically (spec §4.C: "create-link=PATH").
func Create(name string, caps capability.Set, repeat RepeatPolicy, linkPath string, src ev.SelectorSet) (*Device, error) {
	file, err := os.OpenFile("/dev/uinput", os.O_WRONLY|os.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("output.Create: opening /dev/uinput: %w", err)
	}

	d := &Device{Name: name, Repeat: repeat, Src: src, file: file, fd: file.Fd(), linkPath: linkPath, heldKeys: make(map[uint16]bool)}

	if err := d.declareCapabilities(caps); err != nil {
		file.Close()
		return nil, err
	}

	if err := d.publish(); err != nil {
		file.Close()
		return nil, err
	}

	if linkPath != "" {
		if err := d.createSymlink(linkPath); err != nil {
			d.Close()
			return nil, err
		}
	}

	return d, nil
}

func (d *Device) declareCapabilities(caps capability.Set) error {
	byType := make(map[uint16][]uint16)
	for k := range caps {
		byType[k.Type] = append(byType[k.Type], k.Code)
	}

	if d.Repeat == RepeatEnable {
		byType[inputuapi.EV_REP] = nil
	}

	for typ := range byType {
		if typ == inputuapi.EV_SYN {
			continue
		}
		if err := unix.IoctlSetInt(int(d.fd), inputuapi.UI_SET_EVBIT, int(typ)); err != nil {
			return fmt.Errorf("output.declareCapabilities: UI_SET_EVBIT(%d): %w", typ, err)
		}
	}

	for typ, codes := range byType {
		bitReq, ok := codeBitRequest(typ)
		if !ok {
			continue
		}
		for _, code := range codes {
			if err := unix.IoctlSetInt(int(d.fd), bitReq, int(code)); err != nil {
				return fmt.Errorf("output.declareCapabilities: set code bit type=%d code=%d: %w", typ, code, err)
			}
		}
	}

	return nil
}

func codeBitRequest(typ uint16) (uint, bool) {
	switch typ {
	case inputuapi.EV_KEY:
		return inputuapi.UI_SET_KEYBIT, true
	case inputuapi.EV_REL:
		return inputuapi.UI_SET_RELBIT, true
	case inputuapi.EV_ABS:
		return inputuapi.UI_SET_ABSBIT, true
	case inputuapi.EV_MSC:
		return inputuapi.UI_SET_MSCBIT, true
	case inputuapi.EV_LED:
		return inputuapi.UI_SET_LEDBIT, true
	case inputuapi.EV_SND:
		return inputuapi.UI_SET_SNDBIT, true
	case inputuapi.EV_SW:
		return inputuapi.UI_SET_SWBIT, true
	default:
		return 0, false
	}
}

func (d *Device) publish() error {
	var setup inputuapi.UinputSetup
	copy(setup.Name[:], d.Name)
	setup.ID = inputuapi.ID{Bustype: inputuapi.BUS_VIRTUAL, Vendor: 0x1, Product: 0x1, Version: 1}

	if err := ioctl.Any(d.fd, inputuapi.UI_DEV_SETUP, &setup); err != nil {
		return fmt.Errorf("output.publish: UI_DEV_SETUP: %w", err)
	}

	var zero int
	if err := ioctl.Any(d.fd, inputuapi.UI_DEV_CREATE, &zero); err != nil {
		return fmt.Errorf("output.publish: UI_DEV_CREATE: %w", err)
	}

	d.createdOk = true
	return nil
}

func (d *Device) createSymlink(path string) error {
	devPath, err := d.devicePath()
	if err != nil {
		return fmt.Errorf("output.createSymlink: %w", err)
	}

	tmp := path + ".evsieve-tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(devPath, tmp); err != nil {
		return fmt.Errorf("output.createSymlink: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("output.createSymlink: %w", err)
	}

	return nil
}

// devicePath asks the kernel for the sysfs name it assigned the
// just-created uinput device (UI_GET_SYSNAME, e.g. "input23") and
// globs its event child to find the /dev/input/eventN node.
func (d *Device) devicePath() (string, error) {
	buf := make([]byte, 64)
	if err := ioctl.Any(d.fd, inputuapi.UI_GET_SYSNAME(uint(len(buf))), &buf[0]); err != nil {
		return "", fmt.Errorf("output.devicePath: UI_GET_SYSNAME: %w", err)
	}

	sysname := unix.ByteSliceToString(buf)
	matches, err := filepath.Glob(filepath.Join("/sys/class/input", sysname, "event*"))
	if err != nil {
		return "", fmt.Errorf("output.devicePath: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("output.devicePath: no event node found under %s", sysname)
	}

	return filepath.Join("/dev/input", filepath.Base(matches[0])), nil
}

// Accepts reports whether e should be written to this output, per
// spec §4.C routing: "accepted per output only if they satisfy the
// output's declared filters AND the event's domain matches".
func (d *Device) Accepts(e ev.Event, domainName func(ev.Domain) string, domainOK func(ev.Domain) bool) bool {
	if len(d.Src) > 0 && !d.Src.MatchAny(e, domainName) {
		return false
	}
	if domainOK != nil && !domainOK(e.Domain) {
		return false
	}
	return true
}

// Write emits one event. Under RepeatPassive, EV_REP events are
// dropped before they reach uinput since the kernel is not meant to
// see them (the original value=2 auto-repeat from the input already
// passed through as-is).
func (d *Device) Write(e ev.Event) error {
	if d.Repeat == RepeatPassive && e.Type == inputuapi.EV_REP {
		return nil
	}

	if e.Type == inputuapi.EV_KEY {
		if e.Value == 0 {
			delete(d.heldKeys, e.Code)
		} else {
			d.heldKeys[e.Code] = true
		}
	}

	raw := inputuapi.RawEvent{Type: e.Type, Code: e.Code, Value: e.Value}
	_, err := d.file.Write((*[unsafe.Sizeof(raw)]byte)(unsafe.Pointer(&raw))[:])
	if err != nil {
		return fmt.Errorf("output.Write: %w", err)
	}
	return nil
}

// Flush writes a SYN_REPORT, completing one batch (spec §4.D: "An
// output device flush happens once per SYN").
func (d *Device) Flush() error {
	return d.Write(ev.Event{Type: inputuapi.EV_SYN, Code: 0, Value: 0})
}

// Teardown releases every held key then destroys the device (spec
// §4.C: "On teardown: for every key/btn the output currently has
// asserted…emit value-0 and a final SYN, then destroy" — also used
// verbatim by the reactor's SIGTERM/SIGINT handling, spec §4.H).
func (d *Device) Teardown() error {
	for code := range d.heldKeys {
		_ = d.Write(ev.Event{Type: inputuapi.EV_KEY, Code: code, Value: 0})
	}
	if len(d.heldKeys) > 0 {
		_ = d.Flush()
	}
	return d.Close()
}

// Close destroys the uinput device, removes its symlink if any, and
// closes the fd.
func (d *Device) Close() error {
	if d.linkPath != "" {
		_ = os.Remove(d.linkPath)
	}

	var err error
	if d.createdOk {
		var zero int
		if e := ioctl.Any(d.fd, inputuapi.UI_DEV_DESTROY, &zero); e != nil {
			err = fmt.Errorf("output.Close: UI_DEV_DESTROY: %w", e)
		}
	}

	if e := d.file.Close(); e != nil && err == nil {
		err = fmt.Errorf("output.Close: %w", e)
	}

	return err
}
