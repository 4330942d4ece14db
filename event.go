// Package evsieve implements the event model, selector grammar, and
// pipeline that evsieve builds on top of evdev and uinput.
package evsieve

import "fmt"

// Flag is a bitset carried alongside an Event for pipeline-internal
// bookkeeping. None of it reaches the kernel.
type Flag uint8

const (
	// FlagYield marks an event as having matched an emitting map/copy
	// stage with the yield option; subsequent map/copy/block stages
	// must not match it again.
	FlagYield Flag = 1 << iota

	// FlagWithheld marks an event that a withhold stage has taken out
	// of the normal flow and is buffering on behalf of one or more
	// hooks. Stages downstream of the withhold never see it until the
	// withhold buffer releases it.
	FlagWithheld
)

// Domain is an interned tag carried with an Event for pipeline-internal
// routing. It is never visible in the kernel interface.
type Domain int32

// DomainNone is the zero Domain, used for events that have not yet been
// assigned one (never emitted as-is; Device.ReadBatch always stamps a real
// domain before an event enters the pipeline).
const DomainNone Domain = 0

// Event is a single record flowing through the pipeline: a type/code
// pair from the Linux input namespace, a signed value, the domain it
// currently belongs to, and pipeline-internal flags.
type Event struct {
	Type   uint16
	Code   uint16
	Value  int32
	Domain Domain
	Flags  Flag
}

// Yielded reports whether a later map/copy/block stage is forbidden
// from matching this event.
func (e Event) Yielded() bool {
	return e.Flags&FlagYield != 0
}

// WithYield returns a copy of e with FlagYield set.
func (e Event) WithYield() Event {
	e.Flags |= FlagYield
	return e
}

func (e Event) String() string {
	return fmt.Sprintf("{type=%d code=%d value=%d domain=%d}", e.Type, e.Code, e.Value, e.Domain)
}

// IsSyn reports whether e is the EV_SYN/SYN_REPORT event terminating a
// batch. EV_SYN is 0x00 and SYN_REPORT is 0 in the Linux input
// namespace; callers import inputuapi for the named constants, this
// package only needs the bare check so it avoids importing the
// platform-specific uapi package at the root.
func (e Event) IsSyn() bool {
	const evSyn, synReport = 0x00, 0
	return e.Type == evSyn && e.Code == synReport
}
