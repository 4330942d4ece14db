// Package pipeline implements the ordered chain of event transforms
// described in spec §4: map, copy, block, merge, toggle, hook, withhold,
// scale, rel-to-abs and delay stages, plus the execution order invariant
// that ties them together (§4, "Execution order invariant").
package pipeline

import ev "github.com/KarsMulder/evsieve"

// Stage is one node of the pipeline. Run consumes one event and returns
// the events that replace it; returning nil drops the event (block,
// merge suppression, withhold buffering). A stage that does not match
// must return the event unchanged, wrapped in a single-element slice,
// so the executor's splice-in-place model (§4, "each stage's outputs
// are spliced into the working list at the position of the consumed
// event") is satisfied uniformly whether or not a stage fires.
type Stage interface {
	Run(e ev.Event) []ev.Event
}

// Ticker is implemented by stages with time-driven behaviour (hook
// periods, withhold timeouts, delay release) that the reactor drives
// independently of incoming events.
type Ticker interface {
	// Tick is called by the reactor's timer loop. It returns any events
	// that become ready to continue through the stages after this one
	// (see Pipeline.Continue).
	Tick() []ev.Event
}

// Flusher is implemented by stages that buffer events and must release
// everything they're holding when their owning device is torn down
// (spec §4.J, "on device teardown, flushes remaining events
// immediately").
type Flusher interface {
	Flush() []ev.Event
}

// Pipeline is the ordered stage list plus the sink that routes finished
// events to their output devices.
type Pipeline struct {
	Stages []Stage

	// Sink receives events that have passed through every stage. It is
	// usually the output device multiplexer (component C); tests can
	// substitute a recording sink.
	Sink func(e ev.Event)
}

// Run feeds one SYN-delimited batch of input events through every
// stage, in arrival order, and routes the survivors to Sink. Per the
// execution order invariant, each event is driven to completion
// (through every remaining stage) before the next event in the batch
// begins — this is what makes an event produced by stage K from event A
// appear before event B (A's successor in the batch) as B reaches stage
// K+1.
func (p *Pipeline) Run(batch []ev.Event) {
	for _, e := range batch {
		p.drive(e, 0)
	}
}

// Continue resumes events at stage index from (exclusive of everything
// before it), used when a Ticker or Flusher releases events that
// already passed through the earlier stages. Those events continue
// from immediately after the stage that held them.
func (p *Pipeline) Continue(events []ev.Event, from int) {
	for _, e := range events {
		p.drive(e, from)
	}
}

func (p *Pipeline) drive(e ev.Event, stageIdx int) {
	if stageIdx >= len(p.Stages) {
		if p.Sink != nil {
			p.Sink(e)
		}
		return
	}

	outs := p.Stages[stageIdx].Run(e)
	for _, out := range outs {
		p.drive(out, stageIdx+1)
	}
}

// Tick drives every Ticker stage's time-based transitions and
// continues whatever they release from the stage immediately after
// them.
func (p *Pipeline) Tick() {
	for i, s := range p.Stages {
		if t, ok := s.(Ticker); ok {
			p.Continue(t.Tick(), i+1)
		}
	}
}

// Flush drains every Flusher stage (delay queues, withhold buffers) and
// routes whatever they were holding to Sink, preserving stage order.
// Called on device teardown per spec §4.J/§4.I.
func (p *Pipeline) Flush() {
	for i, s := range p.Stages {
		if f, ok := s.(Flusher); ok {
			p.Continue(f.Flush(), i+1)
		}
	}
}
