package pipeline

import (
	"time"

	ev "github.com/KarsMulder/evsieve"
)

type delayedEvent struct {
	event   ev.Event
	readyAt time.Time
}

// DelayStage holds matched events for Period before releasing them,
// passing everything else through immediately (spec §4.D: "delay src…
// period=T"). now is overridable in tests.
type DelayStage struct {
	Src     ev.SelectorSet
	Period  time.Duration
	Domains *ev.DomainRegistry
	now     func() time.Time

	queue []delayedEvent
}

// NewDelayStage constructs a ready-to-run delay stage.
func NewDelayStage(src ev.SelectorSet, period time.Duration, domains *ev.DomainRegistry) *DelayStage {
	return &DelayStage{Src: src, Period: period, Domains: domains, now: time.Now}
}

func (s *DelayStage) Run(e ev.Event) []ev.Event {
	if e.Yielded() || !s.Src.MatchAny(e, s.Domains.Name) {
		return []ev.Event{e}
	}

	s.queue = append(s.queue, delayedEvent{event: e, readyAt: s.now().Add(s.Period)})
	return nil
}

// Tick releases every queued event whose delay has elapsed.
func (s *DelayStage) Tick() []ev.Event {
	now := s.now()

	i := 0
	for i < len(s.queue) && !s.queue[i].readyAt.After(now) {
		i++
	}
	if i == 0 {
		return nil
	}

	out := make([]ev.Event, i)
	for j := 0; j < i; j++ {
		out[j] = s.queue[j].event
	}
	s.queue = s.queue[i:]
	return out
}

// Flush releases the whole queue immediately (spec §4.D: "on device
// teardown, flushes remaining events immediately").
func (s *DelayStage) Flush() []ev.Event {
	out := make([]ev.Event, len(s.queue))
	for i, d := range s.queue {
		out[i] = d.event
	}
	s.queue = nil
	return out
}

// NextDeadline reports when the earliest queued event becomes ready,
// for the reactor's timerfd arming.
func (s *DelayStage) NextDeadline() (time.Time, bool) {
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].readyAt, true
}
