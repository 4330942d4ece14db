//go:build linux

// Package reactor implements the single-threaded epoll-driven event
// loop of spec §4.H: it multiplexes evdev file descriptors, the
// control FIFO, a timerfd, and a signalfd into the pipeline, and owns
// device lifecycle (grabbing, persistence across hot-unplug, teardown)
// per spec §4.B/§4.C/§5.
package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
	"unsafe"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sys/unix"

	"github.com/KarsMulder/evsieve/internal/cache"
	"github.com/KarsMulder/evsieve/internal/capability"
	"github.com/KarsMulder/evsieve/internal/config"
	"github.com/KarsMulder/evsieve/internal/control"
	"github.com/KarsMulder/evsieve/internal/device"
	"github.com/KarsMulder/evsieve/internal/output"
	"github.com/KarsMulder/evsieve/internal/pipeline"

	ev "github.com/KarsMulder/evsieve"
)

type inputState int

const (
	stateOpened inputState = iota
	stateWaiting
	stateClosed
)

type inputSlot struct {
	spec   config.InputSpec
	domain ev.Domain
	dev    *device.Device
	state  inputState

	// reopenAt is when we next stat() the path for reappearance, set
	// only while state==stateWaiting.
	reopenAt time.Time
}

type outputSlot struct {
	spec config.OutputSpec
	dev  *output.Device
	caps capability.Set

	dirty bool // has received >=1 event since the last Flush
}

// Reactor owns every runtime resource: the epoll set, the pipeline,
// the input/output devices, and the control FIFO.
type Reactor struct {
	cfg     *config.Pipeline
	pl      *pipeline.Pipeline
	domains *ev.DomainRegistry
	toggles *pipeline.ToggleRegistry
	cache   *cache.Cache
	logger  *slog.Logger

	epfd    int
	sigfd   int
	timerfd int

	control *control.FIFO

	inputs  []*inputSlot
	outputs []*outputSlot

	fdOwner map[int32]any // epoll fd -> *inputSlot | "control" | "sig" | "timer"
}

const reopenPollInterval = time.Second

// New builds input/output devices (opening what's available, deferring
// absent ones to Waiting) and computes each output's synthesized
// capability set, but does not start the loop.
func New(cfg *config.Pipeline, pl *pipeline.Pipeline, domains *ev.DomainRegistry, toggles *pipeline.ToggleRegistry, c *cache.Cache, logger *slog.Logger) (*Reactor, error) {
	r := &Reactor{
		cfg: cfg, pl: pl, domains: domains, toggles: toggles, cache: c, logger: logger,
		fdOwner: make(map[int32]any),
	}

	for _, spec := range cfg.Inputs {
		slot := &inputSlot{spec: spec, domain: domains.Intern(spec.Domain)}
		if err := r.openInput(slot); err != nil {
			logger.Warn("input: could not open at startup, waiting", "path", spec.Path, "error", err)
			slot.state = stateWaiting
		}
		r.inputs = append(r.inputs, slot)
	}

	if err := r.buildOutputs(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Reactor) openInput(slot *inputSlot) error {
	dev, err := device.Open(slot.spec.Path, slot.domain)
	if err != nil {
		return err
	}

	if slot.spec.Grab == "force" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := dev.Grab(ctx)
		cancel()
		if err != nil {
			dev.Close()
			return fmt.Errorf("grabbing %s: %w", slot.spec.Path, err)
		}
	}

	slot.dev = dev
	slot.state = stateOpened
	return nil
}

// inputCaps returns the (type, code) capability set an opened (or
// cached, for persist=full) input contributes. buildOutputs unions
// these over all inputs into the one starting set for
// capability.Propagate.
func (r *Reactor) inputCaps(slot *inputSlot) (capability.Set, error) {
	if slot.dev != nil {
		caps, err := slot.dev.Capabilities()
		if err != nil {
			return nil, err
		}
		if slot.spec.Persist == "full" {
			_ = r.cache.Store(slot.spec.Path, caps)
		}
		return caps, nil
	}

	if slot.spec.Persist == "full" {
		if caps, ok := r.cache.Load(slot.spec.Path, r.logger); ok {
			return caps, nil
		}
	}

	return capability.NewSet(), nil
}

func (r *Reactor) buildOutputs() error {
	union := capability.NewSet()
	for _, slot := range r.inputs {
		caps, err := r.inputCaps(slot)
		if err != nil {
			return fmt.Errorf("reactor: reading capabilities of %s: %w", slot.spec.Path, err)
		}
		union = union.Union(caps)
	}

	propagated := capability.Propagate(r.pl.Stages, union)

	for _, spec := range r.cfg.Outputs {
		caps := capability.Filter(propagated, spec.Filters)

		repeat := output.RepeatPassive
		switch spec.Repeat {
		case "enable":
			repeat = output.RepeatEnable
		case "disable":
			repeat = output.RepeatDisable
		}

		dev, err := output.Create(spec.Name, caps, repeat, spec.CreateLink, spec.Filters)
		if err != nil {
			return fmt.Errorf("reactor: creating output: %w", err)
		}

		r.outputs = append(r.outputs, &outputSlot{spec: spec, dev: dev, caps: caps})
	}

	return nil
}

// Run drives the reactor until ctx is cancelled or a terminating
// signal arrives. It always performs graceful teardown before
// returning (spec §4.H: "SIGTERM triggers graceful teardown").
func (r *Reactor) Run(ctx context.Context) error {
	defer r.teardown()
	if err := r.setup(); err != nil {
		return err
	}

	if err := r.notifyReady(); err != nil {
		r.logger.Warn("sd_notify failed", "error", err)
	}

	events := make([]unix.EpollEvent, 16)

	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			if stop := r.dispatch(events[i].Fd); stop {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (r *Reactor) setup() error {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	r.epfd = epfd

	if err := r.setupSignals(); err != nil {
		return err
	}
	if err := r.setupTimer(); err != nil {
		return err
	}

	if r.cfg.ControlFIFO != "" {
		fifo, err := control.Create(r.cfg.ControlFIFO)
		if err != nil {
			return fmt.Errorf("reactor: control fifo: %w", err)
		}
		r.control = fifo
		if err := r.epollAdd(int32(fifo.Fd()), "control"); err != nil {
			return err
		}
	}

	for _, slot := range r.inputs {
		if slot.state == stateOpened {
			if err := r.epollAdd(int32(slot.dev.Fd()), slot); err != nil {
				return err
			}
		}
	}

	r.armTimer()

	return nil
}

func (r *Reactor) setupSignals() error {
	var set unix.Sigset_t
	for _, sig := range []unix.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGCHLD, unix.SIGHUP} {
		set.Val[(sig-1)/64] |= 1 << (uint(sig-1) % 64)
	}

	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil); err != nil {
		return fmt.Errorf("reactor: blocking signals: %w", err)
	}

	fd, err := unix.Signalfd(-1, &set, unix.SFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("reactor: signalfd: %w", err)
	}
	r.sigfd = fd

	return r.epollAdd(int32(fd), "sig")
}

func (r *Reactor) setupTimer() error {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("reactor: timerfd_create: %w", err)
	}
	r.timerfd = fd
	return r.epollAdd(int32(fd), "timer")
}

func (r *Reactor) epollAdd(fd int32, owner any) error {
	r.fdOwner[fd] = owner
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: fd}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &event)
}

func (r *Reactor) epollDel(fd int32) {
	delete(r.fdOwner, fd)
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
}

// dispatch handles one ready fd and reports whether the reactor should
// stop (a terminating signal arrived).
func (r *Reactor) dispatch(fd int32) bool {
	owner, ok := r.fdOwner[fd]
	if !ok {
		return false
	}

	switch o := owner.(type) {
	case string:
		switch o {
		case "sig":
			return r.handleSignal()
		case "timer":
			r.handleTimer()
		case "control":
			r.control.Drain(r.toggles, r.logger)
		}
	case *inputSlot:
		return r.handleInput(o)
	}

	return false
}

func (r *Reactor) handleSignal() bool {
	var info unix.SignalfdSiginfo
	buf := (*[unix.SizeofSignalfdSiginfo]byte)(unsafe.Pointer(&info))[:]

	for {
		n, err := unix.Read(r.sigfd, buf)
		if err != nil || n != unix.SizeofSignalfdSiginfo {
			break
		}

		switch unix.Signal(info.Signo) {
		case unix.SIGINT, unix.SIGTERM:
			return true
		case unix.SIGCHLD:
			r.reapChildren()
		case unix.SIGHUP:
			// reserved, no-op per spec §6
		}
	}

	return false
}

func (r *Reactor) reapChildren() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
	}
}

// handleTimer acks the timerfd expiration, drives every stage's
// time-based transitions, polls Waiting inputs for reappearance, then
// rearms for the next deadline.
func (r *Reactor) handleTimer() {
	var n uint64
	buf := (*[8]byte)(unsafe.Pointer(&n))[:]
	_, _ = unix.Read(r.timerfd, buf)

	r.pl.Sink = r.route
	r.pl.Tick()

	now := time.Now()
	for _, slot := range r.inputs {
		if slot.state != stateWaiting || now.Before(slot.reopenAt) {
			continue
		}
		r.tryReopen(slot)
	}

	r.armTimer()
}

func (r *Reactor) tryReopen(slot *inputSlot) {
	slot.reopenAt = time.Now().Add(reopenPollInterval)

	if _, err := os.Stat(slot.spec.Path); err != nil {
		return
	}

	if err := r.openInput(slot); err != nil {
		r.logger.Warn("input: reopen failed", "path", slot.spec.Path, "error", err)
		return
	}

	if err := r.epollAdd(int32(slot.dev.Fd()), slot); err != nil {
		r.logger.Warn("input: registering reopened fd failed", "path", slot.spec.Path, "error", err)
		return
	}

	if slot.spec.Persist == "full" {
		caps, err := slot.dev.Capabilities()
		if err == nil {
			r.reconcilePersistFull(slot, caps)
		}
	}

	r.logger.Info("input: reopened", "path", slot.spec.Path)
}

// reconcilePersistFull implements spec §4.F/scenario 5: if the
// reopened device's capabilities differ from what its outputs were
// built from, destroy and recreate every output from the new union.
func (r *Reactor) reconcilePersistFull(slot *inputSlot, newCaps capability.Set) {
	cached, ok := r.cache.Load(slot.spec.Path, r.logger)
	_ = r.cache.Store(slot.spec.Path, newCaps)

	if ok && sameCaps(cached, newCaps) {
		return
	}

	for _, o := range r.outputs {
		_ = o.dev.Teardown()
	}
	r.outputs = nil

	if err := r.buildOutputs(); err != nil {
		r.logger.Error("reactor: rebuilding outputs after capability change failed", "error", err)
	}
}

func sameCaps(a, b capability.Set) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// armTimer sets the timerfd to the earliest deadline among every
// stage's timer and every Waiting input's next reopen poll, or
// disarms it if nothing is pending.
func (r *Reactor) armTimer() {
	var (
		deadline time.Time
		has      bool
	)

	consider := func(t time.Time, ok bool) {
		if ok && (!has || t.Before(deadline)) {
			deadline, has = t, true
		}
	}

	for _, stage := range r.pl.Stages {
		switch s := stage.(type) {
		case *pipeline.DelayStage:
			consider(s.NextDeadline())
		case *pipeline.HookStage:
			consider(s.NextDeadline())
		}
	}

	for _, slot := range r.inputs {
		if slot.state == stateWaiting {
			consider(slot.reopenAt, true)
		}
	}

	var spec unix.ItimerSpec
	if has {
		d := time.Until(deadline)
		if d < time.Millisecond {
			d = time.Millisecond
		}
		spec.Value = unix.NsecToTimespec(d.Nanoseconds())
	}
	_ = unix.TimerfdSettime(r.timerfd, 0, &spec, nil)
}

// handleInput reports whether the reactor should stop: persist=none on
// the last remaining input going away is a terminating condition, same
// as SIGINT/SIGTERM (spec §1, §4.B: "if this was the last input, the
// reactor exits").
func (r *Reactor) handleInput(slot *inputSlot) bool {
	batch, err := slot.dev.ReadBatch()

	if len(batch) > 0 {
		r.pl.Sink = r.route
		r.pl.Run(batch)
		r.flushDirty()
		r.armTimer()
	}

	if err == nil {
		return false
	}

	if err == device.ErrGone {
		return r.closeInput(slot)
	}

	r.logger.Warn("input: read error", "path", slot.spec.Path, "error", err)
	return false
}

// closeInput implements the hot-unplug lifecycle of spec §4.B: release
// held keys through the pipeline, then apply the configured persist
// mode. It reports whether this was persist=none on the last input,
// which must stop the reactor.
func (r *Reactor) closeInput(slot *inputSlot) bool {
	release := slot.dev.ReleaseEvents()
	if len(release) > 0 {
		r.pl.Sink = r.route
		r.pl.Run(release)
		r.flushDirty()
	}

	r.epollDel(int32(slot.dev.Fd()))
	_ = slot.dev.Close()
	slot.dev = nil

	switch slot.spec.Persist {
	case "none":
		slot.state = stateClosed
		if r.allInputsClosed() {
			r.logger.Info("input: last input gone, exiting")
			return true
		}
		return false
	default: // reopen, full
		slot.state = stateWaiting
		slot.reopenAt = time.Now()
		r.armTimer()
		return false
	}
}

func (r *Reactor) allInputsClosed() bool {
	for _, slot := range r.inputs {
		if slot.state != stateClosed {
			return false
		}
	}
	return true
}

// route is the pipeline's Sink: it writes e to every accepting output
// and, on the batch's closing SYN, flushes every output that received
// something this batch (spec §4.C routing, §4.D "flushed after the
// SYN barrier").
func (r *Reactor) route(e ev.Event) {
	if e.IsSyn() {
		r.flushDirty()
		return
	}

	for _, o := range r.outputs {
		if !o.dev.Accepts(e, r.domains.Name, nil) {
			continue
		}
		if err := o.dev.Write(e); err != nil {
			r.logger.Warn("output: write failed", "name", o.spec.Name, "error", err)
			continue
		}
		o.dirty = true
	}
}

func (r *Reactor) flushDirty() {
	for _, o := range r.outputs {
		if !o.dirty {
			continue
		}
		if err := o.dev.Flush(); err != nil {
			r.logger.Warn("output: flush failed", "name", o.spec.Name, "error", err)
		}
		o.dirty = false
	}
}

func (r *Reactor) notifyReady() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	return err
}

// teardown implements spec §4.H's graceful shutdown: flush events
// still held by delay and withhold stages to the outputs, release every
// held key on every output then SYN, destroy outputs, release input
// grabs, remove symlinks and the FIFO.
func (r *Reactor) teardown() {
	r.pl.Sink = r.route
	r.pl.Flush()
	r.flushDirty()

	for _, o := range r.outputs {
		if err := o.dev.Teardown(); err != nil {
			r.logger.Warn("output: teardown failed", "name", o.spec.Name, "error", err)
		}
	}

	for _, slot := range r.inputs {
		if slot.dev != nil {
			_ = slot.dev.Close()
		}
	}

	if r.control != nil {
		_ = r.control.Close()
	}

	if r.epfd != 0 {
		_ = unix.Close(r.epfd)
	}
	if r.sigfd != 0 {
		_ = unix.Close(r.sigfd)
	}
	if r.timerfd != 0 {
		_ = unix.Close(r.timerfd)
	}
}
