// Package proc spawns registered entry functions in child processes and talks
// to them through a shared memory channel.
//
// Go cannot fork a running runtime, so a child is the current binary
// re-executed with the entry name in its environment. Init, called first in
// main, recognizes that marker and runs the entry instead of the program.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sys/unix"

	"github.com/zjrosen/forkpool/internal/log"
	"github.com/zjrosen/forkpool/internal/shm"
	"github.com/zjrosen/forkpool/internal/tracing"
)

// State is the lifecycle position of a Handle.
type State int

const (
	StateUnstarted State = iota
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Handle is the parent's view of one child process.
type Handle struct {
	entry  string
	cfg    shm.Config
	env    []string
	stdout io.Writer
	stderr io.Writer

	mu          sync.Mutex
	pid         int
	state       State
	status      unix.WaitStatus
	statusKnown bool

	chMu sync.Mutex
	ch   *shm.Channel

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Handle.
type Option func(*Handle)

// WithChannelConfig sets the shared memory configuration handed to the child.
func WithChannelConfig(cfg shm.Config) Option {
	return func(h *Handle) { h.cfg = cfg }
}

// WithEnv adds KEY=VALUE entries to the child's environment.
func WithEnv(kv ...string) Option {
	return func(h *Handle) { h.env = append(h.env, kv...) }
}

// WithOutput redirects the child's stdout and stderr. Nil keeps the parent's.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(h *Handle) {
		h.stdout = stdout
		h.stderr = stderr
	}
}

// New returns an unstarted handle for the entry registered under name.
func New(name string, opts ...Option) (*Handle, error) {
	if _, ok := Lookup(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntryNotCallable, name)
	}
	h := &Handle{
		entry: name,
		cfg:   shm.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Entry returns the entry name.
func (h *Handle) Entry() string { return h.entry }

// ChannelConfig returns the shared memory configuration.
func (h *Handle) ChannelConfig() shm.Config { return h.cfg }

// PID returns the child pid, or 0 before Start.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// State returns the last observed state. It does not poll the child.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ExitStatus returns the child's exit code once it has been reaped. A child
// killed by a signal reports -1. ok is false while the status is unknown.
func (h *Handle) ExitStatus() (code int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateExited || !h.statusKnown {
		return 0, false
	}
	return h.status.ExitStatus(), true
}

// Start spawns the child and returns as soon as it is running.
func (h *Handle) Start(args ...string) error {
	return h.StartContext(context.Background(), args...)
}

// StartContext is Start with the child's spans parented under ctx.
func (h *Handle) StartContext(ctx context.Context, args ...string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateUnstarted {
		return ErrAlreadyStarted
	}

	ctx, span := tracing.Start(ctx, tracing.SpanProcStart, attribute.String(tracing.AttrEntry, h.entry))

	pid, err := h.spawn(ctx, args)
	if err != nil {
		tracing.End(span, err)
		log.ErrorErr(log.CatProc, "Spawn failed", err, "entry", h.entry)
		return err
	}
	span.SetAttributes(attribute.Int(tracing.AttrPID, pid))
	tracing.End(span, nil)

	h.pid = pid
	h.state = StateRunning
	log.Info(log.CatProc, "Spawned child", "entry", h.entry, "child", pid)
	return nil
}

func (h *Handle) spawn(ctx context.Context, args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("%w: resolve executable: %w", ErrSpawnFailed, err)
	}

	env := os.Environ()
	env = append(env, EnvEntry+"="+h.entry)
	env = append(env, h.cfg.Environ()...)
	env = append(env, log.Environ()...)
	env = append(env, tracing.Environ(ctx)...)
	env = append(env, h.env...)

	stdout, stderr := os.Stdout, os.Stderr
	var pipes []*os.File
	if h.stdout != nil {
		w, err := pipeTo(h.stdout)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
		}
		stdout = w
		pipes = append(pipes, w)
	}
	if h.stderr != nil {
		w, err := pipeTo(h.stderr)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
		}
		stderr = w
		pipes = append(pipes, w)
	}
	// The child holds its own copies of the write ends.
	defer func() {
		for _, p := range pipes {
			_ = p.Close()
		}
	}()

	attr := &os.ProcAttr{
		Env:   env,
		Files: []*os.File{os.Stdin, stdout, stderr},
		Sys: &syscall.SysProcAttr{
			// Own process group so Stop can signal everything the entry spawned.
			Setpgid: true,
		},
	}

	p, err := os.StartProcess(exe, append([]string{exe}, args...), attr)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}
	pid := p.Pid
	// Reaping is done with wait4 on the pid; the os.Process is not used again.
	_ = p.Release()
	return pid, nil
}

// pipeTo returns the write end of a pipe whose read end is copied into w
// until every writer has closed it.
func pipeTo(w io.Writer) (*os.File, error) {
	r, wr, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	go func() {
		_, _ = io.Copy(w, r)
		_ = r.Close()
	}()
	return wr, nil
}

// IsAlive reports whether the child is still running. It never blocks and
// reaps the child the first time it observes its exit. Once false it stays
// false.
func (h *Handle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateRunning {
		return false
	}

	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(h.pid, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			// ECHILD: reaped elsewhere.
			h.markExitedLocked(ws, false)
			return false
		}
		if wpid == 0 {
			return true
		}
		h.markExitedLocked(ws, true)
		return false
	}
}

func (h *Handle) markExitedLocked(ws unix.WaitStatus, known bool) {
	if known {
		h.status = ws
		h.statusKnown = true
	}
	if h.state == StateExited {
		return
	}
	h.state = StateExited
	if known {
		log.Debug(log.CatProc, "Child exited", "entry", h.entry, "child", h.pid,
			"exitCode", ws.ExitStatus(), "signaled", ws.Signaled())
	} else {
		log.Debug(log.CatProc, "Child exited", "entry", h.entry, "child", h.pid)
	}
}

// Stop signals the child's process group and then the child itself. When wait
// is true it blocks until the child has terminated. Stopping a child that is
// not running is a no-op.
func (h *Handle) Stop(sig syscall.Signal, wait bool) error {
	if !h.IsAlive() {
		return nil
	}
	pid := h.PID()

	_, span := tracing.Start(context.Background(), tracing.SpanProcStop,
		attribute.Int(tracing.AttrPID, pid),
		attribute.String(tracing.AttrSignal, sig.String()),
	)

	// The group may already be gone; the direct signal is the one that matters.
	_ = unix.Kill(-pid, sig)
	if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		err = fmt.Errorf("signal %d: %w", pid, err)
		tracing.End(span, err)
		return err
	}
	log.Debug(log.CatProc, "Signaled child", "child", pid, "signal", sig)

	if wait {
		h.waitBlocking()
	}
	tracing.End(span, nil)
	return nil
}

// waitBlocking blocks in wait4 until the child is reaped.
func (h *Handle) waitBlocking() {
	if h.State() != StateRunning {
		return
	}
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(h.PID(), &ws, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		h.mu.Lock()
		h.markExitedLocked(ws, err == nil && wpid > 0)
		h.mu.Unlock()
		return
	}
}

// Wait blocks until the child exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	if h.State() == StateUnstarted {
		return ErrNotStarted
	}
	done := make(chan struct{})
	go func() {
		h.waitBlocking()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// channel attaches the shared channel on first use.
func (h *Handle) channel() (*shm.Channel, error) {
	pid := h.PID()
	if pid == 0 {
		return nil, ErrNotStarted
	}

	h.chMu.Lock()
	defer h.chMu.Unlock()
	if h.ch != nil {
		return h.ch, nil
	}
	ch, err := shm.Attach(h.cfg, h.cfg.Key(pid))
	if err != nil {
		return nil, err
	}
	h.ch = ch
	return ch, nil
}

// Send appends v to the child's inbound slot.
func (h *Handle) Send(v any) error {
	ch, err := h.channel()
	if err != nil {
		return err
	}
	return ch.Append(shm.Inbound, v)
}

// GetMessage drains everything the child has sent so far. It returns an empty
// slice when nothing is pending.
func (h *Handle) GetMessage() ([]shm.Message, error) {
	ch, err := h.channel()
	if err != nil {
		return nil, err
	}
	return ch.Drain(shm.Outbound)
}

// Close destroys the shared channel, whether or not the parent ever attached
// it. It refuses while the child is alive so pending results are not lost;
// Stop the child first. Later calls return the first result.
func (h *Handle) Close() error {
	if h.IsAlive() {
		return ErrStillRunning
	}
	pid := h.PID()
	if pid == 0 {
		// Nothing to dispose yet; keep the once for the started child.
		return nil
	}
	h.closeOnce.Do(func() {
		h.chMu.Lock()
		defer h.chMu.Unlock()
		if h.ch != nil {
			h.closeErr = h.ch.Destroy()
			h.ch = nil
		} else {
			h.closeErr = shm.Destroy(h.cfg, h.cfg.Key(pid))
		}
		log.Debug(log.CatProc, "Disposed handle", "entry", h.entry, "child", pid)
	})
	return h.closeErr
}
