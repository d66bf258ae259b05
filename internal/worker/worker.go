// Package worker runs a queue of tasks inside a child process and reports
// their results to the parent through the child's shared channel.
//
// A Worker fires three lifecycle hooks: start, once per inbound message in
// bidirectional mode, and end. By default the start hook runs every task and
// sends the collected results.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/forkpool/internal/event"
	"github.com/zjrosen/forkpool/internal/log"
	"github.com/zjrosen/forkpool/internal/shm"
	"github.com/zjrosen/forkpool/internal/task"
	"github.com/zjrosen/forkpool/internal/tracing"
	"github.com/zjrosen/forkpool/internal/watcher"
)

// Mode selects whether the worker listens for parent messages.
type Mode int

const (
	// Directional workers run their start hook and end.
	Directional Mode = iota
	// Bidirectional workers keep draining their inbound slot until terminated.
	Bidirectional
)

func (m Mode) String() string {
	if m == Bidirectional {
		return "bidirectional"
	}
	return "directional"
}

// Hook event names.
const (
	EventStart   = "start"
	EventMessage = "message"
	EventEnd     = "end"
)

// DefaultPollInterval bounds how long the bidirectional loop sleeps when no
// doorbell arrives.
const DefaultPollInterval = 10 * time.Millisecond

// Results maps task ids to task results.
type Results map[int]any

// Hook is called at start and end.
type Hook func(ctx context.Context, w *Worker)

// MessageHook is called once per inbound message.
type MessageHook func(ctx context.Context, w *Worker, msg shm.Message)

// HookOption configures a hook registration.
type HookOption func(*event.Options)

// Once removes the hook after its first call.
func Once() HookOption {
	return func(o *event.Options) { o.Single = true }
}

// Worker owns a task list and a lifecycle.
type Worker struct {
	id           int
	mode         Mode
	cfg          shm.Config
	pollInterval time.Duration
	dispatcher   *event.Dispatcher

	mu    sync.Mutex
	state State
	tasks []task.Task
	ch    *shm.Channel
	err   error
}

// Option configures a Worker.
type Option func(*Worker)

// WithMode sets the communication mode.
func WithMode(m Mode) Option {
	return func(w *Worker) { w.mode = m }
}

// WithChannelConfig sets the shared memory configuration. Without it, Run
// reads the configuration its parent handed down.
func WithChannelConfig(cfg shm.Config) Option {
	return func(w *Worker) { w.cfg = cfg }
}

// WithPollInterval sets the bidirectional fallback poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithoutTaskRunner skips wiring RunTasks as the default start hook.
func WithoutTaskRunner() Option {
	return func(w *Worker) { w.dispatcher.RemoveAll(EventStart) }
}

// New returns a worker in the Created state with RunTasks wired to start.
func New(id int, opts ...Option) *Worker {
	w := &Worker{
		id:           id,
		mode:         Directional,
		pollInterval: DefaultPollInterval,
		dispatcher:   event.New(),
	}
	w.OnStart(func(ctx context.Context, w *Worker) {
		if err := w.RunTasks(ctx); err != nil {
			w.fail(err)
		}
	})
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker id.
func (w *Worker) ID() int { return w.id }

// Mode returns the communication mode.
func (w *Worker) Mode() Mode { return w.mode }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Tasks returns a copy of the task list.
func (w *Worker) Tasks() []task.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]task.Task(nil), w.tasks...)
}

// AddTask appends t. Tasks must be added before the worker starts.
func (w *Worker) AddTask(t task.Task) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateCreated {
		return ErrAlreadyStarted
	}
	w.tasks = append(w.tasks, t)
	return nil
}

// OnStart registers a start hook.
func (w *Worker) OnStart(fn Hook, opts ...HookOption) {
	w.addHook(EventStart, func(args ...any) {
		fn(args[0].(context.Context), w)
	}, opts)
}

// OnMessage registers a hook called for each inbound message.
func (w *Worker) OnMessage(fn MessageHook, opts ...HookOption) {
	w.addHook(EventMessage, func(args ...any) {
		fn(args[0].(context.Context), w, args[2].(shm.Message))
	}, opts)
}

// OnEnd registers an end hook.
func (w *Worker) OnEnd(fn Hook, opts ...HookOption) {
	w.addHook(EventEnd, func(args ...any) {
		fn(args[0].(context.Context), w)
	}, opts)
}

func (w *Worker) addHook(name string, l event.Listener, opts []HookOption) {
	var o event.Options
	for _, opt := range opts {
		opt(&o)
	}
	w.dispatcher.AddListener(name, l, o)
}

func (w *Worker) transition(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !canTransition(w.state, to) {
		return transitionError(w.state, to)
	}
	log.Debug(log.CatWorker, "Worker transition", "worker", w.id, "from", w.state, "to", to)
	w.state = to
	return nil
}

// fail records the first error raised by a hook; Run returns it.
func (w *Worker) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Run attaches the worker's channel, keyed by the current pid, and drives the
// lifecycle. A directional worker returns after its end hook. A bidirectional
// worker loops until ctx is cancelled or the process is terminated.
func (w *Worker) Run(ctx context.Context) (err error) {
	if err := w.transition(StateStarted); err != nil {
		return err
	}

	ctx, span := tracing.Start(ctx, tracing.SpanWorkerRun,
		attribute.Int(tracing.AttrWorkerID, w.id),
		attribute.String(tracing.AttrWorkerMode, w.mode.String()),
		attribute.Int(tracing.AttrTaskCount, len(w.Tasks())),
	)
	defer func() { tracing.End(span, err) }()

	if w.cfg.Namespace == "" {
		cfg, cerr := shm.ConfigFromEnv()
		if cerr != nil {
			return fmt.Errorf("%w: %w", shm.ErrChannelUnavailable, cerr)
		}
		w.cfg = cfg
	}
	ch, err := shm.Attach(w.cfg, w.cfg.Key(os.Getpid()))
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.ch = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.ch = nil
		w.mu.Unlock()
		if rerr := ch.Release(); rerr != nil {
			log.ErrorErr(log.CatWorker, "Release channel failed", rerr, "worker", w.id)
		}
	}()

	log.Info(log.CatWorker, "Worker started", "worker", w.id, "mode", w.mode, "tasks", len(w.Tasks()))
	w.dispatcher.Fire(EventStart, ctx, w)

	if w.mode == Bidirectional {
		if err := w.transition(StateLooping); err != nil {
			return err
		}
		if err := w.loop(ctx, ch, span); err != nil {
			w.fail(err)
		}
	}

	if err := w.transition(StateEnded); err != nil {
		return err
	}
	w.dispatcher.Fire(EventEnd, ctx, w)
	log.Info(log.CatWorker, "Worker ended", "worker", w.id)

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// loop drains the inbound slot and fires message hooks in arrival order,
// sleeping on the doorbell between drains.
func (w *Worker) loop(ctx context.Context, ch *shm.Channel, span trace.Span) error {
	var bell <-chan struct{}
	if wt, err := watcher.New(watcher.DefaultConfig(shm.BellPath(ch.Path()))); err == nil {
		if c, err := wt.Start(); err == nil {
			bell = c
		}
		defer func() { _ = wt.Stop() }()
	} else {
		log.Debug(log.CatWorker, "Doorbell unavailable, polling only", "worker", w.id, "error", err)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		msgs, err := ch.Drain(shm.Inbound)
		if err != nil {
			return fmt.Errorf("drain inbound: %w", err)
		}
		for _, m := range msgs {
			span.AddEvent(tracing.EventMessageReceived)
			w.dispatcher.Fire(EventMessage, ctx, w, m)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-bell:
		case <-ticker.C:
		}
	}
}

// RunTasks runs every task in order and sends one Results value holding each
// task's result under its id. A panicking task is not recovered.
func (w *Worker) RunTasks(ctx context.Context) error {
	results := Results{}
	for _, t := range w.Tasks() {
		_, span := tracing.Start(ctx, tracing.SpanTaskStart,
			attribute.Int(tracing.AttrWorkerID, w.id),
			attribute.Int(tracing.AttrTaskID, t.ID()),
		)
		started := time.Now()
		results[t.ID()] = t.Start()
		span.End()
		log.Debug(log.CatTask, "Task finished", "worker", w.id, "task", t.ID(), "took", time.Since(started))
	}
	if err := w.Send(results); err != nil {
		return fmt.Errorf("send results: %w", err)
	}
	trace.SpanFromContext(ctx).AddEvent(tracing.EventResultsSent)
	return nil
}

// Send appends v to the worker's outbound slot. Only valid during Run.
func (w *Worker) Send(v any) error {
	w.mu.Lock()
	ch := w.ch
	w.mu.Unlock()
	if ch == nil {
		return ErrNoChannel
	}
	return ch.Append(shm.Outbound, v)
}
