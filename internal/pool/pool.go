// Package pool spawns a set of child processes and harvests what they send
// until every one has exited.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/forkpool/internal/cachemanager"
	"github.com/zjrosen/forkpool/internal/log"
	"github.com/zjrosen/forkpool/internal/proc"
	"github.com/zjrosen/forkpool/internal/pubsub"
	"github.com/zjrosen/forkpool/internal/shm"
	"github.com/zjrosen/forkpool/internal/tracing"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultResultTTL    = 10 * time.Minute
)

// ErrStarted is returned by Add and Start once the pool has started.
var ErrStarted = errors.New("pool already started")

// Config controls harvesting.
type Config struct {
	// PollInterval is the fallback round interval when no SIGCHLD arrives.
	PollInterval time.Duration
	// ResultTTL is how long harvested batches stay retrievable via Batch.
	ResultTTL time.Duration
	// Channel is the shared memory configuration given to every child.
	Channel shm.Config
	// Stdout and Stderr receive child output. Nil keeps the parent's.
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultConfig returns a Config with a fresh channel namespace.
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		ResultTTL:    DefaultResultTTL,
		Channel:      shm.DefaultConfig(),
	}
}

// Batch is everything harvested from one child.
type Batch struct {
	Index    int
	Entry    string
	PID      int
	ExitCode int
	Messages []shm.Message
	// Err is the first error seen while draining or disposing the child.
	Err error
}

// Event is the payload published on the pool's broker.
type Event struct {
	Index    int
	Entry    string
	PID      int
	Messages int
	ExitCode int
	Err      error
}

// BatchKey addresses a cached batch.
type BatchKey string

type member struct {
	index  int
	args   []string
	handle *proc.Handle
	batch  Batch
	done   bool
}

// Pool owns a set of handles.
type Pool struct {
	cfg    Config
	broker *pubsub.Broker[Event]
	cache  cachemanager.CacheManager[BatchKey, Batch]

	mu      sync.Mutex
	members []*member
	started bool
}

// New returns an empty pool.
func New(cfg Config) *Pool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	return &Pool{
		cfg:    cfg,
		broker: pubsub.NewBroker[Event](),
		cache: cachemanager.NewInMemoryCacheManager[BatchKey, Batch](
			"pool-batches", cfg.ResultTTL, cachemanager.DefaultCleanupInterval),
	}
}

// Add creates a handle for entry, to be started with args. It returns the
// member index used in batches and events.
func (p *Pool) Add(entry string, args ...string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return 0, ErrStarted
	}
	h, err := proc.New(entry,
		proc.WithChannelConfig(p.cfg.Channel),
		proc.WithOutput(p.cfg.Stdout, p.cfg.Stderr),
	)
	if err != nil {
		return 0, err
	}
	idx := len(p.members)
	p.members = append(p.members, &member{index: idx, args: args, handle: h})
	return idx, nil
}

// Handles returns the pool's handles in index order.
func (p *Pool) Handles() []*proc.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*proc.Handle, len(p.members))
	for i, m := range p.members {
		out[i] = m.handle
	}
	return out
}

// Subscribe returns lifecycle events for the pool's children.
func (p *Pool) Subscribe(ctx context.Context) <-chan pubsub.Event[Event] {
	return p.broker.Subscribe(ctx)
}

// Start spawns every member. If a spawn fails, members already started keep
// running and the error is returned; Stop them with Stop.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrStarted
	}
	p.started = true

	for _, m := range p.members {
		if err := m.handle.StartContext(ctx, m.args...); err != nil {
			return fmt.Errorf("start member %d: %w", m.index, err)
		}
		m.batch = Batch{Index: m.index, Entry: m.handle.Entry(), PID: m.handle.PID(), ExitCode: -1}
		p.broker.Publish(pubsub.SpawnedEvent, Event{Index: m.index, Entry: m.batch.Entry, PID: m.batch.PID})
	}
	log.Info(log.CatPool, "Pool started", "members", len(p.members), "namespace", p.cfg.Channel.Namespace)
	return nil
}

// Harvest blocks until every started member has exited, draining each
// member's outbound slot every round while it runs and once more after it
// exits, then disposing its handle. Rounds are triggered by SIGCHLD, or by
// the poll interval when signals are missed. Batches are returned in index
// order.
func (p *Pool) Harvest(ctx context.Context) (batches []Batch, err error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, proc.ErrNotStarted
	}
	members := append([]*member(nil), p.members...)
	p.mu.Unlock()

	ctx, span := tracing.Start(ctx, tracing.SpanPoolHarvest, attribute.Int(tracing.AttrHandles, len(members)))
	defer func() { tracing.End(span, err) }()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGCHLD)
	defer signal.Stop(sigch)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	rounds := 0
	for {
		rounds++
		pending := 0
		for _, m := range members {
			if m.done || m.handle.State() == proc.StateUnstarted {
				continue
			}
			if !p.harvestOne(ctx, m) {
				pending++
			}
		}
		if pending == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-sigch:
		case <-ticker.C:
		}
	}

	total := 0
	batches = make([]Batch, 0, len(members))
	for _, m := range members {
		if m.handle.State() == proc.StateUnstarted {
			continue
		}
		batches = append(batches, m.batch)
		total += len(m.batch.Messages)
	}
	span.SetAttributes(attribute.Int(tracing.AttrMessages, total))
	log.Info(log.CatPool, "Harvest complete", "members", len(batches), "messages", total, "rounds", rounds)
	return batches, nil
}

// harvestOne runs one round for m and reports whether m is finished.
func (p *Pool) harvestOne(ctx context.Context, m *member) bool {
	alive := m.handle.IsAlive()

	msgs, err := m.handle.GetMessage()
	if err != nil {
		log.ErrorErr(log.CatPool, "Drain failed", err, "member", m.index, "child", m.batch.PID)
		if m.batch.Err == nil {
			m.batch.Err = err
		}
	}
	if len(msgs) > 0 {
		m.batch.Messages = append(m.batch.Messages, msgs...)
		p.broker.Publish(pubsub.HarvestedEvent, Event{
			Index: m.index, Entry: m.batch.Entry, PID: m.batch.PID, Messages: len(msgs),
		})
	}
	if alive {
		return false
	}

	if code, ok := m.handle.ExitStatus(); ok {
		m.batch.ExitCode = code
	}
	p.broker.Publish(pubsub.ExitedEvent, Event{
		Index: m.index, Entry: m.batch.Entry, PID: m.batch.PID, ExitCode: m.batch.ExitCode,
	})

	if err := m.handle.Close(); err != nil {
		log.ErrorErr(log.CatPool, "Dispose failed", err, "member", m.index, "child", m.batch.PID)
		if m.batch.Err == nil {
			m.batch.Err = err
		}
	}
	p.broker.Publish(pubsub.DisposedEvent, Event{
		Index: m.index, Entry: m.batch.Entry, PID: m.batch.PID, Err: m.batch.Err,
	})

	p.cache.Set(ctx, p.batchKey(m.index), m.batch, p.cfg.ResultTTL)
	m.done = true
	return true
}

func (p *Pool) batchKey(index int) BatchKey {
	return BatchKey(fmt.Sprintf("%s/%d", p.cfg.Channel.Namespace, index))
}

// Batch returns the harvested batch of member index while it is cached.
func (p *Pool) Batch(ctx context.Context, index int) (Batch, bool) {
	return p.cache.Get(ctx, p.batchKey(index))
}

// Stop signals every running member with sig, waits for it to exit, and
// disposes its handle. Messages not yet harvested are discarded.
func (p *Pool) Stop(ctx context.Context, sig syscall.Signal) error {
	p.mu.Lock()
	members := append([]*member(nil), p.members...)
	p.mu.Unlock()

	var errs []error
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if m.done || m.handle.State() == proc.StateUnstarted {
			continue
		}
		if err := m.handle.Stop(sig, true); err != nil {
			errs = append(errs, fmt.Errorf("stop member %d: %w", m.index, err))
			continue
		}
		if err := m.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dispose member %d: %w", m.index, err))
			continue
		}
		m.done = true
		p.broker.Publish(pubsub.DisposedEvent, Event{Index: m.index, Entry: m.batch.Entry, PID: m.batch.PID})
	}
	return errors.Join(errs...)
}

// Close releases the pool's event broker.
func (p *Pool) Close() {
	p.broker.Close()
}
