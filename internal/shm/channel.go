// Package shm implements a shared memory mailbox between a parent process and
// one child. A channel is a file-backed segment mapped MAP_SHARED by both
// sides, holding two slots. Every slot operation holds an exclusive flock on
// the segment file, so read-clear-rewrite cycles are atomic across processes.
package shm

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/zjrosen/forkpool/internal/codec"
	"github.com/zjrosen/forkpool/internal/log"
)

// Channel is one process's view of a segment.
type Channel struct {
	mu       sync.Mutex
	key      Key
	path     string
	file     *os.File
	bell     *os.File
	data     []byte
	slotSize int
	codec    codec.Codec
}

// BellPath returns the doorbell file rung by Append for the segment at path.
func BellPath(path string) string {
	return path + ".bell"
}

// Attach opens the segment for key, creating and initializing it when it does
// not exist yet. Either side may attach first.
func Attach(cfg Config, key Key) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create dir: %w", ErrChannelUnavailable, err)
	}

	path := key.Path(cfg.Dir)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600) //nolint:gosec // path built from config dir and key
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrChannelUnavailable, path, err)
	}

	data, slotSize, err := mapSegment(f, cfg.SlotSize)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrChannelUnavailable, path, err)
	}

	bell, err := os.OpenFile(BellPath(path), os.O_RDWR|os.O_CREATE, 0600) //nolint:gosec // sibling of segment
	if err != nil {
		_ = unix.Munmap(data)
		_ = f.Close()
		return nil, fmt.Errorf("%w: open doorbell: %w", ErrChannelUnavailable, err)
	}

	log.Debug(log.CatShm, "Attached channel", "key", key, "path", path, "slotSize", slotSize)

	return &Channel{
		key:      key,
		path:     path,
		file:     f,
		bell:     bell,
		data:     data,
		slotSize: slotSize,
		codec:    cfg.Codec,
	}, nil
}

// mapSegment sizes a fresh segment, maps it, and writes or validates the
// header, all under the segment lock.
func mapSegment(f *os.File, slotSize int) ([]byte, int, error) {
	fd := int(f.Fd()) //nolint:gosec // fd fits in int
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return nil, 0, fmt.Errorf("flock: %w", err)
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, 0, fmt.Errorf("fstat: %w", err)
	}
	size := int(st.Size)
	fresh := size == 0
	if fresh {
		size = segmentSize(slotSize)
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			return nil, 0, fmt.Errorf("ftruncate: %w", err)
		}
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, 0, fmt.Errorf("mmap: %w", err)
	}

	if fresh {
		writeHeader(data, slotSize)
		return data, slotSize, nil
	}

	actual, err := readHeader(data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, 0, err
	}
	if destroyed(data) {
		_ = unix.Munmap(data)
		return nil, 0, ErrChannelDestroyed
	}
	return data, actual, nil
}

// Key returns the key this channel was attached with.
func (c *Channel) Key() Key { return c.key }

// Path returns the backing segment file.
func (c *Channel) Path() string { return c.path }

// Codec returns the codec used to encode slot values.
func (c *Channel) Codec() codec.Codec { return c.codec }

// withLock runs fn with the in-process mutex and the cross-process flock held.
func (c *Channel) withLock(s Slot, fn func(region []byte) error) error {
	if !s.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, int(s))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data == nil {
		return ErrChannelReleased
	}
	fd := int(c.file.Fd()) //nolint:gosec // fd fits in int
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("flock %s: %w", c.path, err)
	}
	defer func() { _ = unix.Flock(fd, unix.LOCK_UN) }()

	if destroyed(c.data) {
		return ErrChannelDestroyed
	}
	return fn(slotRegion(c.data, c.slotSize, s))
}

// HasSlot reports whether slot s currently holds a sequence, even an empty one.
func (c *Channel) HasSlot(s Slot) (bool, error) {
	var present bool
	err := c.withLock(s, func(region []byte) error {
		present = le.Uint32(region) != 0
		return nil
	})
	return present, err
}

// ReadSlot returns the sequence stored in s without clearing it. ok is false
// when the slot is absent.
func (c *Channel) ReadSlot(s Slot) (msgs []Message, ok bool, err error) {
	err = c.withLock(s, func(region []byte) error {
		items, present, rerr := readSlot(region)
		if rerr != nil {
			return rerr
		}
		ok = present
		msgs = c.wrap(items)
		return nil
	})
	return msgs, ok, err
}

// ClearSlot removes the sequence in s. Clearing an absent slot is a no-op.
func (c *Channel) ClearSlot(s Slot) error {
	return c.withLock(s, func(region []byte) error {
		clearSlot(region)
		return nil
	})
}

// WriteSlot replaces the contents of s with values, encoding each with the
// channel codec. Message values are stored as-is. On ErrSlotFull the slot is
// left untouched.
func (c *Channel) WriteSlot(s Slot, values ...any) error {
	items, err := c.encode(values)
	if err != nil {
		return err
	}
	return c.withLock(s, func(region []byte) error {
		return writeSlot(region, items)
	})
}

// Append adds value to the end of the sequence in s, creating the slot if
// absent, then rings the doorbell.
func (c *Channel) Append(s Slot, value any) error {
	items, err := c.encode([]any{value})
	if err != nil {
		return err
	}
	err = c.withLock(s, func(region []byte) error {
		existing, _, rerr := readSlot(region)
		if rerr != nil {
			return rerr
		}
		return writeSlot(region, append(existing, items[0]))
	})
	if err != nil {
		return err
	}
	c.ring()
	return nil
}

// Drain reads and clears s in one step. An absent slot yields an empty
// sequence.
func (c *Channel) Drain(s Slot) ([]Message, error) {
	var msgs []Message
	err := c.withLock(s, func(region []byte) error {
		items, present, rerr := readSlot(region)
		if !present {
			return nil
		}
		clearSlot(region)
		if rerr != nil {
			return rerr
		}
		msgs = c.wrap(items)
		return nil
	})
	if msgs == nil && err == nil {
		msgs = []Message{}
	}
	return msgs, err
}

// Release unmaps this view and closes its descriptors. The segment survives
// for other views. Safe to call more than once.
func (c *Channel) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked()
}

func (c *Channel) releaseLocked() error {
	if c.data == nil {
		return nil
	}
	var errs []error
	if err := unix.Munmap(c.data); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	c.data = nil
	if err := c.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.bell.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Destroy marks the segment destroyed for every other view, releases this
// view, and unlinks the segment and its doorbell.
func (c *Channel) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data == nil {
		return ErrChannelReleased
	}

	fd := int(c.file.Fd()) //nolint:gosec // fd fits in int
	if err := unix.Flock(fd, unix.LOCK_EX); err == nil {
		markDestroyed(c.data)
		_ = unix.Flock(fd, unix.LOCK_UN)
	} else {
		markDestroyed(c.data)
	}

	errs := []error{c.releaseLocked()}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	if err := os.Remove(BellPath(c.path)); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}

	log.Debug(log.CatShm, "Destroyed channel", "key", c.key)
	return errors.Join(errs...)
}

// Destroy removes the segment for key without mapping it. Used when the owner
// never attached. A missing segment is not an error.
func Destroy(cfg Config, key Key) error {
	path := key.Path(cfg.Dir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.Remove(BellPath(path))
		return nil
	}
	ch, err := Attach(cfg, key)
	if err != nil {
		if errors.Is(err, ErrChannelDestroyed) {
			return nil
		}
		// Unreadable segment; unlink it anyway.
		_ = os.Remove(BellPath(path))
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return rerr
		}
		return nil
	}
	return ch.Destroy()
}

func (c *Channel) encode(values []any) ([][]byte, error) {
	items := make([][]byte, 0, len(values))
	for _, v := range values {
		if m, ok := v.(Message); ok {
			items = append(items, m.data)
			continue
		}
		b, err := c.codec.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %T: %w", v, err)
		}
		items = append(items, b)
	}
	return items, nil
}

func (c *Channel) wrap(items [][]byte) []Message {
	msgs := make([]Message, len(items))
	for i, it := range items {
		msgs[i] = Message{data: it, codec: c.codec}
	}
	return msgs
}

// ring wakes readers watching the doorbell. Failures only delay the reader
// until its next poll.
func (c *Channel) ring() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bell == nil || c.data == nil {
		return
	}
	if _, err := c.bell.WriteAt([]byte{1}, 0); err != nil {
		log.Debug(log.CatShm, "Doorbell write failed", "key", c.key, "error", err)
	}
}
