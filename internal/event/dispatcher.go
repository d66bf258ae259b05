// Package event provides a small synchronous listener registry keyed by event
// name. Workers use it to sequence their lifecycle hooks.
package event

import (
	"slices"
	"sync"
)

// Listener is invoked with the arguments passed to Fire.
type Listener func(args ...any)

// Options controls how a listener is registered.
type Options struct {
	// Single removes the listener right after its first invocation.
	Single bool
}

type entry struct {
	cb   Listener
	opts Options
	id   uint64
}

// Dispatcher maps event names to ordered listener lists.
// The zero value is ready to use.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[string][]*entry
	nextID    uint64
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// AddListener appends cb to the listeners of event. Registering the same
// callback twice makes it fire twice.
func (d *Dispatcher) AddListener(event string, cb Listener, opts Options) {
	if cb == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listeners == nil {
		d.listeners = make(map[string][]*entry)
	}
	d.nextID++
	d.listeners[event] = append(d.listeners[event], &entry{cb: cb, opts: opts, id: d.nextID})
}

// Fire invokes the listeners registered for event at the moment of the call,
// in registration order, on the calling goroutine. Listeners added while a
// pass is running are not part of that pass.
func (d *Dispatcher) Fire(event string, args ...any) {
	d.mu.Lock()
	snapshot := slices.Clone(d.listeners[event])
	d.mu.Unlock()

	for _, e := range snapshot {
		if e.opts.Single && !d.remove(event, e.id) {
			// Already consumed by a concurrent or nested Fire.
			continue
		}
		e.cb(args...)
	}
}

// remove deletes the entry with id from event's list and reports whether it
// was still present.
func (d *Dispatcher) remove(event string, id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.listeners[event]
	idx := slices.IndexFunc(list, func(e *entry) bool { return e.id == id })
	if idx < 0 {
		return false
	}
	list = slices.Delete(list, idx, idx+1)
	if len(list) == 0 {
		delete(d.listeners, event)
	} else {
		d.listeners[event] = list
	}
	return true
}

// RemoveAll drops every listener for event.
func (d *Dispatcher) RemoveAll(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, event)
}

// Count returns the number of listeners currently registered for event.
func (d *Dispatcher) Count(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[event])
}
