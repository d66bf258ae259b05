package proc

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EntryFunc is the code a child process runs. args are the arguments passed
// to Start. Returning an error makes the child exit with status 1.
type EntryFunc func(ctx context.Context, args []string) error

var (
	registryMu sync.RWMutex
	registry   = map[string]EntryFunc{}
)

// Register makes fn runnable in a child under name. Parent and child are the
// same binary, so registration must happen unconditionally, typically from
// a package init function. Registering an empty name, a nil func, or a name
// twice panics.
func Register(name string, fn EntryFunc) {
	if name == "" {
		panic("proc: Register with empty name")
	}
	if fn == nil {
		panic(fmt.Sprintf("proc: Register %q with nil func", name))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("proc: Register called twice for %q", name))
	}
	registry[name] = fn
}

// Lookup returns the entry registered under name.
func Lookup(name string) (EntryFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Entries returns the registered names, sorted.
func Entries() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
