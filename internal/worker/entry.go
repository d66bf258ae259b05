package worker

import (
	"context"

	"github.com/zjrosen/forkpool/internal/proc"
)

// BuildFunc constructs a worker inside the child from the arguments given to
// Start. It plays the role of the worker state a forked child would inherit.
type BuildFunc func(args []string) (*Worker, error)

// Entry adapts build into a proc entry that builds the worker and runs it.
func Entry(build BuildFunc) proc.EntryFunc {
	return func(ctx context.Context, args []string) error {
		w, err := build(args)
		if err != nil {
			return err
		}
		return w.Run(ctx)
	}
}

// Register registers build as a proc entry under name.
func Register(name string, build BuildFunc) {
	proc.Register(name, Entry(build))
}
