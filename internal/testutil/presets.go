package testutil

import (
	"time"

	"github.com/zjrosen/forkpool/internal/history"
)

// WithStandardRuns adds three runs an hour apart, oldest first:
//
//	run-old   completed  2 countdown workers
//	run-mid   failed     worker 1 exited 1
//	run-new   stopped    echo worker, cbor
func (b *Builder) WithStandardRuns() *Builder {
	now := time.Now()
	return b.
		WithRun("run-old",
			StartedAt(now.Add(-2*time.Hour)),
			Worker(0, 1000), Worker(1, 1001)).
		WithRun("run-mid",
			State(history.RunStateFailed), StartedAt(now.Add(-time.Hour)),
			Worker(0, 2000), Worker(1, 2001, ExitCode(1), HarvestError("exit status 1"))).
		WithRun("run-new",
			Command("echo"), Codec("cbor"), State(history.RunStateStopped), StartedAt(now),
			Worker(0, 3000, Entry("echo"), Tasks(5, 0)))
}
