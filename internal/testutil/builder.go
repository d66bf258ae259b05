package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/forkpool/internal/history"
)

// Builder accumulates runs and saves them through a repository.
type Builder struct {
	t    testing.TB
	repo history.Repository
	runs []runData
}

// NewBuilder creates a builder for the given repository.
func NewBuilder(t testing.TB, repo history.Repository) *Builder {
	t.Helper()
	return &Builder{t: t, repo: repo}
}

// WithRun adds a run with optional configuration.
func (b *Builder) WithRun(runID string, opts ...RunOption) *Builder {
	run := defaultRun(runID)
	for _, opt := range opts {
		opt(&run)
	}
	b.runs = append(b.runs, run)
	return b
}

// Build saves every accumulated run in insertion order and returns them.
func (b *Builder) Build() []*history.Run {
	b.t.Helper()
	out := make([]*history.Run, 0, len(b.runs))
	for _, rd := range b.runs {
		run := rd.toRun()
		require.NoError(b.t, b.repo.Save(run), "save run %s", rd.runID)
		out = append(out, run)
	}
	return out
}

func (rd runData) toRun() *history.Run {
	var finished *time.Time
	if rd.state != history.RunStateRunning {
		f := rd.startedAt.Add(rd.duration)
		finished = &f
	}
	workers := append([]history.WorkerRecord(nil), rd.workers...)
	return history.ReconstituteRun(0, rd.runID, rd.command, rd.codec, rd.state, workers, rd.startedAt, finished)
}
