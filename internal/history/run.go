// Package history defines the record of completed pool runs and the
// repository interface used to persist it. It has no storage dependencies.
package history

import (
	"fmt"
	"time"
)

// RunState is the outcome of a run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	// RunStateFailed means at least one worker exited non-zero or could not
	// be harvested.
	RunStateFailed RunState = "failed"
	// RunStateStopped means the run was interrupted before harvest finished.
	RunStateStopped RunState = "stopped"
)

func (s RunState) String() string { return string(s) }

// IsValid reports whether s is a known state.
func (s RunState) IsValid() bool {
	switch s {
	case RunStateRunning, RunStateCompleted, RunStateFailed, RunStateStopped:
		return true
	default:
		return false
	}
}

// WorkerRecord is what one child produced.
type WorkerRecord struct {
	Index    int
	PID      int
	Entry    string
	ExitCode int
	Messages int
	Error    string
	Tasks    []TaskResultRecord
}

// TaskResultRecord summarizes one task result.
type TaskResultRecord struct {
	TaskID int
	// Items is the result length when the result is a sequence, else 1.
	Items int
}

// Run is one invocation of the pool.
type Run struct {
	id         int64
	runID      string
	command    string
	codec      string
	state      RunState
	workers    []WorkerRecord
	startedAt  time.Time
	finishedAt *time.Time
}

// NewRun returns a running Run started now. The ID is assigned on Save.
func NewRun(runID, command, codec string) *Run {
	return &Run{
		runID:     runID,
		command:   command,
		codec:     codec,
		state:     RunStateRunning,
		startedAt: time.Now(),
	}
}

// ReconstituteRun rebuilds a Run from storage.
func ReconstituteRun(id int64, runID, command, codec string, state RunState,
	workers []WorkerRecord, startedAt time.Time, finishedAt *time.Time) *Run {
	return &Run{
		id:         id,
		runID:      runID,
		command:    command,
		codec:      codec,
		state:      state,
		workers:    workers,
		startedAt:  startedAt,
		finishedAt: finishedAt,
	}
}

func (r *Run) ID() int64 { return r.id }
func (r *Run) RunID() string { return r.runID }
func (r *Run) Command() string { return r.command }
func (r *Run) Codec() string { return r.codec }
func (r *Run) State() RunState { return r.state }
func (r *Run) Workers() []WorkerRecord { return r.workers }
func (r *Run) StartedAt() time.Time { return r.startedAt }
func (r *Run) FinishedAt() *time.Time { return r.finishedAt }

// SetID is called by the repository after insert.
func (r *Run) SetID(id int64) { r.id = id }

// AddWorker appends a worker record.
func (r *Run) AddWorker(w WorkerRecord) {
	r.workers = append(r.workers, w)
}

// Duration is the wall time of a finished run, or the time since start.
func (r *Run) Duration() time.Duration {
	if r.finishedAt == nil {
		return time.Since(r.startedAt)
	}
	return r.finishedAt.Sub(r.startedAt)
}

// Finish moves a running run to completed or failed depending on its
// worker records.
func (r *Run) Finish() error {
	if r.state != RunStateRunning {
		return fmt.Errorf("cannot finish run in state %s", r.state)
	}
	now := time.Now()
	r.finishedAt = &now
	r.state = RunStateCompleted
	for _, w := range r.workers {
		if w.ExitCode != 0 || w.Error != "" {
			r.state = RunStateFailed
			break
		}
	}
	return nil
}

// Stop marks a running run as interrupted.
func (r *Run) Stop() error {
	if r.state != RunStateRunning {
		return fmt.Errorf("cannot stop run in state %s", r.state)
	}
	now := time.Now()
	r.finishedAt = &now
	r.state = RunStateStopped
	return nil
}
