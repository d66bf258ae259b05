package testutil

import (
	"time"

	"github.com/zjrosen/forkpool/internal/history"
)

// runData holds all data for a run to be saved.
type runData struct {
	runID     string
	command   string
	codec     string
	state     history.RunState
	startedAt time.Time
	duration  time.Duration
	workers   []history.WorkerRecord
}

// defaultRun returns a completed countdown run started now.
func defaultRun(runID string) runData {
	return runData{
		runID:     runID,
		command:   "run",
		codec:     "json",
		state:     history.RunStateCompleted,
		startedAt: time.Now(),
		duration:  250 * time.Millisecond,
	}
}

// RunOption configures a run during builder setup.
type RunOption func(*runData)

// Command sets the CLI command that produced the run.
func Command(c string) RunOption {
	return func(r *runData) { r.command = c }
}

// Codec sets the slot codec name.
func Codec(c string) RunOption {
	return func(r *runData) { r.codec = c }
}

// State sets the final state. RunStateRunning leaves the run unfinished.
func State(s history.RunState) RunOption {
	return func(r *runData) { r.state = s }
}

// StartedAt sets the start time.
func StartedAt(t time.Time) RunOption {
	return func(r *runData) { r.startedAt = t }
}

// Duration sets the time between start and finish.
func Duration(d time.Duration) RunOption {
	return func(r *runData) { r.duration = d }
}

// Worker adds a worker record. Tasks default to one task with the worker's
// index as id.
func Worker(index, pid int, opts ...WorkerOption) RunOption {
	return func(r *runData) {
		w := history.WorkerRecord{
			Index: index,
			PID:   pid,
			Entry: "countdown",
			Tasks: []history.TaskResultRecord{{TaskID: index, Items: 10}},
		}
		for _, opt := range opts {
			opt(&w)
		}
		if w.Messages == 0 && len(w.Tasks) > 0 {
			w.Messages = 1
		}
		r.workers = append(r.workers, w)
	}
}

// WorkerOption configures a worker record.
type WorkerOption func(*history.WorkerRecord)

// Entry sets the entry name.
func Entry(name string) WorkerOption {
	return func(w *history.WorkerRecord) { w.Entry = name }
}

// ExitCode sets the exit code.
func ExitCode(code int) WorkerOption {
	return func(w *history.WorkerRecord) { w.ExitCode = code }
}

// HarvestError sets the harvest error text.
func HarvestError(msg string) WorkerOption {
	return func(w *history.WorkerRecord) { w.Error = msg }
}

// Tasks replaces the task results with one task per id, each with items results.
func Tasks(items int, ids ...int) WorkerOption {
	return func(w *history.WorkerRecord) {
		w.Tasks = nil
		for _, id := range ids {
			w.Tasks = append(w.Tasks, history.TaskResultRecord{TaskID: id, Items: items})
		}
	}
}
