package presentation

import (
	"time"

	"github.com/zjrosen/forkpool/internal/history"
)

// RunDTO represents a recorded run for presentation.
type RunDTO struct {
	RunID      string      `json:"run_id"`
	Command    string      `json:"command"`
	Codec      string      `json:"codec"`
	State      string      `json:"state"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	Workers    []WorkerDTO `json:"workers"`
}

// WorkerDTO represents one child of a run.
type WorkerDTO struct {
	Index    int       `json:"index"`
	PID      int       `json:"pid"`
	Entry    string    `json:"entry"`
	ExitCode int       `json:"exit_code"`
	Messages int       `json:"messages"`
	Error    string    `json:"error,omitempty"`
	Tasks    []TaskDTO `json:"tasks,omitempty"`
}

// TaskDTO summarizes one task result.
type TaskDTO struct {
	TaskID int `json:"task_id"`
	Items  int `json:"items"`
}

// ResultDTO is one merged task result.
type ResultDTO struct {
	Worker int `json:"worker"`
	Task   int `json:"task"`
	Values any `json:"values"`
}

// RunOutputDTO is what the run command prints.
type RunOutputDTO struct {
	Run     RunDTO      `json:"run"`
	Results []ResultDTO `json:"results"`
}

// FromRun converts a history run to a DTO.
func FromRun(r *history.Run) RunDTO {
	workers := make([]WorkerDTO, 0, len(r.Workers()))
	for _, w := range r.Workers() {
		var tasks []TaskDTO
		for _, t := range w.Tasks {
			tasks = append(tasks, TaskDTO{TaskID: t.TaskID, Items: t.Items})
		}
		workers = append(workers, WorkerDTO{
			Index:    w.Index,
			PID:      w.PID,
			Entry:    w.Entry,
			ExitCode: w.ExitCode,
			Messages: w.Messages,
			Error:    w.Error,
			Tasks:    tasks,
		})
	}

	return RunDTO{
		RunID:      r.RunID(),
		Command:    r.Command(),
		Codec:      r.Codec(),
		State:      r.State().String(),
		StartedAt:  r.StartedAt(),
		FinishedAt: r.FinishedAt(),
		DurationMs: r.Duration().Milliseconds(),
		Workers:    workers,
	}
}

// FromRuns converts a list of runs.
func FromRuns(runs []*history.Run) []RunDTO {
	out := make([]RunDTO, 0, len(runs))
	for _, r := range runs {
		out = append(out, FromRun(r))
	}
	return out
}

// EventDTO is one pool lifecycle event.
type EventDTO struct {
	Type     string `json:"type"`
	Worker   int    `json:"worker"`
	Entry    string `json:"entry"`
	PID      int    `json:"pid"`
	Messages int    `json:"messages,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}
