package sqlite

import (
	"encoding/json"
	"time"

	"github.com/zjrosen/forkpool/internal/history"
)

// RunModel is a row of the runs table. Times are Unix nanoseconds.
type RunModel struct {
	ID         int64
	RunID      string
	Command    string
	Codec      string
	State      string
	StartedAt  int64
	FinishedAt *int64 // nullable
}

// WorkerModel is a row of the run_workers table.
type WorkerModel struct {
	RunID    int64
	Index    int
	PID      int
	Entry    string
	ExitCode int
	Messages int
	Error    *string // nullable
	Tasks    *string // nullable, JSON encoded
}

type taskJSON struct {
	TaskID int `json:"task_id"`
	Items  int `json:"items"`
}

func toRunModel(r *history.Run) *RunModel {
	m := &RunModel{
		ID:        r.ID(),
		RunID:     r.RunID(),
		Command:   r.Command(),
		Codec:     r.Codec(),
		State:     string(r.State()),
		StartedAt: r.StartedAt().UnixNano(),
	}
	if f := r.FinishedAt(); f != nil {
		ts := f.UnixNano()
		m.FinishedAt = &ts
	}
	return m
}

func toWorkerModel(runID int64, w history.WorkerRecord) (*WorkerModel, error) {
	m := &WorkerModel{
		RunID:    runID,
		Index:    w.Index,
		PID:      w.PID,
		Entry:    w.Entry,
		ExitCode: w.ExitCode,
		Messages: w.Messages,
	}
	if w.Error != "" {
		e := w.Error
		m.Error = &e
	}
	if len(w.Tasks) > 0 {
		tasks := make([]taskJSON, len(w.Tasks))
		for i, t := range w.Tasks {
			tasks[i] = taskJSON{TaskID: t.TaskID, Items: t.Items}
		}
		data, err := json.Marshal(tasks)
		if err != nil {
			return nil, err
		}
		s := string(data)
		m.Tasks = &s
	}
	return m, nil
}

func (m *WorkerModel) toRecord() history.WorkerRecord {
	w := history.WorkerRecord{
		Index:    m.Index,
		PID:      m.PID,
		Entry:    m.Entry,
		ExitCode: m.ExitCode,
		Messages: m.Messages,
	}
	if m.Error != nil {
		w.Error = *m.Error
	}
	if m.Tasks != nil && *m.Tasks != "" {
		var tasks []taskJSON
		// Ignore malformed JSON - the worker summary is still useful.
		if err := json.Unmarshal([]byte(*m.Tasks), &tasks); err == nil {
			w.Tasks = make([]history.TaskResultRecord, len(tasks))
			for i, t := range tasks {
				w.Tasks[i] = history.TaskResultRecord{TaskID: t.TaskID, Items: t.Items}
			}
		}
	}
	return w
}

func (m *RunModel) toDomain(workers []history.WorkerRecord) *history.Run {
	var finished *time.Time
	if m.FinishedAt != nil {
		t := time.Unix(0, *m.FinishedAt)
		finished = &t
	}
	return history.ReconstituteRun(
		m.ID, m.RunID, m.Command, m.Codec, history.RunState(m.State),
		workers, time.Unix(0, m.StartedAt), finished,
	)
}
