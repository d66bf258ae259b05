package history

import "fmt"

// Repository persists runs.
type Repository interface {
	// Save inserts a run with ID 0 and assigns its ID, or replaces the
	// stored run and its worker records otherwise.
	Save(run *Run) error

	// FindByRunID returns the run with the given run id or RunNotFoundError.
	FindByRunID(runID string) (*Run, error)

	// List returns the most recent runs first. limit <= 0 means no limit.
	List(limit int) ([]*Run, error)

	// Delete removes a run and its worker records.
	Delete(runID string) error
}

// RunNotFoundError is returned when no run matches.
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}
