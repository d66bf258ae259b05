package cmd

import (
	"github.com/zjrosen/forkpool/internal/history"
	"github.com/zjrosen/forkpool/internal/infrastructure/sqlite"
	"github.com/zjrosen/forkpool/internal/log"
)

// recorder tracks one CLI run in the history database. Failing to open or
// write the database never fails the run itself.
type recorder struct {
	db   *sqlite.DB
	repo history.Repository
	run  *history.Run
}

func startRecording(runID, command, codecName string) *recorder {
	r := &recorder{run: history.NewRun(runID, command, codecName)}
	if !cfg.History.Enabled {
		return r
	}
	db, err := sqlite.NewDB(cfg.HistoryPath())
	if err != nil {
		log.Warn(log.CatDB, "History disabled for this run", "error", err)
		return r
	}
	r.db = db
	r.repo = db.RunRepository()
	r.save()
	return r
}

func (r *recorder) save() {
	if r.repo == nil {
		return
	}
	if err := r.repo.Save(r.run); err != nil {
		log.ErrorErr(log.CatDB, "Failed to record run", err, "run", r.run.RunID())
	}
}

// finish marks the run completed, failed or, when interrupted, stopped, then
// saves it and closes the database.
func (r *recorder) finish(interrupted bool) {
	var err error
	if interrupted {
		err = r.run.Stop()
	} else {
		err = r.run.Finish()
	}
	if err != nil {
		log.ErrorErr(log.CatDB, "Failed to finish run", err, "run", r.run.RunID())
	}
	r.save()
	if r.db != nil {
		_ = r.db.Close()
		r.db = nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
