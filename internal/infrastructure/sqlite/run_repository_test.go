package sqlite

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/forkpool/internal/history"
	"github.com/zjrosen/forkpool/internal/testutil"
)

func setupTestRepo(t testing.TB) history.Repository {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { _ = db.Close() })
	return db.RunRepository()
}

func finishedRun(t *testing.T, runID string, workers ...history.WorkerRecord) *history.Run {
	t.Helper()
	run := history.NewRun(runID, "run", "json")
	for _, w := range workers {
		run.AddWorker(w)
	}
	require.NoError(t, run.Finish())
	return run
}

func TestRunRepository_Save_Insert(t *testing.T) {
	repo := setupTestRepo(t)

	run := finishedRun(t, "run-1", history.WorkerRecord{Index: 0, PID: 100, Entry: "countdown"})
	require.NoError(t, repo.Save(run))
	require.NotZero(t, run.ID())
}

func TestRunRepository_FindByRunID(t *testing.T) {
	repo := setupTestRepo(t)

	run := finishedRun(t, "run-1",
		history.WorkerRecord{
			Index: 1, PID: 101, Entry: "countdown", Messages: 3,
			Tasks: []history.TaskResultRecord{{TaskID: 0, Items: 10}},
		},
		history.WorkerRecord{Index: 0, PID: 100, Entry: "countdown", ExitCode: 2, Error: "boom"},
	)
	require.NoError(t, repo.Save(run))

	got, err := repo.FindByRunID("run-1")
	require.NoError(t, err)
	require.Equal(t, run.ID(), got.ID())
	require.Equal(t, history.RunStateFailed, got.State())
	require.Equal(t, "run", got.Command())
	require.Equal(t, "json", got.Codec())
	require.True(t, run.StartedAt().Equal(got.StartedAt()))
	require.NotNil(t, got.FinishedAt())
	require.True(t, run.FinishedAt().Equal(*got.FinishedAt()))

	workers := got.Workers()
	require.Len(t, workers, 2)
	require.Equal(t, 0, workers[0].Index, "workers are ordered by index")
	require.Equal(t, "boom", workers[0].Error)
	require.Equal(t, 2, workers[0].ExitCode)
	require.Nil(t, workers[0].Tasks)
	require.Equal(t, []history.TaskResultRecord{{TaskID: 0, Items: 10}}, workers[1].Tasks)
	require.Equal(t, 3, workers[1].Messages)
}

func TestRunRepository_FindByRunID_NotFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.FindByRunID("missing")
	var notFound *history.RunNotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "missing", notFound.RunID)
}

func TestRunRepository_Save_Update(t *testing.T) {
	repo := setupTestRepo(t)

	run := history.NewRun("run-1", "echo", "cbor")
	require.NoError(t, repo.Save(run))
	id := run.ID()

	run.AddWorker(history.WorkerRecord{Index: 0, PID: 100, Entry: "echo"})
	require.NoError(t, run.Finish())
	require.NoError(t, repo.Save(run))
	require.Equal(t, id, run.ID(), "update keeps the id")

	got, err := repo.FindByRunID("run-1")
	require.NoError(t, err)
	require.Equal(t, history.RunStateCompleted, got.State())
	require.Len(t, got.Workers(), 1)

	// Saving again must replace, not duplicate, worker rows.
	require.NoError(t, repo.Save(run))
	got, err = repo.FindByRunID("run-1")
	require.NoError(t, err)
	require.Len(t, got.Workers(), 1)
}

func TestRunRepository_Save_DuplicateRunID(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Save(history.NewRun("run-1", "run", "json")))
	require.Error(t, repo.Save(history.NewRun("run-1", "run", "json")))
}

func TestRunRepository_Save_UpdateMissing(t *testing.T) {
	repo := setupTestRepo(t)

	ghost := history.ReconstituteRun(42, "ghost", "run", "json", history.RunStateRunning, nil, time.Now(), nil)
	var notFound *history.RunNotFoundError
	require.ErrorAs(t, repo.Save(ghost), &notFound)
}

func TestRunRepository_List(t *testing.T) {
	repo := setupTestRepo(t)

	base := time.Now()
	for i := 0; i < 5; i++ {
		run := history.ReconstituteRun(0, fmt.Sprintf("run-%d", i), "run", "json",
			history.RunStateCompleted, nil, base.Add(time.Duration(i)*time.Second), nil)
		require.NoError(t, repo.Save(run))
	}

	all, err := repo.List(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, "run-4", all[0].RunID(), "newest first")
	require.Equal(t, "run-0", all[4].RunID())

	limited, err := repo.List(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "run-4", limited[0].RunID())
	require.Equal(t, "run-3", limited[1].RunID())
}

func TestRunRepository_List_StandardRuns(t *testing.T) {
	repo := setupTestRepo(t)
	testutil.NewBuilder(t, repo).WithStandardRuns().Build()

	runs, err := repo.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, "run-new", runs[0].RunID())
	require.Equal(t, history.RunStateStopped, runs[0].State())
	require.Equal(t, "cbor", runs[0].Codec())
	require.Equal(t, []history.TaskResultRecord{{TaskID: 0, Items: 5}}, runs[0].Workers()[0].Tasks)

	require.Equal(t, "run-mid", runs[1].RunID())
	require.Equal(t, "exit status 1", runs[1].Workers()[1].Error)
	require.Equal(t, "run-old", runs[2].RunID())
	require.NotNil(t, runs[2].FinishedAt())
}

func TestRunRepository_Delete(t *testing.T) {
	repo := setupTestRepo(t)

	run := finishedRun(t, "run-1", history.WorkerRecord{Index: 0, PID: 100, Entry: "countdown"})
	require.NoError(t, repo.Save(run))

	require.NoError(t, repo.Delete("run-1"))
	_, err := repo.FindByRunID("run-1")
	var notFound *history.RunNotFoundError
	require.ErrorAs(t, err, &notFound)

	require.ErrorAs(t, repo.Delete("run-1"), &notFound)
}

func TestRunRepository_DeleteCascadesWorkers(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer db.Close()
	repo := db.RunRepository()

	run := finishedRun(t, "run-1",
		history.WorkerRecord{Index: 0, PID: 100, Entry: "countdown"},
		history.WorkerRecord{Index: 1, PID: 101, Entry: "countdown"},
	)
	require.NoError(t, repo.Save(run))
	require.NoError(t, repo.Delete("run-1"))

	var count int
	require.NoError(t, db.conn.QueryRow("SELECT COUNT(*) FROM run_workers").Scan(&count))
	require.Zero(t, count)
}

func TestWorkerModel_MalformedTasks(t *testing.T) {
	bad := "{not json"
	m := WorkerModel{Index: 3, Entry: "countdown", Tasks: &bad}
	rec := m.toRecord()
	require.Equal(t, 3, rec.Index)
	require.Nil(t, rec.Tasks)
}

// TestRunRepository_WorkerRoundTrip checks that arbitrary worker records come
// back unchanged and ordered by index.
func TestRunRepository_WorkerRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	n := 0

	rapid.Check(t, func(rt *rapid.T) {
		n++
		runID := fmt.Sprintf("run-%d", n)
		count := rapid.IntRange(0, 8).Draw(rt, "workers")
		indexes := rapid.Permutation(makeRange(count)).Draw(rt, "order")

		run := history.NewRun(runID, "run", "cbor")
		want := make([]history.WorkerRecord, count)
		for _, idx := range indexes {
			w := history.WorkerRecord{
				Index:    idx,
				PID:      rapid.IntRange(1, 1<<22).Draw(rt, "pid"),
				Entry:    rapid.StringMatching(`[a-z]{1,12}`).Draw(rt, "entry"),
				ExitCode: rapid.IntRange(0, 255).Draw(rt, "exit"),
				Messages: rapid.IntRange(0, 1000).Draw(rt, "messages"),
				Error:    rapid.SampledFrom([]string{"", "drain failed"}).Draw(rt, "error"),
			}
			tasks := rapid.IntRange(0, 3).Draw(rt, "tasks")
			for id := 0; id < tasks; id++ {
				w.Tasks = append(w.Tasks, history.TaskResultRecord{
					TaskID: id,
					Items:  rapid.IntRange(0, 500).Draw(rt, "items"),
				})
			}
			run.AddWorker(w)
			want[idx] = w
		}
		if err := run.Finish(); err != nil {
			rt.Fatal(err)
		}
		if err := repo.Save(run); err != nil {
			rt.Fatal(err)
		}

		got, err := repo.FindByRunID(runID)
		if err != nil {
			rt.Fatal(err)
		}
		if count == 0 {
			if len(got.Workers()) != 0 {
				rt.Fatalf("expected no workers, got %d", len(got.Workers()))
			}
			return
		}
		require.Equal(rt, want, got.Workers())
		require.Equal(rt, run.State(), got.State())
	})
}

func makeRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
