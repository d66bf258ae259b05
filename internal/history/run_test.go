package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRun(t *testing.T) {
	r := NewRun("abc", "run", "json")
	require.Zero(t, r.ID())
	require.Equal(t, "abc", r.RunID())
	require.Equal(t, RunStateRunning, r.State())
	require.Nil(t, r.FinishedAt())
	require.WithinDuration(t, time.Now(), r.StartedAt(), time.Second)
}

func TestRun_FinishCompleted(t *testing.T) {
	r := NewRun("abc", "run", "json")
	r.AddWorker(WorkerRecord{Index: 0, ExitCode: 0})
	r.AddWorker(WorkerRecord{Index: 1, ExitCode: 0})

	require.NoError(t, r.Finish())
	require.Equal(t, RunStateCompleted, r.State())
	require.NotNil(t, r.FinishedAt())
	require.GreaterOrEqual(t, r.Duration(), time.Duration(0))

	require.Error(t, r.Finish(), "finish is not repeatable")
}

func TestRun_FinishFailed(t *testing.T) {
	r := NewRun("abc", "run", "json")
	r.AddWorker(WorkerRecord{Index: 0, ExitCode: 0})
	r.AddWorker(WorkerRecord{Index: 1, ExitCode: 1})

	require.NoError(t, r.Finish())
	require.Equal(t, RunStateFailed, r.State())
}

func TestRun_FinishFailedOnHarvestError(t *testing.T) {
	r := NewRun("abc", "run", "json")
	r.AddWorker(WorkerRecord{Index: 0, Error: "drain failed"})

	require.NoError(t, r.Finish())
	require.Equal(t, RunStateFailed, r.State())
}

func TestRun_Stop(t *testing.T) {
	r := NewRun("abc", "echo", "cbor")
	require.NoError(t, r.Stop())
	require.Equal(t, RunStateStopped, r.State())
	require.Error(t, r.Stop())
	require.Error(t, r.Finish())
}

func TestRunState_IsValid(t *testing.T) {
	for _, s := range []RunState{RunStateRunning, RunStateCompleted, RunStateFailed, RunStateStopped} {
		require.True(t, s.IsValid(), s)
	}
	require.False(t, RunState("paused").IsValid())
}

func TestRunNotFoundError(t *testing.T) {
	err := &RunNotFoundError{RunID: "abc"}
	require.Equal(t, "run not found: abc", err.Error())
}
