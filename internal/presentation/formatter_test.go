package presentation

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/forkpool/internal/history"
	"github.com/zjrosen/forkpool/internal/testutil"
)

func sampleRun(t *testing.T) *history.Run {
	t.Helper()
	run := history.NewRun("a1b2c3d4", "run", "cbor")
	run.AddWorker(history.WorkerRecord{
		Index: 0, PID: 4242, Entry: "countdown", Messages: 1,
		Tasks: []history.TaskResultRecord{{TaskID: 0, Items: 10}},
	})
	run.AddWorker(history.WorkerRecord{Index: 1, PID: 4243, Entry: "countdown", ExitCode: 1, Error: "boom"})
	require.NoError(t, run.Finish())
	return run
}

func TestFromRun(t *testing.T) {
	dto := FromRun(sampleRun(t))
	require.Equal(t, "a1b2c3d4", dto.RunID)
	require.Equal(t, "failed", dto.State)
	require.Equal(t, "cbor", dto.Codec)
	require.NotNil(t, dto.FinishedAt)
	require.Len(t, dto.Workers, 2)
	require.Equal(t, []TaskDTO{{TaskID: 0, Items: 10}}, dto.Workers[0].Tasks)
	require.Nil(t, dto.Workers[1].Tasks)
	require.Equal(t, "boom", dto.Workers[1].Error)
}

func TestFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	out := RunOutputDTO{
		Run:     FromRun(sampleRun(t)),
		Results: []ResultDTO{{Worker: 0, Task: 0, Values: []int{2, 1, 0}}},
	}
	require.NoError(t, NewFormatter(&buf).FormatJSON(out))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	run := decoded["run"].(map[string]any)
	require.Equal(t, "a1b2c3d4", run["run_id"])
	results := decoded["results"].([]any)
	require.Len(t, results, 1)
	require.Equal(t, []any{2.0, 1.0, 0.0}, results[0].(map[string]any)["values"])
}

func TestFormatRunOutput_PlainWriter(t *testing.T) {
	var buf bytes.Buffer
	out := RunOutputDTO{
		Run: FromRun(sampleRun(t)),
		Results: []ResultDTO{
			{Worker: 0, Task: 0, Values: []int{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}},
		},
	}
	require.NoError(t, NewFormatter(&buf).FormatRunOutput(out))

	text := buf.String()
	require.NotContains(t, text, "\x1b[", "no ANSI escapes for a non-terminal writer")
	require.Contains(t, text, "worker 0 task 0  [9 8 7 … 2 1 0] (10 items)")
	require.Contains(t, text, "Run a1b2c3d4  failed")
	require.Contains(t, text, "[1] pid=4243 exit 1  0 messages  boom")
}

func TestFormatRuns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf).FormatRuns(nil))
	require.Equal(t, "No runs recorded.\n", buf.String())

	buf.Reset()
	require.NoError(t, NewFormatter(&buf).FormatRuns([]RunDTO{FromRun(sampleRun(t))}))
	require.Contains(t, buf.String(), "a1b2c3d4  run      failed")
	require.Contains(t, buf.String(), "2 workers")
}

func TestFormatRuns_StandardRuns(t *testing.T) {
	repo := &listRepo{}
	testutil.NewBuilder(t, repo).WithStandardRuns().Build()

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf).FormatRuns(FromRuns(repo.runs)))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "run-old  run      completed"))
	require.True(t, strings.HasPrefix(lines[1], "run-mid  run      failed"))
	require.True(t, strings.HasPrefix(lines[2], "run-new  echo     stopped"))
	require.Contains(t, lines[2], "1 workers  250ms")
}

// listRepo keeps saved runs in order.
type listRepo struct{ runs []*history.Run }

func (r *listRepo) Save(run *history.Run) error {
	r.runs = append(r.runs, run)
	return nil
}

func (r *listRepo) FindByRunID(id string) (*history.Run, error) {
	return nil, &history.RunNotFoundError{RunID: id}
}

func (r *listRepo) List(int) ([]*history.Run, error) { return r.runs, nil }

func (r *listRepo) Delete(string) error { return nil }

func TestFormatEvent(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf)
	require.NoError(t, f.FormatEvent(EventDTO{Type: "spawned", Worker: 0, Entry: "countdown", PID: 42}))
	require.NoError(t, f.FormatEvent(EventDTO{Type: "harvested", Worker: 0, Entry: "countdown", PID: 42, Messages: 1}))
	require.NoError(t, f.FormatEvent(EventDTO{Type: "exited", Worker: 1, Entry: "countdown", PID: 43, ExitCode: 1, Error: "boom"}))

	require.Equal(t, "spawned   [0] pid=42 countdown\n"+
		"harvested [0] pid=42 countdown  1 messages\n"+
		"exited    [1] pid=43 countdown  exit 1  boom\n", buf.String())
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{[]int{}, "[]"},
		{[]int{3, 2, 1}, "[3 2 1]"},
		{[]int{5, 4, 3, 2, 1, 0}, "[5 4 3 2 1 0]"},
		{[]int{6, 5, 4, 3, 2, 1, 0}, "[6 5 4 … 2 1 0] (7 items)"},
		{"done", "done"},
		{nil, "<nil>"},
		{42, "42"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Preview(tt.in))
	}
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "250ms", formatDuration(250*time.Millisecond+300*time.Microsecond))
	require.Equal(t, "1.23s", formatDuration(1234*time.Millisecond))
}
