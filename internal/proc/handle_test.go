package proc

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/forkpool/internal/shm"
	"github.com/zjrosen/forkpool/internal/testutil"
)

func newHandle(t *testing.T, entry string) (*Handle, shm.Config) {
	t.Helper()
	cfg := testutil.ShmConfig(t, 4096)

	h, err := New(entry, WithChannelConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = h.Stop(syscall.SIGKILL, true)
		_ = h.Close()
	})
	return h, cfg
}

func waitDead(t *testing.T, h *Handle) {
	t.Helper()
	require.Eventually(t, func() bool { return !h.IsAlive() }, 10*time.Second, 10*time.Millisecond)
}

// waitMessages polls GetMessage until n messages have arrived.
func waitMessages(t *testing.T, h *Handle, n int) []shm.Message {
	t.Helper()
	var got []shm.Message
	require.Eventually(t, func() bool {
		msgs, err := h.GetMessage()
		if err != nil {
			return false
		}
		got = append(got, msgs...)
		return len(got) >= n
	}, 10*time.Second, 10*time.Millisecond)
	return got
}

// ============================================================================
// Construction
// ============================================================================

func TestNew_UnknownEntry(t *testing.T) {
	_, err := New("no-such-entry")
	require.ErrorIs(t, err, ErrEntryNotCallable)
}

func TestRegister_Panics(t *testing.T) {
	require.Panics(t, func() { Register("", func(ctx context.Context, args []string) error { return nil }) })
	require.Panics(t, func() { Register("proc-test-nil", nil) })
	require.Panics(t, func() { Register(entryExit, func(ctx context.Context, args []string) error { return nil }) })
}

func TestEntries_Sorted(t *testing.T) {
	names := Entries()
	require.Contains(t, names, entryEcho)
	require.IsNonDecreasing(t, names)
}

func TestHandle_UnstartedOperations(t *testing.T) {
	h, _ := newHandle(t, entryExit)

	require.Equal(t, StateUnstarted, h.State())
	require.False(t, h.IsAlive())
	require.Zero(t, h.PID())
	require.ErrorIs(t, h.Send(1), ErrNotStarted)
	_, err := h.GetMessage()
	require.ErrorIs(t, err, ErrNotStarted)
	require.NoError(t, h.Close())
	require.NoError(t, h.Stop(syscall.SIGTERM, true))
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestHandle_IsAliveMonotonic(t *testing.T) {
	h, _ := newHandle(t, entryExit)
	require.NoError(t, h.Start())
	require.Positive(t, h.PID())

	waitDead(t, h)
	for range 10 {
		require.False(t, h.IsAlive())
	}
	require.Equal(t, StateExited, h.State())

	code, ok := h.ExitStatus()
	require.True(t, ok)
	require.Equal(t, 0, code)
}

func TestHandle_StartTwice(t *testing.T) {
	h, _ := newHandle(t, entryExit)
	require.NoError(t, h.Start())
	require.ErrorIs(t, h.Start(), ErrAlreadyStarted)
}

func TestHandle_EntryErrorExitsOne(t *testing.T) {
	h, _ := newHandle(t, entryFail)
	require.NoError(t, h.Start())
	waitDead(t, h)

	code, ok := h.ExitStatus()
	require.True(t, ok)
	require.Equal(t, 1, code)
}

func TestHandle_StopTerminatesLongTask(t *testing.T) {
	h, cfg := newHandle(t, entrySleep)
	require.NoError(t, h.Start())

	ready := waitMessages(t, h, 1)
	var s string
	require.NoError(t, ready[0].Decode(&s))
	require.Equal(t, "ready", s)

	require.ErrorIs(t, h.Close(), ErrStillRunning)

	require.NoError(t, h.Stop(syscall.SIGTERM, true))
	require.False(t, h.IsAlive())

	code, ok := h.ExitStatus()
	require.True(t, ok)
	require.Equal(t, 0, code, "SIGTERM handler exits cleanly")

	msgs, err := h.GetMessage()
	require.NoError(t, err)
	require.Empty(t, msgs, "no result after termination")

	require.NoError(t, h.Close())
	_, err = os.Stat(cfg.Key(h.PID()).Path(cfg.Dir))
	require.True(t, os.IsNotExist(err))
}

func TestHandle_StopNotRunningIsNoop(t *testing.T) {
	h, _ := newHandle(t, entryExit)
	require.NoError(t, h.Start())
	waitDead(t, h)
	require.NoError(t, h.Stop(syscall.SIGTERM, true))
}

func TestHandle_Wait(t *testing.T) {
	h, _ := newHandle(t, entryExit)
	require.ErrorIs(t, h.Wait(context.Background()), ErrNotStarted)

	require.NoError(t, h.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
	require.False(t, h.IsAlive())
}

// ============================================================================
// Messaging
// ============================================================================

func TestHandle_SendAndGetMessage(t *testing.T) {
	h, _ := newHandle(t, entryEcho)
	require.NoError(t, h.Start())

	require.NoError(t, h.Send("a"))
	require.NoError(t, h.Send("b"))

	got := waitMessages(t, h, 2)
	out := make([]string, len(got))
	for i, m := range got {
		require.NoError(t, m.Decode(&out[i]))
	}
	require.Equal(t, []string{"A", "B"}, out)

	require.NoError(t, h.Send("quit"))
	waitDead(t, h)
	require.NoError(t, h.Close())
}

func TestHandle_ArgsReachChild(t *testing.T) {
	h, _ := newHandle(t, entryArgs)
	require.NoError(t, h.Start("one", "two"))
	waitDead(t, h)

	msgs, err := h.GetMessage()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var args []string
	require.NoError(t, msgs[0].Decode(&args))
	require.Equal(t, []string{"one", "two"}, args)
}

func TestHandle_CloseDestroysUnattachedChannel(t *testing.T) {
	h, cfg := newHandle(t, entryArgs)
	require.NoError(t, h.Start())
	waitDead(t, h)

	path := cfg.Key(h.PID()).Path(cfg.Dir)
	_, err := os.Stat(path)
	require.NoError(t, err, "child created the segment")

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestHandle_CloseBeforeStartStillDisposesLater(t *testing.T) {
	h, cfg := newHandle(t, entryArgs)
	require.NoError(t, h.Close())

	require.NoError(t, h.Start("a"))
	waitDead(t, h)
	path := cfg.Key(h.PID()).Path(cfg.Dir)
	_, err := os.Stat(path)
	require.NoError(t, err, "child created the segment")

	require.NoError(t, h.Close())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(shm.BellPath(path))
	require.True(t, os.IsNotExist(err))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "unstarted", StateUnstarted.String())
	require.Equal(t, "running", StateRunning.String())
	require.Equal(t, "exited", StateExited.String())
}
