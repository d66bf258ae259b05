package testutil

import (
	"testing"

	"github.com/zjrosen/forkpool/internal/shm"
)

// ShmConfig returns a channel configuration with a fresh namespace whose
// segments live in a per-test directory.
func ShmConfig(t testing.TB, slotSize int) shm.Config {
	t.Helper()
	cfg := shm.DefaultConfig()
	cfg.Dir = t.TempDir()
	if slotSize > 0 {
		cfg.SlotSize = slotSize
	}
	return cfg
}
