package shm

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/zjrosen/forkpool/internal/codec"
	"github.com/zjrosen/forkpool/internal/paths"
)

// Environment variables carrying the channel configuration to children.
const (
	EnvDir       = "FORKPOOL_SHM_DIR"
	EnvNamespace = "FORKPOOL_SHM_NAMESPACE"
	EnvSlotSize  = "FORKPOOL_SHM_SLOT_SIZE"
	EnvCodec     = "FORKPOOL_CODEC"
)

const (
	// DefaultSlotSize is the capacity of one slot including its 8 byte header.
	DefaultSlotSize = 1 << 20
	// MinSlotSize fits the slot header plus an empty sequence.
	MinSlotSize = slotHeaderSize + 4
)

// Config describes where segments live and how slot values are encoded.
// Parent and child must agree on every field.
type Config struct {
	Dir       string
	Namespace string
	SlotSize  int
	Codec     codec.Codec
}

// DefaultConfig returns a configuration with a fresh namespace.
func DefaultConfig() Config {
	return Config{
		Dir:       paths.ShmDir(),
		Namespace: NewNamespace(),
		SlotSize:  DefaultSlotSize,
		Codec:     codec.JSON(),
	}
}

// NewNamespace returns a short random namespace for one run.
func NewNamespace() string {
	return uuid.NewString()[:8]
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("shm dir is required")
	}
	if c.Namespace == "" {
		return fmt.Errorf("shm namespace is required")
	}
	if c.SlotSize < MinSlotSize {
		return fmt.Errorf("shm slot size %d is below minimum %d", c.SlotSize, MinSlotSize)
	}
	if c.Codec == nil {
		return fmt.Errorf("shm codec is required")
	}
	return nil
}

// Key returns the key addressing pid's channel in this configuration.
func (c Config) Key(pid int) Key {
	return Key{Namespace: c.Namespace, PID: pid}
}

// Environ returns the environment entries that reproduce c in a child.
func (c Config) Environ() []string {
	env := []string{
		EnvDir + "=" + c.Dir,
		EnvNamespace + "=" + c.Namespace,
		EnvSlotSize + "=" + strconv.Itoa(c.SlotSize),
	}
	if c.Codec != nil {
		env = append(env, EnvCodec+"="+c.Codec.Name())
	}
	return env
}

// ConfigFromEnv rebuilds the configuration a parent handed down with Environ.
// Unset variables fall back to DefaultConfig values, except the namespace
// which must be present.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv(EnvDir); v != "" {
		cfg.Dir = v
	}
	cfg.Namespace = os.Getenv(EnvNamespace)
	if v := os.Getenv(EnvSlotSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvSlotSize, err)
		}
		cfg.SlotSize = n
	}
	c, err := codec.ByName(os.Getenv(EnvCodec))
	if err != nil {
		return Config{}, err
	}
	cfg.Codec = c
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
