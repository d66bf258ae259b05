package worker

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a Worker.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateLooping
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateLooping:
		return "looping"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidTransition is returned when the worker is asked to move to a
	// state it cannot reach from its current one.
	ErrInvalidTransition = errors.New("invalid worker state transition")
	// ErrAlreadyStarted is returned by AddTask once the worker has started.
	ErrAlreadyStarted = errors.New("worker already started")
	// ErrNoChannel is returned by Send outside of Run.
	ErrNoChannel = errors.New("worker channel not attached")
)

// transitions lists the legal moves. Directional workers skip Looping.
var transitions = map[State][]State{
	StateCreated: {StateStarted},
	StateStarted: {StateLooping, StateEnded},
	StateLooping: {StateEnded},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
