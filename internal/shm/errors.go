package shm

import "errors"

var (
	// ErrChannelUnavailable is returned when the OS refuses to create or map a
	// segment, or an existing segment has an unreadable header.
	ErrChannelUnavailable = errors.New("shared channel unavailable")
	// ErrChannelDestroyed is returned by every operation on a view whose
	// segment was destroyed by its owner.
	ErrChannelDestroyed = errors.New("shared channel destroyed")
	// ErrChannelReleased is returned after Release or Destroy on the same view.
	ErrChannelReleased = errors.New("shared channel released")
	// ErrSlotFull is returned when a sequence does not fit in a slot.
	ErrSlotFull = errors.New("slot full")
	// ErrInvalidSlot is returned for a slot index other than Inbound or Outbound.
	ErrInvalidSlot = errors.New("invalid slot")
)
