package shm

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
)

// Slot addresses one of the two mailboxes of a channel.
type Slot int

const (
	// Inbound carries parent to child messages.
	Inbound Slot = 0
	// Outbound carries child to parent messages.
	Outbound Slot = 1
)

func (s Slot) String() string {
	switch s {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

func (s Slot) valid() bool {
	return s == Inbound || s == Outbound
}

// Key addresses one channel: a namespace shared by a run plus the child pid.
type Key struct {
	Namespace string
	PID       int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Namespace, k.PID)
}

// Path returns the segment file for k under dir.
func (k Key) Path(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("forkpool-%s-%d.shm", k.Namespace, k.PID))
}

// Segment header.
//
//	0   magic    uint32 "FPSH"
//	4   version  uint16
//	6   flags    uint16
//	8   slotSize uint32
//	12  reserved
//	16  slot 0, then slot 1 at 16+slotSize
//
// Slot: present uint32 | length uint32 | payload.
// Payload: count uint32, then count items of len uint32 | bytes.
const (
	segmentMagic   uint32 = 0x48535046 // "FPSH" little endian
	segmentVersion uint16 = 1

	headerSize     = 16
	slotHeaderSize = 8

	offMagic    = 0
	offVersion  = 4
	offFlags    = 6
	offSlotSize = 8

	flagDestroyed uint16 = 1
)

var le = binary.LittleEndian

func segmentSize(slotSize int) int {
	return headerSize + 2*slotSize
}

func writeHeader(b []byte, slotSize int) {
	le.PutUint32(b[offMagic:], segmentMagic)
	le.PutUint16(b[offVersion:], segmentVersion)
	le.PutUint16(b[offFlags:], 0)
	le.PutUint32(b[offSlotSize:], uint32(slotSize)) //nolint:gosec // bounded by file size
}

func readHeader(b []byte) (slotSize int, err error) {
	if len(b) < headerSize {
		return 0, fmt.Errorf("segment too small: %d bytes", len(b))
	}
	if m := le.Uint32(b[offMagic:]); m != segmentMagic {
		return 0, fmt.Errorf("bad magic %#x", m)
	}
	if v := le.Uint16(b[offVersion:]); v != segmentVersion {
		return 0, fmt.Errorf("unsupported version %d", v)
	}
	slotSize = int(le.Uint32(b[offSlotSize:]))
	if slotSize < MinSlotSize || segmentSize(slotSize) != len(b) {
		return 0, fmt.Errorf("slot size %d does not match segment of %d bytes", slotSize, len(b))
	}
	return slotSize, nil
}

func destroyed(b []byte) bool {
	return le.Uint16(b[offFlags:])&flagDestroyed != 0
}

func markDestroyed(b []byte) {
	le.PutUint16(b[offFlags:], le.Uint16(b[offFlags:])|flagDestroyed)
}

// slotRegion returns the bytes of slot s within a mapped segment.
func slotRegion(b []byte, slotSize int, s Slot) []byte {
	start := headerSize + int(s)*slotSize
	return b[start : start+slotSize]
}

// encodeItems frames items into a slot payload.
func encodeItems(items [][]byte) []byte {
	n := 4
	for _, it := range items {
		n += 4 + len(it)
	}
	out := make([]byte, n)
	le.PutUint32(out, uint32(len(items))) //nolint:gosec // item counts are small
	off := 4
	for _, it := range items {
		le.PutUint32(out[off:], uint32(len(it))) //nolint:gosec // bounded by slot size
		off += 4
		off += copy(out[off:], it)
	}
	return out
}

// decodeItems parses a slot payload. Returned items are copies.
func decodeItems(payload []byte) ([][]byte, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("payload too short: %d bytes", len(payload))
	}
	count := int(le.Uint32(payload))
	items := make([][]byte, 0, min(count, len(payload)/4))
	off := 4
	for i := range count {
		if off+4 > len(payload) {
			return nil, fmt.Errorf("item %d: truncated length", i)
		}
		n := int(le.Uint32(payload[off:]))
		off += 4
		if off+n > len(payload) {
			return nil, fmt.Errorf("item %d: truncated body", i)
		}
		items = append(items, append([]byte(nil), payload[off:off+n]...))
		off += n
	}
	return items, nil
}

// readSlot returns the items stored in region and whether the slot is present.
func readSlot(region []byte) ([][]byte, bool, error) {
	if le.Uint32(region) == 0 {
		return nil, false, nil
	}
	length := int(le.Uint32(region[4:]))
	if length > len(region)-slotHeaderSize {
		return nil, true, fmt.Errorf("slot length %d exceeds capacity", length)
	}
	items, err := decodeItems(region[slotHeaderSize : slotHeaderSize+length])
	return items, true, err
}

// writeSlot replaces the contents of region with items.
func writeSlot(region []byte, items [][]byte) error {
	payload := encodeItems(items)
	if len(payload) > len(region)-slotHeaderSize {
		return fmt.Errorf("%w: need %d bytes, capacity %d", ErrSlotFull, len(payload), len(region)-slotHeaderSize)
	}
	copy(region[slotHeaderSize:], payload)
	le.PutUint32(region[4:], uint32(len(payload))) //nolint:gosec // bounded by slot size
	le.PutUint32(region, 1)
	return nil
}

func clearSlot(region []byte) {
	le.PutUint32(region, 0)
	le.PutUint32(region[4:], 0)
}
