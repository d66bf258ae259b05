// Package codec serializes values stored in shared channel slots.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// Names accepted by ByName.
const (
	NameJSON = "json"
	NameCBOR = "cbor"
)

// ErrUnknownCodec is returned by ByName for an unsupported name.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec marshals values to bytes and back. Implementations must be safe for
// concurrent use.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ByName returns the codec registered under name. An empty name selects JSON.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameJSON:
		return JSON(), nil
	case NameCBOR:
		return CBOR()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Names lists the supported codec names.
func Names() []string {
	return []string{NameJSON, NameCBOR}
}
