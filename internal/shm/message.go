package shm

import "github.com/zjrosen/forkpool/internal/codec"

// Message is one value drained from a slot, still in its encoded form.
type Message struct {
	data  []byte
	codec codec.Codec
}

// NewMessage wraps already encoded bytes.
func NewMessage(data []byte, c codec.Codec) Message {
	return Message{data: data, codec: c}
}

// Decode unmarshals the message into v with the channel's codec.
func (m Message) Decode(v any) error {
	return m.codec.Unmarshal(m.data, v)
}

// Bytes returns the encoded value.
func (m Message) Bytes() []byte {
	return m.data
}

// Len returns the encoded size.
func (m Message) Len() int {
	return len(m.data)
}
