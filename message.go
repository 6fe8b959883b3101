package testwire

import "io"

// MessageCodec converts application messages to and from frame payloads.
// Applications implement it to define their own message format
// (e.g., JSON, Protocol Buffers, a fixed binary layout).
//
// Decode receives a reader over exactly one frame payload, so the codec
// never has to deal with TCP stream reassembly.
type MessageCodec[M any] interface {
	// Encode writes the serialized form of message to w.
	Encode(w io.Writer, message M) error
	// Decode reads one message from r.
	Decode(r io.Reader) (M, error)
}

// Predicate selects queued messages. A nil Predicate accepts every message.
type Predicate[M any] func(message M) bool

func (p Predicate[M]) accept(message M) bool {
	return p == nil || p(message)
}
