package testwire

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrInvalidSize is returned when a length prefix cannot be encoded or decoded.
var ErrInvalidSize = errors.New("invalid frame size")

// SizeCodec encodes and decodes the fixed-width length prefix of a frame.
// Implementations must be stateless and safe for concurrent use.
type SizeCodec interface {
	// HeaderLen returns the width of the prefix in bytes.
	HeaderLen() int
	// EncodeSize writes size into header, which is exactly HeaderLen bytes long.
	EncodeSize(header []byte, size int) error
	// DecodeSize returns the payload length held by a HeaderLen-byte header.
	DecodeSize(header []byte) (int, error)
}

// BinarySizeCodec stores the payload length as a fixed-width unsigned integer.
type BinarySizeCodec struct {
	width int
	order binary.ByteOrder
	max   uint64
}

// DefaultSizeCodec prefixes every frame with a 4-byte big-endian byte count.
var DefaultSizeCodec SizeCodec = &BinarySizeCodec{width: 4, order: binary.BigEndian, max: math.MaxUint32}

// NewBinarySizeCodec returns a codec using width bytes (1, 2, 4 or 8) in the given byte order.
func NewBinarySizeCodec(width int, order binary.ByteOrder) (*BinarySizeCodec, error) {
	var max uint64
	switch width {
	case 1:
		max = math.MaxUint8
	case 2:
		max = math.MaxUint16
	case 4:
		max = math.MaxUint32
	case 8:
		max = math.MaxInt64
	default:
		return nil, errors.Errorf("unsupported size prefix width %d", width)
	}
	if order == nil {
		order = binary.BigEndian
	}
	return &BinarySizeCodec{width: width, order: order, max: max}, nil
}

// HeaderLen returns the prefix width.
func (c *BinarySizeCodec) HeaderLen() int {
	return c.width
}

// EncodeSize writes size into header.
func (c *BinarySizeCodec) EncodeSize(header []byte, size int) error {
	if len(header) != c.width {
		return errors.Wrapf(ErrInvalidSize, "header is %d bytes, want %d", len(header), c.width)
	}
	if size < 0 || uint64(size) > c.max {
		return errors.Wrapf(ErrInvalidSize, "payload of %d bytes does not fit a %d-byte prefix", size, c.width)
	}

	switch c.width {
	case 1:
		header[0] = byte(size)
	case 2:
		c.order.PutUint16(header, uint16(size))
	case 4:
		c.order.PutUint32(header, uint32(size))
	case 8:
		c.order.PutUint64(header, uint64(size))
	}
	return nil
}

// DecodeSize reads the payload length from header.
func (c *BinarySizeCodec) DecodeSize(header []byte) (int, error) {
	if len(header) != c.width {
		return 0, errors.Wrapf(ErrInvalidSize, "header is %d bytes, want %d", len(header), c.width)
	}

	var size uint64
	switch c.width {
	case 1:
		size = uint64(header[0])
	case 2:
		size = uint64(c.order.Uint16(header))
	case 4:
		size = uint64(c.order.Uint32(header))
	case 8:
		size = c.order.Uint64(header)
	}
	if size > c.max || size > uint64(math.MaxInt) {
		return 0, errors.Wrapf(ErrInvalidSize, "decoded size %d out of range", size)
	}
	return int(size), nil
}

// EncodeFrame returns the size prefix followed by payload in a single buffer.
func EncodeFrame(codec SizeCodec, payload []byte) ([]byte, error) {
	n := codec.HeaderLen()
	frame := make([]byte, n+len(payload))
	if err := codec.EncodeSize(frame[:n], len(payload)); err != nil {
		return nil, err
	}
	copy(frame[n:], payload)
	return frame, nil
}
