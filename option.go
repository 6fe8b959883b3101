package testwire

import (
	"time"
)

// ErrorAction defines the action to take when an error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// options holds the configuration shared by Transport and Messaging.
type options struct {
	sizeCodec SizeCodec
	logger    Logger

	// onError is called when a received frame cannot be decoded.
	// Returns Disconnect to stop the read loop, Continue to drop the frame.
	onError func(error) ErrorAction

	readBufferSize int           // size of the buffered reader
	maxReadLength  int           // maximum payload size of a single frame
	writeTimeout   time.Duration // per-frame write deadline, 0 disables
}

// Option is a function that configures a Transport or Messaging.
type Option func(*options)

// Default configuration values.
const (
	// defaultReadBufferSize is the default size of the transport read buffer.
	defaultReadBufferSize = 4096
	// defaultMaxPackageLength is the default maximum size of a single frame payload (1MB).
	defaultMaxPackageLength = 1024 * 1024
)

func buildOptions(opt []Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	if opts.sizeCodec == nil {
		opts.sizeCodec = DefaultSizeCodec
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxPackageLength
	}

	if opts.writeTimeout < 0 {
		opts.writeTimeout = 0
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// SizeCodecOption returns an Option that sets the frame length prefix codec.
// DefaultSizeCodec is used when unset.
func SizeCodecOption(codec SizeCodec) Option {
	return func(o *options) {
		o.sizeCodec = codec
	}
}

// ReadBufferSizeOption returns an Option that sets the size of the read buffer.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// MessageMaxSize returns an Option that sets the maximum frame payload size.
// Frames announcing a larger payload are rejected with ErrMessageTooLarge.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// WriteTimeoutOption returns an Option that sets a deadline for every frame write
// when the underlying stream supports deadlines.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// OnErrorOption returns an Option that sets the decode error callback.
// Return Disconnect to stop reading, or Continue to drop the frame.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
