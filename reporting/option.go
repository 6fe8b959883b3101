package reporting

import (
	"context"
	"net"
	"time"

	"github.com/Zereker/testwire"
)

// Default configuration values.
const (
	// defaultBufferSize is the chunk size of master reads.
	defaultBufferSize = 1024
	// defaultMaxRecordSize bounds an undelimited record buffered by the master (1MB).
	defaultMaxRecordSize = 1024 * 1024
	// defaultRetryDelay is the delay between slave connection attempts.
	defaultRetryDelay = time.Second
	// defaultQueueSize is the number of stats a slave buffers for sending.
	defaultQueueSize = 1024
	// minUnlimitedRetryDelay paces unlimited retries configured without a delay.
	minUnlimitedRetryDelay = 10 * time.Millisecond
	// UnlimitedRetries makes a slave retry until it connects or its context ends.
	UnlimitedRetries = -1
)

// DialFunc opens the connection from a slave to its master.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type masterOptions struct {
	logger     testwire.Logger
	metrics    *Metrics
	bufferSize int
	maxRecord  int
	split      SplitFunc
	decode     DecodeFunc
	sink       EmitFunc
}

// MasterOption configures a MasterReporter.
type MasterOption func(*masterOptions)

func buildMasterOptions(opt []MasterOption) masterOptions {
	var opts masterOptions
	for _, o := range opt {
		o(&opts)
	}
	if opts.logger == nil {
		opts.logger = testwire.DefaultLogger()
	}
	if opts.metrics == nil {
		opts.metrics = NewMetrics(nil)
	}
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}
	if opts.maxRecord <= 0 {
		opts.maxRecord = defaultMaxRecordSize
	}
	if opts.split == nil {
		opts.split = SplitRecords
	}
	if opts.decode == nil {
		opts.decode = DecodeStat
	}
	if opts.sink == nil {
		opts.sink = func(context.Context, Stat) error { return nil }
	}
	return opts
}

// MasterLoggerOption sets the master's logger.
func MasterLoggerOption(logger testwire.Logger) MasterOption {
	return func(o *masterOptions) {
		o.logger = logger
	}
}

// MasterMetricsOption sets the collectors updated by the master.
func MasterMetricsOption(m *Metrics) MasterOption {
	return func(o *masterOptions) {
		o.metrics = m
	}
}

// MasterBufferSizeOption sets the size of each read from a slave connection.
func MasterBufferSizeOption(size int) MasterOption {
	return func(o *masterOptions) {
		o.bufferSize = size
	}
}

// MasterMaxRecordSizeOption bounds the bytes a slave may send without a
// delimiter. A connection exceeding it is closed. Default is 1MB.
func MasterMaxRecordSizeOption(size int) MasterOption {
	return func(o *masterOptions) {
		o.maxRecord = size
	}
}

// MasterSplitOption replaces the record splitter.
func MasterSplitOption(split SplitFunc) MasterOption {
	return func(o *masterOptions) {
		o.split = split
	}
}

// MasterDecodeOption replaces the record decoder.
func MasterDecodeOption(decode DecodeFunc) MasterOption {
	return func(o *masterOptions) {
		o.decode = decode
	}
}

// MasterSinkOption sets where received stats are delivered.
// Without a sink they are dropped after decoding.
func MasterSinkOption(sink EmitFunc) MasterOption {
	return func(o *masterOptions) {
		o.sink = sink
	}
}

// MasterSinkReporterOption delivers received stats to r.Emit.
func MasterSinkReporterOption(r Reporter) MasterOption {
	return MasterSinkOption(r.Emit)
}

type slaveOptions struct {
	logger       testwire.Logger
	metrics      *Metrics
	retries      int
	retryDelay   time.Duration
	multiplier   float64
	maxDelay     time.Duration
	dial         DialFunc
	encode       EncodeFunc
	queueSize    int
	writeTimeout time.Duration
}

// SlaveOption configures a SlaveReporter.
type SlaveOption func(*slaveOptions)

func buildSlaveOptions(opt []SlaveOption) slaveOptions {
	opts := slaveOptions{
		retries:    UnlimitedRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, o := range opt {
		o(&opts)
	}
	if opts.logger == nil {
		opts.logger = testwire.DefaultLogger()
	}
	if opts.metrics == nil {
		opts.metrics = NewMetrics(nil)
	}
	if opts.retries < 0 {
		opts.retries = UnlimitedRetries
	}
	if opts.retryDelay < 0 {
		opts.retryDelay = 0
	}
	if opts.multiplier < 1.0 {
		opts.multiplier = 1.0
	}
	if opts.dial == nil {
		var d net.Dialer
		opts.dial = d.DialContext
	}
	if opts.encode == nil {
		opts.encode = EncodeStat
	}
	if opts.queueSize <= 0 {
		opts.queueSize = defaultQueueSize
	}
	return opts
}

// SlaveLoggerOption sets the slave's logger.
func SlaveLoggerOption(logger testwire.Logger) SlaveOption {
	return func(o *slaveOptions) {
		o.logger = logger
	}
}

// SlaveMetricsOption sets the collectors updated by the slave.
func SlaveMetricsOption(m *Metrics) SlaveOption {
	return func(o *slaveOptions) {
		o.metrics = m
	}
}

// SlaveRetriesOption sets how many times a failed connection is retried
// after the first attempt. UnlimitedRetries (the default) never gives up.
func SlaveRetriesOption(retries int) SlaveOption {
	return func(o *slaveOptions) {
		o.retries = retries
	}
}

// SlaveRetryDelayOption sets the delay before each retry. Default is one second.
func SlaveRetryDelayOption(delay time.Duration) SlaveOption {
	return func(o *slaveOptions) {
		o.retryDelay = delay
	}
}

// SlaveBackoffOption grows the retry delay by multiplier after every
// failed attempt, capped at maxDelay when it is positive.
// The default multiplier of 1 keeps the delay fixed.
func SlaveBackoffOption(multiplier float64, maxDelay time.Duration) SlaveOption {
	return func(o *slaveOptions) {
		o.multiplier = multiplier
		o.maxDelay = maxDelay
	}
}

// SlaveDialOption replaces how the slave connects to its master.
func SlaveDialOption(dial DialFunc) SlaveOption {
	return func(o *slaveOptions) {
		o.dial = dial
	}
}

// SlaveEncodeOption replaces the stat encoder.
func SlaveEncodeOption(encode EncodeFunc) SlaveOption {
	return func(o *slaveOptions) {
		o.encode = encode
	}
}

// SlaveQueueSizeOption sets how many encoded stats may wait to be written.
func SlaveQueueSizeOption(size int) SlaveOption {
	return func(o *slaveOptions) {
		o.queueSize = size
	}
}

// SlaveWriteTimeoutOption sets a deadline for each write to the master.
func SlaveWriteTimeoutOption(timeout time.Duration) SlaveOption {
	return func(o *slaveOptions) {
		o.writeTimeout = timeout
	}
}
