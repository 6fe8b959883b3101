package reporting

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Errors returned by slave reporters.
var (
	// ErrConnectionFailed is matched by the error of a Start that ran out of retries.
	ErrConnectionFailed = errors.New("connection to master failed")
	// ErrBufferFull is returned by Emit when the send queue is full; the stat is dropped.
	ErrBufferFull = errors.New("send buffer full")
)

// ConnectError reports a slave that could not reach its master.
type ConnectError struct {
	Addr     string
	Attempts int
	// Err is the last dial error.
	Err error
	// Canceled is the context error when retrying was cut short.
	Canceled error
}

func (e *ConnectError) Error() string {
	if e.Canceled != nil {
		return fmt.Sprintf("connection to master %s abandoned after %d attempt(s): %v (last error: %v)",
			e.Addr, e.Attempts, e.Canceled, e.Err)
	}
	return fmt.Sprintf("connection to master %s failed after %d attempt(s): %v", e.Addr, e.Attempts, e.Err)
}

// Unwrap returns the last dial error and, if set, the context error.
func (e *ConnectError) Unwrap() []error {
	if e.Canceled != nil {
		return []error{e.Err, e.Canceled}
	}
	return []error{e.Err}
}

// Is matches ErrConnectionFailed.
func (e *ConnectError) Is(target error) bool {
	return target == ErrConnectionFailed
}

type closeWriter interface {
	CloseWrite() error
}

// SlaveReporter forwards emitted stats to a master.
//
// Start connects with retries. Emit is fire-and-forget: the encoded stat
// is queued for a writer goroutine that preserves emission order, and is
// dropped with ErrBufferFull when the queue is full. Stop flushes the
// queue, half-closes the connection and closes it.
type SlaveReporter struct {
	lifecycle

	host string
	port int
	opts slaveOptions

	// mu serializes Start and Stop.
	mu   sync.Mutex
	conn net.Conn

	// emitMu guards queue against Stop closing it.
	emitMu sync.RWMutex
	queue  chan []byte
	done   chan struct{}
}

// NewSlaveReporter returns a stopped slave for the master at host:port.
func NewSlaveReporter(host string, port int, opt ...SlaveOption) *SlaveReporter {
	return &SlaveReporter{
		host: host,
		port: port,
		opts: buildSlaveOptions(opt),
	}
}

// Addr returns the master address.
func (s *SlaveReporter) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start connects to the master. With a bounded retry budget it gives up
// after 1+retries attempts with an error matching ErrConnectionFailed and
// wrapping the last dial error.
func (s *SlaveReporter) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Started() {
		return nil
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}

	queue := make(chan []byte, s.opts.queueSize)
	done := make(chan struct{})
	go s.writeLoop(conn, queue, done)

	s.emitMu.Lock()
	s.conn = conn
	s.queue = queue
	s.done = done
	s.begin()
	s.emitMu.Unlock()
	return nil
}

func (s *SlaveReporter) connect(ctx context.Context) (net.Conn, error) {
	addr := s.Addr()
	logger := s.opts.logger

	for attempt := 1; ; attempt++ {
		if attempt == 1 {
			logger.Info("connecting to master", "addr", addr)
		} else {
			logger.Debug("connecting to master", "addr", addr, "attempt", attempt)
		}
		s.opts.metrics.ConnectAttempts.Inc()

		conn, err := s.opts.dial(ctx, "tcp", addr)
		if err == nil {
			logger.Info("connected to master", "addr", addr)
			return conn, nil
		}

		if s.opts.retries != UnlimitedRetries && attempt > s.opts.retries {
			logger.Error("connection to master failed", "addr", addr, "attempts", attempt, "error", err)
			return nil, &ConnectError{Addr: addr, Attempts: attempt, Err: err}
		}

		delay := s.retryDelay(attempt)
		if attempt == 1 {
			logger.Warn("connection failed, retrying", "addr", addr, "error", err, "retry_in", delay)
		} else {
			logger.Debug("connection failed, retrying", "addr", addr, "attempt", attempt, "error", err, "retry_in", delay)
		}

		if ctxErr := sleep(ctx, delay); ctxErr != nil {
			logger.Warn("connection to master abandoned", "addr", addr, "attempts", attempt, "error", ctxErr)
			return nil, &ConnectError{Addr: addr, Attempts: attempt, Err: err, Canceled: ctxErr}
		}
	}
}

// retryDelay returns the delay after failed attempt N (1-based).
// Unlimited retries never go below minUnlimitedRetryDelay.
func (s *SlaveReporter) retryDelay(attempt int) time.Duration {
	if s.opts.retryDelay <= 0 {
		if s.opts.retries == UnlimitedRetries {
			return minUnlimitedRetryDelay
		}
		return 0
	}
	delay := float64(s.opts.retryDelay) * math.Pow(s.opts.multiplier, float64(attempt-1))
	if s.opts.maxDelay > 0 && delay > float64(s.opts.maxDelay) {
		delay = float64(s.opts.maxDelay)
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop writes queued stats in order until the queue is closed.
// After a write failure the remaining stats are counted as dropped.
func (s *SlaveReporter) writeLoop(conn net.Conn, queue <-chan []byte, done chan<- struct{}) {
	defer close(done)

	var failed bool
	for data := range queue {
		if failed {
			s.opts.metrics.StatsDropped.Inc()
			continue
		}
		if s.opts.writeTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
		}
		if _, err := conn.Write(data); err != nil {
			s.opts.logger.Warn("write to master failed", "addr", conn.RemoteAddr(), "error", err)
			s.opts.metrics.StatsDropped.Inc()
			failed = true
			continue
		}
		s.opts.metrics.StatsSent.Inc()
	}
}

// Emit queues stat for sending while started. It never waits for the
// network; a full queue drops the stat and returns ErrBufferFull.
func (s *SlaveReporter) Emit(ctx context.Context, stat Stat) error {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()

	if !s.Started() {
		return nil
	}

	data, err := s.opts.encode(stat)
	if err != nil {
		return err
	}

	select {
	case s.queue <- data:
		return nil
	default:
		s.opts.metrics.StatsDropped.Inc()
		return ErrBufferFull
	}
}

// Stop flushes queued stats, closes the write side of the connection and
// closes it. Stats emitted after Stop begins are ignored.
func (s *SlaveReporter) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emitMu.Lock()
	if !s.end() {
		s.emitMu.Unlock()
		return nil
	}
	close(s.queue)
	conn, done := s.conn, s.done
	s.conn, s.queue, s.done = nil, nil, nil
	s.emitMu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		conn.Close()
		<-done
		return ctx.Err()
	}

	if cw, ok := conn.(closeWriter); ok {
		if err := cw.CloseWrite(); err != nil {
			s.opts.logger.Debug("close write failed", "addr", conn.RemoteAddr(), "error", err)
		}
	}
	if err := conn.Close(); err != nil {
		return errors.Wrap(err, "close master connection")
	}
	s.opts.logger.Info("disconnected from master", "addr", s.Addr())
	return nil
}
