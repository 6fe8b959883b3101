package testwire

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by messaging operations.
var (
	// ErrInvalidCodec is returned when no codec is provided.
	ErrInvalidCodec = errors.New("invalid codec")
	// ErrMessagingClosed is returned by waits once the read loop has stopped
	// and no queued message matches.
	ErrMessagingClosed = errors.New("messaging closed")
)

// Messaging consumes frames from a Transport in the background, decodes
// them into messages and keeps them in a pending queue until a caller
// claims them with Receive or drops them with Discard.
//
// M must be comparable because Discard removes entries by identity;
// pointer types are the usual choice.
type Messaging[M comparable] struct {
	transport *Transport
	codec     MessageCodec[M]
	logger    Logger
	opts      options

	mu      sync.Mutex
	queue   []M
	changed chan struct{} // closed and replaced whenever the queue grows
	err     error         // set once the read loop has stopped

	cancel     context.CancelFunc
	finishOnce sync.Once
	done       chan struct{}
}

// Open starts the background read loop over transport and returns the
// Messaging bound to it. The loop runs until ctx is canceled, Close is
// called or the transport fails; in every case the transport is closed.
//
// Cancellation releases waiters at once even when the stream cannot be
// closed (it is not an io.Closer). A Read still blocked on such a stream
// is abandoned and its result discarded.
func Open[M comparable](ctx context.Context, transport *Transport, codec MessageCodec[M], opt ...Option) (*Messaging[M], error) {
	if codec == nil {
		return nil, ErrInvalidCodec
	}

	opts := buildOptions(opt)
	m := &Messaging[M]{
		transport: transport,
		codec:     codec,
		logger:    opts.logger,
		opts:      opts,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	ctx, m.cancel = context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return m.readLoop(child)
	})

	// Closing the transport is the only way to unblock a pending Read.
	group.Go(func() error {
		<-child.Done()
		err := m.transport.Close()
		if ctx.Err() != nil {
			m.finish(ctx.Err())
		}
		return err
	})

	go func() {
		err := group.Wait()
		m.finish(err)
	}()

	return m, nil
}

// readLoop reads frames, decodes them and appends the messages to the queue.
// A message decoded after cancellation is discarded.
func (m *Messaging[M]) readLoop(ctx context.Context) error {
	for {
		payload, err := m.transport.Read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		message, err := m.codec.Decode(bytes.NewReader(payload))
		if err != nil {
			m.logger.Debug("decode error", "addr", m.transport.RemoteAddr(), "error", err)
			if m.opts.onError(err) == Disconnect {
				return errors.Wrap(err, "decode message")
			}
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.push(message)
	}
}

func (m *Messaging[M]) push(message M) {
	m.mu.Lock()
	m.queue = append(m.queue, message)
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
}

func (m *Messaging[M]) finish(err error) {
	m.finishOnce.Do(func() { m.stop(err) })
}

func (m *Messaging[M]) stop(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		err = ErrMessagingClosed
	} else {
		m.logger.Debug("messaging stopped", "addr", m.transport.RemoteAddr(), "error", err)
		err = fmt.Errorf("%w: %w", ErrMessagingClosed, err)
	}

	m.mu.Lock()
	m.err = err
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	close(m.done)
}

// Send encodes message and writes it as one frame.
func (m *Messaging[M]) Send(message M) error {
	var buf bytes.Buffer
	if err := m.codec.Encode(&buf, message); err != nil {
		return errors.Wrap(err, "encode message")
	}
	return m.transport.Write(buf.Bytes())
}

// WaitMessage blocks until at least one queued message satisfies accept and
// returns all current matches without removing them. It waits without a
// timeout; use ctx to bound it. Once the read loop has stopped and nothing
// matches, the error wraps ErrMessagingClosed along with the reason the
// loop stopped (for example ErrEndOfStream).
func (m *Messaging[M]) WaitMessage(ctx context.Context, accept Predicate[M]) ([]M, error) {
	return m.wait(ctx, accept, false)
}

// Receive is WaitMessage followed by the removal of every returned message.
// Matching and removal happen atomically, so a message is returned by at
// most one Receive call.
func (m *Messaging[M]) Receive(ctx context.Context, accept Predicate[M]) ([]M, error) {
	return m.wait(ctx, accept, true)
}

// SendAndReceive sends message then receives messages satisfying accept.
// The pair is not atomic with respect to other senders and receivers.
func (m *Messaging[M]) SendAndReceive(ctx context.Context, message M, accept Predicate[M]) ([]M, error) {
	if err := m.Send(message); err != nil {
		return nil, err
	}
	return m.Receive(ctx, accept)
}

func (m *Messaging[M]) wait(ctx context.Context, accept Predicate[M], claim bool) ([]M, error) {
	for {
		m.mu.Lock()
		matched := m.match(accept, claim)
		if len(matched) > 0 {
			m.mu.Unlock()
			return matched, nil
		}
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			return nil, err
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// match returns the queued messages accepted by accept, removing them when
// claim is set. Must be called with m.mu held.
func (m *Messaging[M]) match(accept Predicate[M], claim bool) []M {
	var matched []M
	kept := m.queue[:0]
	for _, message := range m.queue {
		if accept.accept(message) {
			matched = append(matched, message)
			if claim {
				continue
			}
		}
		if claim {
			kept = append(kept, message)
		}
	}
	if claim {
		var zero M
		for i := len(kept); i < len(m.queue); i++ {
			m.queue[i] = zero
		}
		m.queue = kept
	}
	return matched
}

// Discard removes the given messages from the queue by identity.
// Messages that are no longer queued are ignored.
func (m *Messaging[M]) Discard(messages ...M) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, target := range messages {
		for i, message := range m.queue {
			if message == target {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				break
			}
		}
	}
}

// DiscardAll removes every queued message satisfying accept.
func (m *Messaging[M]) DiscardAll(accept Predicate[M]) {
	m.mu.Lock()
	m.match(accept, true)
	m.mu.Unlock()
}

// Pending returns the number of queued messages.
func (m *Messaging[M]) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Done is closed once the read loop has stopped.
func (m *Messaging[M]) Done() <-chan struct{} {
	return m.done
}

// Err returns why the read loop stopped, or nil while it is running.
func (m *Messaging[M]) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Close stops the read loop, closes the transport and waits until pending
// waits have been released. Unclaimed messages stay queued but no new ones arrive.
// Safe to call multiple times.
func (m *Messaging[M]) Close() error {
	m.cancel()
	<-m.done
	return nil
}
