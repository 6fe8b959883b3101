package testwire

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

type testMessage struct {
	ID   uint32
	Body string
}

// testCodec encodes a message as a 4-byte id followed by the body.
type testCodec struct{}

func (testCodec) Encode(w io.Writer, m *testMessage) error {
	if err := binary.Write(w, binary.BigEndian, m.ID); err != nil {
		return err
	}
	_, err := io.WriteString(w, m.Body)
	return err
}

func (testCodec) Decode(r io.Reader) (*testMessage, error) {
	var m testMessage
	if err := binary.Read(r, binary.BigEndian, &m.ID); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.Body = string(body)
	return &m, nil
}

// openPipe returns a Messaging on one end of a pipe and a raw Transport on the other.
func openPipe(t *testing.T, opt ...Option) (*Messaging[*testMessage], *Transport) {
	t.Helper()
	local, remote := net.Pipe()

	m, err := Open[*testMessage](context.Background(), NewTransport(local, opt...), testCodec{}, opt...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	peer := NewTransport(remote)
	t.Cleanup(func() {
		peer.Close()
		m.Close()
	})
	return m, peer
}

// sendTestMessages is safe to call from any goroutine.
func sendTestMessages(t *testing.T, peer *Transport, messages ...*testMessage) {
	t.Helper()
	for _, msg := range messages {
		var buf bytes.Buffer
		_ = (testCodec{}).Encode(&buf, msg)
		if err := peer.Write(buf.Bytes()); err != nil {
			t.Errorf("peer write failed: %v", err)
			return
		}
	}
}

func waitPending(t *testing.T, m *Messaging[*testMessage], n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.Pending() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d pending messages, have %d", n, m.Pending())
		}
		time.Sleep(time.Millisecond)
	}
}

func byID(id uint32) Predicate[*testMessage] {
	return func(m *testMessage) bool { return m.ID == id }
}

func TestOpen_MissingCodec(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	defer local.Close()

	_, err := Open[*testMessage](context.Background(), NewTransport(local), nil)
	if err != ErrInvalidCodec {
		t.Errorf("expected ErrInvalidCodec, got %v", err)
	}
}

func TestMessaging_ReceiveMatchesPredicate(t *testing.T) {
	m, peer := openPipe(t)

	go sendTestMessages(t, peer,
		&testMessage{ID: 1, Body: "one"},
		&testMessage{ID: 2, Body: "two"},
		&testMessage{ID: 1, Body: "uno"},
	)
	waitPending(t, m, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := m.Receive(ctx, byID(1))
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("received %d messages, want 2", len(got))
	}
	for _, msg := range got {
		if msg.ID != 1 {
			t.Errorf("received message failing predicate: %+v", msg)
		}
	}
	if got[0].Body != "one" || got[1].Body != "uno" {
		t.Errorf("queue order not preserved: %q, %q", got[0].Body, got[1].Body)
	}

	if m.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", m.Pending())
	}

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if _, err := m.Receive(short, byID(1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("claimed messages returned again, err = %v", err)
	}
}

func TestMessaging_WaitMessageKeepsQueue(t *testing.T) {
	m, peer := openPipe(t)

	go sendTestMessages(t, peer, &testMessage{ID: 7, Body: "seven"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := m.WaitMessage(ctx, byID(7))
	if err != nil {
		t.Fatalf("WaitMessage failed: %v", err)
	}
	if len(got) != 1 || got[0].Body != "seven" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if m.Pending() != 1 {
		t.Errorf("WaitMessage must not remove messages, Pending = %d", m.Pending())
	}

	again, err := m.Receive(ctx, nil)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(again) != 1 || again[0] != got[0] {
		t.Errorf("Receive returned %+v, want the waited message", again)
	}
}

func TestMessaging_ReceiveWakesOnArrival(t *testing.T) {
	m, peer := openPipe(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan []*testMessage, 1)
	go func() {
		got, err := m.Receive(ctx, byID(3))
		if err != nil {
			t.Errorf("Receive failed: %v", err)
		}
		result <- got
	}()

	time.Sleep(20 * time.Millisecond)
	sendTestMessages(t, peer, &testMessage{ID: 2}, &testMessage{ID: 3, Body: "late"})

	select {
	case got := <-result:
		if len(got) != 1 || got[0].Body != "late" {
			t.Errorf("unexpected result: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Receive")
	}
}

func TestMessaging_ConcurrentReceiversClaimOnce(t *testing.T) {
	m, peer := openPipe(t)

	const total = 200
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[uint32]int)
		wg   sync.WaitGroup
	)
	collected := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for collected() < total {
				short, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
				got, err := m.Receive(short, nil)
				cancelShort()
				if err != nil {
					continue
				}
				mu.Lock()
				for _, msg := range got {
					seen[msg.ID]++
				}
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < total; i++ {
		sendTestMessages(t, peer, &testMessage{ID: uint32(i)})
	}
	wg.Wait()

	for id, count := range seen {
		if count != 1 {
			t.Errorf("message %d received %d times", id, count)
		}
	}
	if len(seen) != total {
		t.Errorf("received %d distinct messages, want %d", len(seen), total)
	}
}

func TestMessaging_Discard(t *testing.T) {
	m, peer := openPipe(t)

	go sendTestMessages(t, peer, &testMessage{ID: 1}, &testMessage{ID: 2}, &testMessage{ID: 3}, &testMessage{ID: 4})
	waitPending(t, m, 4)

	ctx := context.Background()
	twos, err := m.WaitMessage(ctx, byID(2))
	if err != nil {
		t.Fatalf("WaitMessage failed: %v", err)
	}
	m.Discard(twos...)
	if m.Pending() != 3 {
		t.Fatalf("Pending after Discard = %d, want 3", m.Pending())
	}

	// Discarding a message that is no longer queued is a no-op.
	m.Discard(twos...)
	if m.Pending() != 3 {
		t.Fatalf("Pending after second Discard = %d, want 3", m.Pending())
	}

	m.DiscardAll(func(msg *testMessage) bool { return msg.ID%2 == 1 })
	rest, err := m.Receive(ctx, nil)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != 4 {
		t.Errorf("unexpected remaining messages: %+v", rest)
	}
}

func TestMessaging_SendAndReceive(t *testing.T) {
	m, peer := openPipe(t)

	// Echo every frame back with the id incremented.
	go func() {
		for {
			payload, err := peer.Read()
			if err != nil {
				return
			}
			msg, err := (testCodec{}).Decode(bytes.NewReader(payload))
			if err != nil {
				return
			}
			msg.ID++
			var buf bytes.Buffer
			_ = (testCodec{}).Encode(&buf, msg)
			if err := peer.Write(buf.Bytes()); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := m.SendAndReceive(ctx, &testMessage{ID: 10, Body: "ping"}, byID(11))
	if err != nil {
		t.Fatalf("SendAndReceive failed: %v", err)
	}
	if len(got) != 1 || got[0].Body != "ping" {
		t.Errorf("unexpected reply: %+v", got)
	}
}

func TestMessaging_PeerCloseEndsWaits(t *testing.T) {
	m, peer := openPipe(t)

	sendTestMessages(t, peer, &testMessage{ID: 1})
	waitPending(t, m, 1)
	peer.Close()

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not stop after peer close")
	}

	// Messages queued before the close are still claimable.
	got, err := m.Receive(context.Background(), byID(1))
	if err != nil || len(got) != 1 {
		t.Fatalf("Receive queued message: %v, %v", got, err)
	}

	_, err = m.Receive(context.Background(), byID(2))
	if !errors.Is(err, ErrMessagingClosed) {
		t.Errorf("expected ErrMessagingClosed, got %v", err)
	}
	if !errors.Is(err, ErrEndOfStream) {
		t.Errorf("expected ErrEndOfStream cause, got %v", err)
	}
}

func TestMessaging_CloseCancelsLoop(t *testing.T) {
	m, peer := openPipe(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		_, err := m.Receive(ctx, byID(99))
		result <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrMessagingClosed) {
			t.Errorf("expected ErrMessagingClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Receive not released by Close")
	}

	if err := m.Send(&testMessage{ID: 1}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed after Close, got %v", err)
	}
	if _, err := peer.Read(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("peer should observe end of stream, got %v", err)
	}
}

func TestMessaging_DecodeErrorContinue(t *testing.T) {
	m, peer := openPipe(t, OnErrorOption(func(error) ErrorAction { return Continue }))

	go func() {
		// Too short to hold an id.
		_ = peer.Write([]byte{1})
		sendTestMessages(t, peer, &testMessage{ID: 5, Body: "ok"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := m.Receive(ctx, byID(5))
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestMessaging_DecodeErrorDisconnect(t *testing.T) {
	m, peer := openPipe(t)

	go func() { _ = peer.Write([]byte{1}) }()

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not stop on decode error")
	}
	if !errors.Is(m.Err(), ErrMessagingClosed) {
		t.Errorf("Err = %v, want ErrMessagingClosed", m.Err())
	}
}

func TestMessaging_CloseWithoutCloser(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	// The stream has no Close method, so the blocked Read cannot be interrupted.
	m, err := Open[*testMessage](context.Background(), NewTransport(readWriter{Reader: pr, Writer: io.Discard}), testCodec{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		_, err := m.Receive(ctx, nil)
		result <- err
	}()

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a stream without Close")
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrMessagingClosed) {
			t.Errorf("expected ErrMessagingClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive not released by Close")
	}

	// A frame arriving after Close is discarded by the abandoned reader.
	var buf bytes.Buffer
	_ = (testCodec{}).Encode(&buf, &testMessage{ID: 7})
	frame, _ := EncodeFrame(DefaultSizeCodec, buf.Bytes())
	go pw.Write(frame)
	time.Sleep(20 * time.Millisecond)
	if n := m.Pending(); n != 0 {
		t.Errorf("pending = %d after Close, want 0", n)
	}
}
