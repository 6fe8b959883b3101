package reporting

import (
	"context"
	"sync/atomic"
	"time"
)

// Reporter receives stats between Start and Stop.
// Start and Stop are idempotent; Emit is a no-op unless started.
type Reporter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Emit(ctx context.Context, stat Stat) error
	Started() bool
}

// EmitFunc is a stat sink.
type EmitFunc func(ctx context.Context, stat Stat) error

// lifecycle tracks the stopped/started state of a reporter.
type lifecycle struct {
	started atomic.Bool
}

// Started reports whether the reporter is started.
func (l *lifecycle) Started() bool {
	return l.started.Load()
}

// begin moves to started and reports whether the state changed.
func (l *lifecycle) begin() bool {
	return l.started.CompareAndSwap(false, true)
}

// end moves to stopped and reports whether the state changed.
func (l *lifecycle) end() bool {
	return l.started.CompareAndSwap(true, false)
}

// Profile emits an enter stat, runs fn, then emits an exit stat carrying
// the entry and exit timestamps. The exit stat is emitted even when fn or
// the enter emission fail; fn is skipped if the enter emission fails.
func Profile(ctx context.Context, r Reporter, name string, fn func(ctx context.Context) error) (err error) {
	start := Timestamp(time.Now())
	defer func() {
		exitErr := r.Emit(ctx, Stat{
			"emitter":  EmitterProfiler,
			"reliable": false,
			"event":    EventExit,
			"name":     name,
			"start":    start,
			"end":      Timestamp(time.Now()),
		})
		if err == nil {
			err = exitErr
		}
	}()

	if err := r.Emit(ctx, Stat{
		"emitter":  EmitterProfiler,
		"reliable": false,
		"event":    EventEnter,
		"name":     name,
		"start":    start,
	}); err != nil {
		return err
	}
	return fn(ctx)
}

// Info emits a logger stat carrying message.
func Info(ctx context.Context, r Reporter, message string, reliable bool) error {
	return r.Emit(ctx, Stat{
		"emitter":  EmitterLogger,
		"reliable": reliable,
		"event":    EventInfo,
		"message":  message,
	})
}
