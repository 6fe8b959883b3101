package reporting

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MetaReporter forwards every call to a set of child reporters.
//
// Start, Stop and Emit run the call on all children concurrently and
// return once every child has returned. If any child fails, the first
// error is returned; the other children still run to completion and
// nothing is rolled back.
type MetaReporter struct {
	lifecycle

	mu        sync.RWMutex
	reporters []Reporter
}

// NewMetaReporter returns a MetaReporter over reporters.
func NewMetaReporter(reporters ...Reporter) *MetaReporter {
	return &MetaReporter{reporters: append([]Reporter(nil), reporters...)}
}

// Add attaches a child reporter.
func (m *MetaReporter) Add(r Reporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reporters = append(m.reporters, r)
}

// Remove detaches a child reporter and reports whether it was attached.
func (m *MetaReporter) Remove(r Reporter) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, child := range m.reporters {
		if child == r {
			m.reporters = append(m.reporters[:i], m.reporters[i+1:]...)
			return true
		}
	}
	return false
}

// Reporters returns the attached children.
func (m *MetaReporter) Reporters() []Reporter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Reporter(nil), m.reporters...)
}

// Start starts every child. The MetaReporter is started even if some
// children failed, so that Stop reaches the ones that did start.
func (m *MetaReporter) Start(ctx context.Context) error {
	if !m.begin() {
		return nil
	}
	return m.each(func(r Reporter) error { return r.Start(ctx) })
}

// Stop stops every child.
func (m *MetaReporter) Stop(ctx context.Context) error {
	if !m.end() {
		return nil
	}
	return m.each(func(r Reporter) error { return r.Stop(ctx) })
}

// Emit forwards stat to every child. Children that are not started
// ignore it.
func (m *MetaReporter) Emit(ctx context.Context, stat Stat) error {
	if !m.Started() {
		return nil
	}
	return m.each(func(r Reporter) error { return r.Emit(ctx, stat) })
}

func (m *MetaReporter) each(fn func(r Reporter) error) error {
	var g errgroup.Group
	for _, r := range m.Reporters() {
		r := r
		g.Go(func() error { return fn(r) })
	}
	return g.Wait()
}
