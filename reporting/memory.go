package reporting

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryReporter records stats in memory while started.
type MemoryReporter struct {
	lifecycle

	mu    sync.Mutex
	stats []Stat
}

// NewMemoryReporter returns an empty, stopped MemoryReporter.
func NewMemoryReporter() *MemoryReporter {
	return &MemoryReporter{}
}

// Start begins recording.
func (m *MemoryReporter) Start(ctx context.Context) error {
	m.begin()
	return nil
}

// Stop stops recording. Recorded stats are kept.
func (m *MemoryReporter) Stop(ctx context.Context) error {
	m.end()
	return nil
}

// Emit appends stat while started.
func (m *MemoryReporter) Emit(ctx context.Context, stat Stat) error {
	if !m.Started() {
		return nil
	}
	m.mu.Lock()
	m.stats = append(m.stats, stat)
	m.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the recorded stats in emission order.
func (m *MemoryReporter) Stats() []Stat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Stat(nil), m.stats...)
}

// Len returns the number of recorded stats.
func (m *MemoryReporter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stats)
}

// Reset drops every recorded stat.
func (m *MemoryReporter) Reset() {
	m.mu.Lock()
	m.stats = nil
	m.mu.Unlock()
}

// MarshalJSON dumps the recorded stats as a JSON array.
func (m *MemoryReporter) MarshalJSON() ([]byte, error) {
	stats := m.Stats()
	if stats == nil {
		stats = []Stat{}
	}
	return json.Marshal(stats)
}
