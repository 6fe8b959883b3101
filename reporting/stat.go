package reporting

import (
	"time"
)

// Reserved emitter values.
const (
	EmitterLogger   = "logger"
	EmitterProfiler = "profiler"
)

// Well-known events.
const (
	EventEnter = "enter"
	EventExit  = "exit"
	EventInfo  = "info"
)

// Stat is an open key/value telemetry record.
type Stat map[string]any

// Emitter returns the emitter field, or "" if absent.
func (s Stat) Emitter() string {
	v, _ := s["emitter"].(string)
	return v
}

// Event returns the event field, or "" if absent.
func (s Stat) Event() string {
	v, _ := s["event"].(string)
	return v
}

// Timestamp converts t to fractional seconds, the unit of start/end fields.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
