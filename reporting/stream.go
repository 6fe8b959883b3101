package reporting

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// StreamReporter writes every stat as a JSON line.
// It writes either to a caller-owned io.Writer or to a file it opens on
// Start (create/append) and closes on Stop.
type StreamReporter struct {
	lifecycle

	mu     sync.Mutex
	path   string
	w      io.Writer
	file   *os.File
	encode EncodeFunc
}

// NewStreamReporter returns a StreamReporter writing to w.
func NewStreamReporter(w io.Writer) *StreamReporter {
	return &StreamReporter{w: w, encode: EncodeStat}
}

// NewFileReporter returns a StreamReporter appending to the file at path.
func NewFileReporter(path string) *StreamReporter {
	return &StreamReporter{path: path, encode: EncodeStat}
}

// Start opens the file, if any, and begins writing.
func (r *StreamReporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Started() {
		return nil
	}
	if r.path != "" {
		f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrapf(err, "open %s", r.path)
		}
		r.file = f
		r.w = f
	}
	r.begin()
	return nil
}

// Stop stops writing and closes the file it opened.
func (r *StreamReporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.end() {
		return nil
	}
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.w = nil
		return err
	}
	return nil
}

// Emit writes stat as one JSON line while started.
func (r *StreamReporter) Emit(ctx context.Context, stat Stat) error {
	if !r.Started() {
		return nil
	}

	data, err := r.encode(stat)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	_, err = r.w.Write(data)
	return err
}
