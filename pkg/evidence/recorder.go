package evidence

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/groundline/groundline/pkg/logger"
)

// Recorder persists evidence chains as NDJSON, one entry per line. Recording
// failures are advisory: a full disk must not take the answering path down,
// so errors are logged and the write is dropped.
type Recorder struct {
	mu  sync.Mutex
	w   *bufio.Writer
	c   io.Closer
	log zerolog.Logger
}

// NewRecorder opens (or creates) an append-only NDJSON sink at path.
func NewRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Recorder{w: bufio.NewWriter(f), c: f, log: logger.With("evidence")}, nil
}

// NewRecorderTo wraps an arbitrary writer, for tests and stdout capture.
func NewRecorderTo(w io.Writer) *Recorder {
	return &Recorder{w: bufio.NewWriter(w), log: logger.With("evidence")}
}

// Record appends every entry of the chain and flushes.
func (r *Recorder) Record(chain *Chain) {
	if r == nil || chain == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range chain.Entries() {
		line, err := json.Marshal(e)
		if err != nil {
			r.log.Warn().Err(err).Str("stage", string(e.Stage)).Msg("marshal entry failed")
			continue
		}
		if _, err := r.w.Write(append(line, '\n')); err != nil {
			r.log.Warn().Err(err).Msg("write entry failed")
			return
		}
	}
	if err := r.w.Flush(); err != nil {
		r.log.Warn().Err(err).Msg("flush failed")
	}
}

// Close flushes buffered entries and closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.w.Flush()
	if r.c != nil {
		if cerr := r.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
