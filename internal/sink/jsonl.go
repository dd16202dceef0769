package sink

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/streamvoice/live-dialog-service/internal/dispatch"
	"github.com/streamvoice/live-dialog-service/internal/merge"
)

// SnapshotFunc returns the transcript accumulated so far.
type SnapshotFunc func() merge.Transcript

// JSONLWriter persists a session's output: every retained result as one
// JSON line in <session>.jsonl, and an aggregated transcript document in
// <session>.json written on Close. The filesystem is abstracted so tests
// run against an in-memory fs.
type JSONLWriter struct {
	fs        afero.Fs
	dir       string
	sessionID string
	snapshot  SnapshotFunc
	metadata  map[string]any

	mu     sync.Mutex
	file   afero.File
	lines  uint64
	closed bool
}

// aggregatedDocument is the on-disk shape of the final transcript.
type aggregatedDocument struct {
	Segments      []merge.Turn   `json:"segments"`
	Speakers      []string       `json:"speakers"`
	TotalDuration float64        `json:"total_duration"`
	Metadata      map[string]any `json:"metadata"`
}

// NewJSONLWriter creates a writer storing output under dir.
func NewJSONLWriter(fs afero.Fs, dir, sessionID string, snapshot SnapshotFunc, metadata map[string]any) (*JSONLWriter, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot func cannot be nil")
	}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := fs.Create(filepath.Join(dir, sessionID+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["session_id"] = sessionID
	metadata["created_at"] = time.Now().UTC().Format(time.RFC3339)

	return &JSONLWriter{
		fs:        fs,
		dir:       dir,
		sessionID: sessionID,
		snapshot:  snapshot,
		metadata:  metadata,
		file:      file,
	}, nil
}

// OnUpdate appends the result as one JSON line.
func (w *JSONLWriter) OnUpdate(r dispatch.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	line, err := json.Marshal(r)
	if err != nil {
		return
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return
	}
	w.lines++
}

// OnTurnClosed is a no-op; turns are captured by the aggregated document.
func (w *JSONLWriter) OnTurnClosed(merge.Turn) {}

// Lines returns how many results have been written.
func (w *JSONLWriter) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// Close flushes the stream file and writes the aggregated transcript.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close stream file: %w", err)
	}

	transcript := w.snapshot()
	doc := aggregatedDocument{
		Segments:      transcript.Turns,
		Speakers:      transcript.Speakers,
		TotalDuration: transcript.TotalDuration,
		Metadata:      w.metadata,
	}
	if doc.Segments == nil {
		doc.Segments = []merge.Turn{}
	}
	if doc.Speakers == nil {
		doc.Speakers = []string{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	path := filepath.Join(w.dir, w.sessionID+".json")
	if err := afero.WriteFile(w.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}

	return nil
}
