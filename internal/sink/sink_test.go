package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/streamvoice/live-dialog-service/internal/dispatch"
	"github.com/streamvoice/live-dialog-service/internal/merge"
)

// recordingSubscriber captures everything published to it.
type recordingSubscriber struct {
	updates []dispatch.Result
	turns   []merge.Turn
}

func (s *recordingSubscriber) OnUpdate(r dispatch.Result) { s.updates = append(s.updates, r) }
func (s *recordingSubscriber) OnTurnClosed(t merge.Turn)  { s.turns = append(s.turns, t) }

func TestHubFanOut(t *testing.T) {
	hub := NewHub()

	a := &recordingSubscriber{}
	b := &recordingSubscriber{}
	hub.Subscribe(a)
	hub.Subscribe(b)

	hub.PublishUpdate(dispatch.Result{Text: "hello", IsFinal: true})
	hub.PublishTurn(merge.Turn{Speaker: "SPEAKER_00", Text: "hello"})

	for _, sub := range []*recordingSubscriber{a, b} {
		if len(sub.updates) != 1 || sub.updates[0].Text != "hello" {
			t.Errorf("Subscriber updates = %+v, want 1 update", sub.updates)
		}
		if len(sub.turns) != 1 || sub.turns[0].Speaker != "SPEAKER_00" {
			t.Errorf("Subscriber turns = %+v, want 1 turn", sub.turns)
		}
	}

	stats := hub.GetStats()
	if stats.Subscribers != 2 || stats.Updates != 1 || stats.Turns != 1 {
		t.Errorf("Unexpected hub stats: %+v", stats)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()

	a := &recordingSubscriber{}
	b := &recordingSubscriber{}
	idA := hub.Subscribe(a)
	hub.Subscribe(b)

	hub.Unsubscribe(idA)
	hub.PublishUpdate(dispatch.Result{Text: "after"})

	if len(a.updates) != 0 {
		t.Error("Unsubscribed subscriber should not receive updates")
	}
	if len(b.updates) != 1 {
		t.Error("Remaining subscriber should still receive updates")
	}
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub()

	// Must not panic, still counts.
	hub.PublishUpdate(dispatch.Result{})
	hub.PublishTurn(merge.Turn{})

	stats := hub.GetStats()
	if stats.Updates != 1 || stats.Turns != 1 {
		t.Errorf("Unexpected hub stats: %+v", stats)
	}
}

func staticSnapshot(tr merge.Transcript) SnapshotFunc {
	return func() merge.Transcript { return tr }
}

func TestJSONLWriterStreamsResults(t *testing.T) {
	fs := afero.NewMemMapFs()

	w, err := NewJSONLWriter(fs, "output", "sess-1", staticSnapshot(merge.Transcript{}), nil)
	if err != nil {
		t.Fatalf("NewJSONLWriter failed: %v", err)
	}

	w.OnUpdate(dispatch.Result{SequenceID: 1, Text: "partial", Speaker: "USER"})
	w.OnUpdate(dispatch.Result{SequenceID: 2, Text: "final", Speaker: "SPEAKER_00", IsFinal: true})

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := afero.ReadFile(fs, filepath.Join("output", "sess-1.jsonl"))
	if err != nil {
		t.Fatalf("Failed to read stream file: %v", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var results []dispatch.Result
	for scanner.Scan() {
		var r dispatch.Result
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("Invalid JSON line %q: %v", scanner.Text(), err)
		}
		results = append(results, r)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(results))
	}
	if results[0].Text != "partial" || results[1].Text != "final" {
		t.Errorf("Unexpected line contents: %+v", results)
	}
	if !results[1].IsFinal {
		t.Error("Final flag lost in stream file")
	}
	if w.Lines() != 2 {
		t.Errorf("Lines() = %d, want 2", w.Lines())
	}
}

func TestJSONLWriterAggregatedDocument(t *testing.T) {
	fs := afero.NewMemMapFs()

	transcript := merge.Transcript{
		Turns: []merge.Turn{
			{Speaker: "SPEAKER_00", Start: 0, End: 2.0, Text: "hello there", Interrupted: true},
			{Speaker: "SPEAKER_01", Start: 1.8, End: 3.5, Text: "hi"},
		},
		Speakers:      []string{"SPEAKER_00", "SPEAKER_01"},
		TotalDuration: 3.7,
	}

	w, err := NewJSONLWriter(fs, "output", "sess-2", staticSnapshot(transcript), map[string]any{"source": "udp"})
	if err != nil {
		t.Fatalf("NewJSONLWriter failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := afero.ReadFile(fs, filepath.Join("output", "sess-2.json"))
	if err != nil {
		t.Fatalf("Failed to read aggregated file: %v", err)
	}

	var doc struct {
		Segments      []merge.Turn   `json:"segments"`
		Speakers      []string       `json:"speakers"`
		TotalDuration float64        `json:"total_duration"`
		Metadata      map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Invalid aggregated document: %v", err)
	}

	if len(doc.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(doc.Segments))
	}
	if !doc.Segments[0].Interrupted {
		t.Error("Interrupted flag lost in aggregated document")
	}
	if doc.TotalDuration != 3.7 {
		t.Errorf("TotalDuration = %v, want 3.7", doc.TotalDuration)
	}
	if doc.Metadata["source"] != "udp" {
		t.Errorf("Metadata = %v, missing caller fields", doc.Metadata)
	}
	if doc.Metadata["session_id"] != "sess-2" {
		t.Error("Metadata missing session_id")
	}
	if _, ok := doc.Metadata["created_at"]; !ok {
		t.Error("Metadata missing created_at")
	}
}

func TestJSONLWriterEmptySessionHasEmptyArrays(t *testing.T) {
	fs := afero.NewMemMapFs()

	w, err := NewJSONLWriter(fs, "output", "sess-3", staticSnapshot(merge.Transcript{}), nil)
	if err != nil {
		t.Fatalf("NewJSONLWriter failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := afero.ReadFile(fs, filepath.Join("output", "sess-3.json"))
	if err != nil {
		t.Fatalf("Failed to read aggregated file: %v", err)
	}

	// Empty sessions serialize as [], not null, so downstream consumers
	// never special-case the shape.
	if bytes.Contains(data, []byte("null")) {
		t.Errorf("Aggregated document contains null arrays: %s", data)
	}
}

func TestJSONLWriterCloseIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()

	w, err := NewJSONLWriter(fs, "output", "sess-4", staticSnapshot(merge.Transcript{}), nil)
	if err != nil {
		t.Fatalf("NewJSONLWriter failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	// Writes after close are dropped silently.
	w.OnUpdate(dispatch.Result{Text: "late"})
	if w.Lines() != 0 {
		t.Errorf("Lines() = %d, want 0 after close", w.Lines())
	}
}

func TestJSONLWriterRejectsBadArguments(t *testing.T) {
	fs := afero.NewMemMapFs()
	snap := staticSnapshot(merge.Transcript{})

	if _, err := NewJSONLWriter(fs, "output", "", snap, nil); err == nil {
		t.Error("Expected error for empty session id")
	}
	if _, err := NewJSONLWriter(fs, "output", "sess", nil, nil); err == nil {
		t.Error("Expected error for nil snapshot func")
	}
}
