package merge

import (
	"errors"
	"sort"
	"sync"
)

// Entry is one speaker-labeled segment entering the merger.
type Entry struct {
	Speaker string
	Start   float64
	End     float64
	Text    string
}

// TurnFunc receives each turn as it closes.
type TurnFunc func(Turn)

// Config contains merger configuration.
type Config struct {
	// ReorderDepth is how many segments are held back to absorb
	// out-of-order arrival from concurrent workers.
	ReorderDepth int

	// InterruptionGap is the largest silence, in seconds, between one
	// speaker stopping and another starting that still counts as an
	// interruption rather than a pause.
	InterruptionGap float64
}

// DefaultConfig returns the default merger configuration.
func DefaultConfig() Config {
	return Config{
		ReorderDepth:    4,
		InterruptionGap: 1.0,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ReorderDepth < 0 {
		return errors.New("reorder depth cannot be negative")
	}
	if c.InterruptionGap < 0 {
		return errors.New("interruption gap cannot be negative")
	}
	return nil
}

// Merger folds labeled segments into continuous turns. All methods are safe
// for concurrent use.
type Merger struct {
	config       Config
	onTurnClosed TurnFunc

	mu      sync.RWMutex
	pending []Entry
	open    *Turn
	closed  []Turn
	lastEnd float64

	// Statistics
	merged        uint64
	extended      uint64
	interruptions uint64
}

// Stats represents merger statistics.
type Stats struct {
	Merged        uint64 `json:"merged"`
	Extended      uint64 `json:"extended"`
	TurnsClosed   uint64 `json:"turns_closed"`
	Interruptions uint64 `json:"interruptions"`
	PendingDepth  int    `json:"pending_depth"`
}

// New creates a merger. onTurnClosed may be nil.
func New(config Config, onTurnClosed TurnFunc) (*Merger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Merger{
		config:       config,
		onTurnClosed: onTurnClosed,
	}, nil
}

// Add accepts a segment. Segments are held in a start-time-ordered buffer
// until enough later segments have arrived to make reordering unlikely, then
// merged in order.
func (m *Merger) Add(e Entry) {
	var closedNow []Turn

	m.mu.Lock()
	m.pending = append(m.pending, e)
	sort.SliceStable(m.pending, func(i, j int) bool {
		return m.pending[i].Start < m.pending[j].Start
	})
	for len(m.pending) > m.config.ReorderDepth {
		next := m.pending[0]
		m.pending = m.pending[1:]
		if t := m.applyLocked(next); t != nil {
			closedNow = append(closedNow, *t)
		}
	}
	m.mu.Unlock()

	m.notify(closedNow)
}

// Flush drains the reorder buffer and closes the open turn. Called when the
// stream ends.
func (m *Merger) Flush() {
	var closedNow []Turn

	m.mu.Lock()
	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		if t := m.applyLocked(next); t != nil {
			closedNow = append(closedNow, *t)
		}
	}
	if m.open != nil {
		t := *m.open
		m.closed = append(m.closed, t)
		m.open = nil
		closedNow = append(closedNow, t)
	}
	m.mu.Unlock()

	m.notify(closedNow)
}

// applyLocked merges one segment into the turn state and returns the turn it
// closed, if any.
func (m *Merger) applyLocked(e Entry) *Turn {
	m.merged++

	if m.open == nil {
		m.open = &Turn{
			Speaker: e.Speaker,
			Start:   e.Start,
			End:     e.End,
			Text:    e.Text,
		}
		m.lastEnd = e.End
		return nil
	}

	if m.open.Speaker == e.Speaker {
		if e.Text != "" {
			if m.open.Text != "" {
				m.open.Text += " "
			}
			m.open.Text += e.Text
		}
		if e.End > m.open.End {
			m.open.End = e.End
		}
		m.lastEnd = e.End
		m.extended++
		return nil
	}

	// Speaker change. Whether the gap reads as an interruption or a pause,
	// the action is the same: close the current turn and open a new one.
	// The gap is measured from the most recently merged segment's end, not
	// the turn's end: a short trailing continuation must not shrink it.
	gap := e.Start - m.lastEnd
	closed := *m.open
	if gap < m.config.InterruptionGap {
		closed.Interrupted = true
		m.interruptions++
	}
	m.closed = append(m.closed, closed)

	m.open = &Turn{
		Speaker: e.Speaker,
		Start:   e.Start,
		End:     e.End,
		Text:    e.Text,
	}
	m.lastEnd = e.End

	return &closed
}

func (m *Merger) notify(turns []Turn) {
	if m.onTurnClosed == nil {
		return
	}
	for _, t := range turns {
		m.onTurnClosed(t)
	}
}

// Snapshot returns the transcript so far, including the still-open turn.
func (m *Merger) Snapshot() Transcript {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return buildTranscript(m.closed, m.open)
}

// GetStats returns current merger statistics.
func (m *Merger) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		Merged:        m.merged,
		Extended:      m.extended,
		TurnsClosed:   uint64(len(m.closed)),
		Interruptions: m.interruptions,
		PendingDepth:  len(m.pending),
	}
}
