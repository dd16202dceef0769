package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streamvoice/live-dialog-service/internal/metrics"
	"github.com/streamvoice/live-dialog-service/internal/transcription"
)

// ManagerConfig contains configuration for the session manager.
type ManagerConfig struct {
	Pipeline    PipelineConfig
	MaxSessions int
	Timeout     time.Duration
	StopGrace   time.Duration
}

// Manager tracks live sessions keyed by stream key and reaps the ones that
// stop receiving audio.
type Manager struct {
	config      ManagerConfig
	transcriber transcription.Transcriber
	identifier  transcription.SpeakerIdentifier
	metrics     *metrics.Metrics
	logger      *slog.Logger

	sessions map[uint64]*Session
	mu       sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its cleanup routine.
func NewManager(config ManagerConfig, transcriber transcription.Transcriber, identifier transcription.SpeakerIdentifier, m *metrics.Metrics, logger *slog.Logger) (*Manager, error) {
	if transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.StopGrace <= 0 {
		config.StopGrace = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		config:      config,
		transcriber: transcriber,
		identifier:  identifier,
		metrics:     m,
		logger:      logger,
		sessions:    make(map[uint64]*Session),
		ctx:         ctx,
		cancel:      cancel,
		cleanup:     make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// GetOrCreate returns the session for the stream key, creating it on first
// use.
func (m *Manager) GetOrCreate(streamKey uint64) (*Session, error) {
	m.mu.RLock()
	session, exists := m.sessions[streamKey]
	m.mu.RUnlock()
	if exists {
		return session, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if session, exists := m.sessions[streamKey]; exists {
		return session, nil
	}

	if len(m.sessions) >= m.config.MaxSessions {
		return nil, fmt.Errorf("session limit reached (%d)", m.config.MaxSessions)
	}

	session, err := New(streamKey, m.config.Pipeline, m.transcriber, m.identifier, m.metrics, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.sessions[streamKey] = session

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("Created session",
		"session_id", session.ID,
		"stream_key", streamKey,
		"active_sessions", len(m.sessions))

	return session, nil
}

// HandleAudio routes a datagram payload into the stream's session, creating
// the session on first use. Implements the ingest source handler contract.
func (m *Manager) HandleAudio(streamKey uint64, sequence uint32, pcm []byte) {
	session, err := m.GetOrCreate(streamKey)
	if err != nil {
		m.logger.Warn("Dropping audio for unroutable stream",
			"stream_key", streamKey,
			"sequence", sequence,
			"error", err)
		return
	}

	if err := session.Write(pcm); err != nil {
		m.logger.Warn("Failed to write audio to session",
			"session_id", session.ID,
			"sequence", sequence,
			"error", err)
	}
}

// Get returns the session for the stream key, if present.
func (m *Manager) Get(streamKey uint64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, exists := m.sessions[streamKey]
	return session, exists
}

// GetByID returns the session with the given id, if present.
func (m *Manager) GetByID(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, session := range m.sessions {
		if session.ID == id {
			return session, true
		}
	}
	return nil, false
}

// GetAllSessions returns a snapshot of all live sessions.
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Remove stops and removes the session for the stream key.
func (m *Manager) Remove(streamKey uint64) bool {
	m.mu.Lock()
	session, exists := m.sessions[streamKey]
	if exists {
		delete(m.sessions, streamKey)
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return false
	}

	session.Stop(m.config.StopGrace)

	if m.metrics != nil {
		m.metrics.SetActiveSessions(remaining)
	}

	m.logger.Info("Removed session",
		"session_id", session.ID,
		"stream_key", streamKey,
		"active_sessions", remaining)

	return true
}

// Stop stops the cleanup routine and all sessions.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.cancel()
	<-m.cleanup

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for key, session := range m.sessions {
		sessions = append(sessions, session)
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	for _, session := range sessions {
		session.Stop(m.config.StopGrace)
	}

	if m.metrics != nil {
		m.metrics.SetActiveSessions(0)
	}

	m.logger.Info("Session manager stopped", "stopped_sessions", len(sessions))
}

// startCleanupRoutine reaps sessions that have gone quiet.
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reapExpired()
		}
	}
}

func (m *Manager) reapExpired() {
	now := time.Now()
	expired := make([]uint64, 0)

	m.mu.RLock()
	for key, session := range m.sessions {
		if now.Sub(session.LastActivity()) > m.config.Timeout {
			expired = append(expired, key)
		}
	}
	m.mu.RUnlock()

	for _, key := range expired {
		m.logger.Info("Session expired", "stream_key", key, "timeout", m.config.Timeout)
		m.Remove(key)
	}
}
