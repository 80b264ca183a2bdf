package session

import (
	"log/slog"
	"sync"

	"github.com/pavelanni/dictation/internal/dialogue"
	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/speech"
)

// Manager keeps the live sessions in memory.
type Manager struct {
	chat dialogue.Backend
	tts  speech.AssetSynthesizer
	cfg  Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. tts may be nil.
func NewManager(chat dialogue.Backend, tts speech.AssetSynthesizer, cfg Config) *Manager {
	return &Manager{
		chat:     chat,
		tts:      tts,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Create starts a session over deck.
func (m *Manager) Create(deck model.Deck) (*Session, error) {
	s, err := newSession(deck, m.chat, m.tts, m.cfg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	slog.Info("session started", "session", s.ID, "deck", deck.ID, "mode", deck.Mode, "items", len(deck.Items))
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close ends and forgets the session with id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	slog.Info("session closed", "session", id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll ends every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
