// Package session wires the practice engine for one deck: the controller, the
// speech adapters over a device bridge, and the assistant.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/dictation/internal/device"
	"github.com/pavelanni/dictation/internal/dialogue"
	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/practice"
	"github.com/pavelanni/dictation/internal/speech"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Config holds the per-session knobs.
type Config struct {
	ReadingLang      string
	RecognitionLangs [3]string
	ChatTimeout      time.Duration
	SpeechTimeout    time.Duration
	IdiomPause       time.Duration
	SpeakReplies     bool

	// Localized texts used by the engine.
	Fallback        string
	Congratulations string
	NoticeText      func(model.NoticeKind) string

	Bridge []device.Option
}

// Snapshot is the client-facing view of a session.
type Snapshot struct {
	ID         string              `json:"id"`
	DeckID     int64               `json:"deck_id"`
	Mode       model.Mode          `json:"mode"`
	State      practice.State      `json:"state"`
	Item       model.DictationItem `json:"item"`
	Avatar     speech.AvatarState  `json:"avatar"`
	Listening  bool                `json:"listening"`
	Language   string              `json:"language"`
	Transcript string              `json:"transcript"`
	Connected  bool                `json:"connected"`
	Notices    []model.Notice      `json:"notices,omitempty"`
}

// Session is one practice run over a deck. It is discarded on Close.
type Session struct {
	ID      string
	DeckID  int64
	Created time.Time

	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	focus    *speech.Focus
	bridge   *device.Bridge
	output   *speech.Output
	input    *speech.Input
	dialogue *dialogue.Service
	ctrl     *practice.Controller

	mu      sync.Mutex
	notices []model.Notice

	changed chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func newSession(deck model.Deck, chat dialogue.Backend, tts speech.AssetSynthesizer, cfg Config) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      uuid.NewString(),
		DeckID:  deck.ID,
		Created: time.Now(),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		changed: make(chan struct{}, 1),
	}

	s.focus = speech.NewFocus(func(speech.AvatarState) { s.touch() })
	s.bridge = device.New(cfg.Bridge...)
	s.output = speech.NewOutput(s.bridge, s.focus, s, cfg.ReadingLang,
		speech.WithAssetPlayer(s.bridge),
		speech.WithPause(cfg.IdiomPause),
	)
	s.input = speech.NewInput(s.bridge, s.focus, s, cfg.RecognitionLangs,
		speech.WithTranscriptObserver(func(string) { s.touch() }),
	)

	opts := []dialogue.Option{
		dialogue.WithTimeout(cfg.ChatTimeout),
		dialogue.WithFallback(cfg.Fallback),
		dialogue.WithFocus(s.focus),
		dialogue.WithContext(ctx),
	}
	if cfg.SpeakReplies && tts != nil {
		opts = append(opts, dialogue.WithSpeech(tts, s.output, cfg.SpeechTimeout))
	}
	s.dialogue = dialogue.New(chat, opts...)

	ctrl, err := practice.NewController(deck.Mode, deck.Items, s.output,
		practice.WithAnnouncer(s.dialogue, cfg.Congratulations),
		practice.WithObserver(func(practice.State) { s.touch() }),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("new session: %w", err)
	}
	s.ctrl = ctrl

	s.wg.Add(1)
	go s.pushLoop()
	return s, nil
}

// touch schedules a state push to the device. Pushes coalesce.
func (s *Session) touch() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Session) pushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.changed:
			if !s.bridge.Connected() {
				continue
			}
			if err := s.bridge.PushState(s.ctx, s.Snapshot(false)); err != nil {
				slog.Debug("push session state", "session", s.ID, "error", err)
			}
		}
	}
}

// Notify queues a notice for the next response and pushes it to the device.
func (s *Session) Notify(n model.Notice) {
	if n.Text == "" && s.cfg.NoticeText != nil {
		n.Text = s.cfg.NoticeText(n.Kind)
	}
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
	s.bridge.Notify(n)
}

// Snapshot returns the current view. With drain set, pending notices are
// included and cleared.
func (s *Session) Snapshot(drain bool) Snapshot {
	snap := Snapshot{
		ID:         s.ID,
		DeckID:     s.DeckID,
		Mode:       s.ctrl.Mode(),
		State:      s.ctrl.State(),
		Item:       s.ctrl.Current(),
		Avatar:     s.focus.State(),
		Listening:  s.input.Listening(),
		Language:   s.input.Language(),
		Transcript: s.input.Transcript(),
		Connected:  s.bridge.Connected(),
	}
	if drain {
		s.mu.Lock()
		snap.Notices = s.notices
		s.notices = nil
		s.mu.Unlock()
	}
	return snap
}

// Items returns the session's item list.
func (s *Session) Items() []model.DictationItem { return s.ctrl.Items() }

// Reveal shows the current item.
func (s *Session) Reveal() practice.State { return s.ctrl.Reveal() }

// Advance moves to the next item or finishes the session.
func (s *Session) Advance() practice.State { return s.ctrl.Advance() }

// Play reads the current item. It returns immediately.
func (s *Session) Play() *speech.Playback { return s.ctrl.Play(s.ctx) }

// Replay reads the revealed item again.
func (s *Session) Replay() (*speech.Playback, error) { return s.ctrl.Replay(s.ctx) }

// ToggleListening starts or stops speech input.
func (s *Session) ToggleListening() (bool, error) {
	on, err := s.input.Toggle(s.ctx)
	s.touch()
	return on, err
}

// RotateLanguage switches to the next recognition language.
func (s *Session) RotateLanguage() string {
	lang := s.input.RotateLanguage()
	s.touch()
	return lang
}

// Chat sends text to the assistant with the current session context.
func (s *Session) Chat(ctx context.Context, text string) model.ChatMessage {
	msg := s.dialogue.Send(ctx, text, dialogue.SessionContext{
		Mode:    s.ctrl.Mode(),
		Current: s.ctrl.Current(),
		Items:   s.ctrl.Items(),
	})
	s.touch()
	return msg
}

// History returns the chat log.
func (s *Session) History() []model.ChatMessage { return s.dialogue.History() }

// Device returns the handler serving the device WebSocket.
func (s *Session) Device() http.Handler { return s.bridge }

// Close stops all audio, disconnects the device and waits for background work.
func (s *Session) Close() {
	s.once.Do(func() {
		s.input.Stop()
		s.cancel()
		s.bridge.Close()
		s.output.Wait()
		s.dialogue.Wait()
		s.wg.Wait()
	})
}
