// Package dialogue implements the practice assistant: a bounded chat over the
// session's items, with replies optionally read aloud.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/dictation/internal/llm/prompts"
	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/speech"
)

// HistoryWindow is how many trailing turns accompany a new message.
const HistoryWindow = 5

// DefaultFallback is the reply used when the backend fails and no localized
// text was configured.
const DefaultFallback = "Sorry, I can't answer right now. Please try again."

// Backend produces a reply. *llm.Client satisfies it.
type Backend interface {
	Chat(ctx context.Context, system string, history []model.ChatMessage, message string) (string, error)
}

// AssetPlayer plays rendered replies. *speech.Output satisfies it.
type AssetPlayer interface {
	PlayAsset(ctx context.Context, a model.Asset) error
}

// SessionContext is what the assistant knows about the practice session.
type SessionContext struct {
	Mode    model.Mode
	Current model.DictationItem
	Items   []model.DictationItem
}

// String renders the context as the free text placed in the system prompt.
func (sc SessionContext) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Mode: %s\n", sc.Mode)
	fmt.Fprintf(&sb, "Current item: %s\n", sc.Current.Content)
	fmt.Fprintf(&sb, "Current meaning: %s\n", sc.Current.Meaning)
	sb.WriteString("All items: ")
	for i, it := range sc.Items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(it.Content)
	}
	return sb.String()
}

// Service owns the append-only chat log of one session.
type Service struct {
	backend  Backend
	timeout  time.Duration
	fallback string
	focus    *speech.Focus

	synth         speech.AssetSynthesizer
	player        AssetPlayer
	speechTimeout time.Duration
	base          context.Context

	mu  sync.Mutex
	log []model.ChatMessage
	wg  sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithFallback sets the reply used when the backend fails.
func WithFallback(text string) Option {
	return func(s *Service) {
		if text != "" {
			s.fallback = text
		}
	}
}

// WithFocus shows the thinking avatar while a reply is pending.
func WithFocus(f *speech.Focus) Option {
	return func(s *Service) { s.focus = f }
}

// WithSpeech renders replies with synth and plays them through player.
// timeout bounds rendering and playback separately.
func WithSpeech(synth speech.AssetSynthesizer, player AssetPlayer, timeout time.Duration) Option {
	return func(s *Service) {
		s.synth = synth
		s.player = player
		s.speechTimeout = timeout
	}
}

// WithContext scopes background playback to ctx.
func WithContext(ctx context.Context) Option {
	return func(s *Service) { s.base = ctx }
}

// New creates a dialogue service.
func New(b Backend, opts ...Option) *Service {
	s := &Service{backend: b, fallback: DefaultFallback}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send appends the user's message, asks the backend for a reply and appends
// it. The reply is never empty: backend failures produce the fallback text.
func (s *Service) Send(ctx context.Context, text string, sc SessionContext) model.ChatMessage {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	history := window(s.log, HistoryWindow)
	s.mu.Unlock()
	s.append(model.RoleUser, text, nil)

	reply := s.reply(ctx, text, sc, history)

	var audio *model.Asset
	if s.synth != nil && s.player != nil {
		audio = s.render(ctx, reply)
	}
	msg := s.append(model.RoleModel, reply, audio)
	if audio != nil {
		s.play(*audio)
	}
	return msg
}

func (s *Service) reply(ctx context.Context, text string, sc SessionContext, history []model.ChatMessage) string {
	system, err := prompts.BuildChatPrompt(sc.String())
	if err != nil {
		slog.Error("build chat prompt", "error", err)
		return s.fallback
	}

	if s.focus != nil {
		defer s.focus.Think()()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := s.backend.Chat(ctx, system, history, text)
	if err != nil {
		slog.Warn("chat backend failed", "error", err, "elapsed", time.Since(start))
		return s.fallback
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return s.fallback
	}
	slog.Debug("chat reply", "history", len(history), "elapsed", time.Since(start))
	return reply
}

func (s *Service) render(ctx context.Context, text string) *model.Asset {
	if s.speechTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.speechTimeout)
		defer cancel()
	}
	a, err := s.synth.Synthesize(ctx, text)
	if err != nil || a.Empty() {
		slog.Debug("reply audio skipped", "error", err)
		return nil
	}
	return &a
}

func (s *Service) play(a model.Asset) {
	base := s.base
	if base == nil {
		base = context.Background()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := base
		if s.speechTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(base, s.speechTimeout)
			defer cancel()
		}
		if err := s.player.PlayAsset(ctx, a); err != nil {
			slog.Debug("reply playback skipped", "error", err)
		}
	}()
}

// Announce appends a message from the assistant without asking the backend.
func (s *Service) Announce(text string) {
	s.append(model.RoleModel, text, nil)
}

func (s *Service) append(role model.ChatRole, text string, audio *model.Asset) model.ChatMessage {
	msg := model.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Audio:     audio,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.log = append(s.log, msg)
	s.mu.Unlock()
	return msg
}

// History returns a copy of the full chat log in order.
func (s *Service) History() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage(nil), s.log...)
}

// Wait blocks until background reply playback has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func window(log []model.ChatMessage, n int) []model.ChatMessage {
	if len(log) > n {
		log = log[len(log)-n:]
	}
	return append([]model.ChatMessage(nil), log...)
}
