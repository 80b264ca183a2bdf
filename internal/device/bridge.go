// Package device bridges a browser's local speech capabilities to the server.
//
// The browser holds the voices, the recognizer and the audio output. It
// connects one WebSocket per practice session and exchanges JSON frames with a
// Bridge, which in turn implements the speech capability interfaces for the
// session engine. While no client is connected every capability reports
// speech.ErrUnavailable.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/speech"
)

var (
	_ speech.Synthesizer = (*Bridge)(nil)
	_ speech.Recognizer  = (*Bridge)(nil)
	_ speech.AssetPlayer = (*Bridge)(nil)
	_ speech.Notifier    = (*Bridge)(nil)
)

const defaultWriteTimeout = 5 * time.Second

// streamBuffer is how many recognition events may queue before the oldest is
// dropped. Every event carries the full result list, so dropping is lossless
// for the final transcript.
const streamBuffer = 8

// Bridge is the server side of one device channel.
type Bridge struct {
	writeTimeout time.Duration
	accept       *websocket.AcceptOptions

	mu      sync.Mutex
	conn    *websocket.Conn
	gen     uint64
	voices  []speech.Voice
	pending map[string]chan error
	stream  *stream
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithWriteTimeout bounds every frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.writeTimeout = d }
}

// WithAcceptOptions sets the WebSocket handshake options, e.g. allowed origins.
func WithAcceptOptions(o *websocket.AcceptOptions) Option {
	return func(b *Bridge) { b.accept = o }
}

// New creates a bridge with no client attached.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		writeTimeout: defaultWriteTimeout,
		pending:      make(map[string]chan error),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
// A new client replaces the previous one.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, b.accept)
	if err != nil {
		slog.Warn("device handshake failed", "error", err)
		return
	}
	if err := b.Serve(r.Context(), conn); err != nil {
		slog.Debug("device disconnected", "error", err)
	}
}

// Serve reads frames from conn until it closes or ctx is done.
func (b *Bridge) Serve(ctx context.Context, conn *websocket.Conn) error {
	gen := b.attach(conn)
	defer b.detach(gen)

	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		b.dispatch(f)
	}
}

func (b *Bridge) attach(conn *websocket.Conn) uint64 {
	b.mu.Lock()
	old := b.conn
	b.gen++
	gen := b.gen
	b.conn = conn
	b.voices = nil
	b.failPendingLocked(speech.ErrUnavailable)
	b.endStreamLocked(nil)
	b.mu.Unlock()

	if old != nil {
		old.Close(websocket.StatusPolicyViolation, "replaced by a new client")
	}
	slog.Info("device connected")
	return gen
}

func (b *Bridge) detach(gen uint64) {
	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return
	}
	conn := b.conn
	b.conn = nil
	b.voices = nil
	b.failPendingLocked(speech.ErrUnavailable)
	b.endStreamLocked(nil)
	b.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	slog.Info("device detached")
}

func (b *Bridge) failPendingLocked(err error) {
	for id, ch := range b.pending {
		ch <- err
		delete(b.pending, id)
	}
}

func (b *Bridge) endStreamLocked(err error) {
	if b.stream == nil {
		return
	}
	if err != nil {
		b.stream.push(speech.RecognitionEvent{Err: err})
	}
	b.stream.close()
	b.stream = nil
}

func (b *Bridge) dispatch(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch f.Type {
	case TypeHello:
		b.voices = append([]speech.Voice(nil), f.Voices...)
		slog.Debug("device voices", "count", len(f.Voices))
	case TypeSpeechEnd, TypeAudioEnd:
		ch, ok := b.pending[f.ID]
		if !ok {
			return
		}
		delete(b.pending, f.ID)
		if f.Error != "" {
			ch <- fmt.Errorf("%s: %s", f.Type, f.Error)
			return
		}
		ch <- nil
	case TypeRecognitionResult:
		if b.stream != nil {
			b.stream.push(speech.RecognitionEvent{Results: f.Results})
		}
	case TypeRecognitionError:
		b.endStreamLocked(errors.New(f.Error))
	case TypeRecognitionEnd:
		b.endStreamLocked(nil)
	default:
		slog.Warn("unknown device frame", "type", f.Type)
	}
}

// Close disconnects the current client, if any.
func (b *Bridge) Close() {
	b.mu.Lock()
	gen := b.gen
	b.mu.Unlock()
	b.detach(gen)
}

// Connected reports whether a client is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *Bridge) write(ctx context.Context, f Frame) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return speech.ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

// Voices returns the voices the client announced in its hello frame.
func (b *Bridge) Voices(_ context.Context) ([]speech.Voice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil, speech.ErrUnavailable
	}
	return append([]speech.Voice(nil), b.voices...), nil
}

// Speak asks the client to speak u and waits for its speech_end frame.
func (b *Bridge) Speak(ctx context.Context, u speech.Utterance) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return b.roundTrip(ctx, Frame{
		Type:  TypeSpeak,
		ID:    u.ID,
		Text:  u.Text,
		Lang:  u.Lang,
		Voice: u.Voice,
		Rate:  u.Rate,
	}, TypeCancelSpeech)
}

// Play sends a to the client and waits for its audio_end frame.
func (b *Bridge) Play(ctx context.Context, a model.Asset) error {
	return b.roundTrip(ctx, Frame{
		Type: TypePlayAudio,
		ID:   uuid.NewString(),
		MIME: a.MIMEType,
		Data: a.Data,
	}, TypeStopAudio)
}

func (b *Bridge) roundTrip(ctx context.Context, f Frame, cancelType string) error {
	done := make(chan error, 1)
	b.mu.Lock()
	if b.conn == nil {
		b.mu.Unlock()
		return speech.ErrUnavailable
	}
	b.pending[f.ID] = done
	b.mu.Unlock()

	if err := b.write(ctx, f); err != nil {
		b.forget(f.ID)
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		b.forget(f.ID)
		// The request context is gone; the cancel frame still has to go out.
		if err := b.write(context.WithoutCancel(ctx), Frame{Type: cancelType, ID: f.ID}); err != nil {
			slog.Debug("send cancel", "type", cancelType, "error", err)
		}
		return ctx.Err()
	}
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Recognize asks the client to start recognition in lang. An earlier stream
// still open is ended first.
func (b *Bridge) Recognize(ctx context.Context, lang string) (<-chan speech.RecognitionEvent, error) {
	b.mu.Lock()
	if b.conn == nil {
		b.mu.Unlock()
		return nil, speech.ErrUnavailable
	}
	b.endStreamLocked(nil)
	s := newStream()
	b.stream = s
	b.mu.Unlock()

	if err := b.write(ctx, Frame{Type: TypeListen, Lang: lang}); err != nil {
		b.dropStream(s)
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
			return
		}
		if b.dropStream(s) {
			if err := b.write(context.WithoutCancel(ctx), Frame{Type: TypeStopListening}); err != nil {
				slog.Debug("send stop_listening", "error", err)
			}
		}
	}()
	return s.ch, nil
}

// dropStream ends s if it is still the active stream.
func (b *Bridge) dropStream(s *stream) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream != s {
		return false
	}
	b.endStreamLocked(nil)
	return true
}

// Notify pushes a notice to the client. Notices are dropped while no client
// is connected.
func (b *Bridge) Notify(n model.Notice) {
	err := b.write(context.Background(), Frame{Type: TypeNotice, Kind: string(n.Kind), Text: n.Text})
	if err != nil && !errors.Is(err, speech.ErrUnavailable) {
		slog.Warn("push notice", "kind", n.Kind, "error", err)
	}
}

// PushState sends a state snapshot to the client.
func (b *Bridge) PushState(ctx context.Context, state any) error {
	return b.write(ctx, Frame{Type: TypeState, State: state})
}

type stream struct {
	mu     sync.Mutex
	ch     chan speech.RecognitionEvent
	done   chan struct{}
	closed bool
}

func newStream() *stream {
	return &stream{
		ch:   make(chan speech.RecognitionEvent, streamBuffer),
		done: make(chan struct{}),
	}
}

func (s *stream) push(ev speech.RecognitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	close(s.done)
}
