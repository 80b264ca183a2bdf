package device

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/speech"
)

// connect attaches a test client to b and sends its hello frame.
func connect(t *testing.T, b *Bridge, voices ...speech.Voice) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	writeFrame(t, conn, Frame{Type: TypeHello, Voices: voices})
	waitFor(t, "hello", func() bool {
		got, err := b.Voices(context.Background())
		return err == nil && len(got) == len(voices)
	})
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var f Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, f); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	var zero T
	return zero
}

func TestUnavailableWithoutClient(t *testing.T) {
	b := New()
	ctx := t.Context()

	if _, err := b.Voices(ctx); !errors.Is(err, speech.ErrUnavailable) {
		t.Errorf("Voices = %v", err)
	}
	if err := b.Speak(ctx, speech.Utterance{Text: "x"}); !errors.Is(err, speech.ErrUnavailable) {
		t.Errorf("Speak = %v", err)
	}
	if err := b.Play(ctx, model.Asset{Data: []byte{1}}); !errors.Is(err, speech.ErrUnavailable) {
		t.Errorf("Play = %v", err)
	}
	if _, err := b.Recognize(ctx, "zh-HK"); !errors.Is(err, speech.ErrUnavailable) {
		t.Errorf("Recognize = %v", err)
	}
	if err := b.PushState(ctx, map[string]int{"index": 0}); !errors.Is(err, speech.ErrUnavailable) {
		t.Errorf("PushState = %v", err)
	}
	b.Notify(model.Notice{Kind: model.NoticeSpeechUnavailable})
	if b.Connected() {
		t.Error("bridge should not be connected")
	}
}

func TestHelloVoices(t *testing.T) {
	b := New()
	connect(t, b, speech.Voice{Name: "Sin-ji", Lang: "zh-HK"}, speech.Voice{Name: "Samantha", Lang: "en-US", Default: true})

	voices, err := b.Voices(t.Context())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 2 || voices[0].Name != "Sin-ji" || !voices[1].Default {
		t.Errorf("voices = %+v", voices)
	}
}

func TestSpeakRoundTrip(t *testing.T) {
	b := New()
	conn := connect(t, b)

	result := make(chan error, 1)
	go func() {
		result <- b.Speak(context.Background(), speech.Utterance{ID: "u1", Text: "獅子", Lang: "zh-HK", Voice: "Sin-ji", Rate: 0.8})
	}()

	f := readFrame(t, conn)
	if f.Type != TypeSpeak || f.ID != "u1" || f.Text != "獅子" || f.Lang != "zh-HK" || f.Voice != "Sin-ji" || f.Rate != 0.8 {
		t.Fatalf("frame = %+v", f)
	}
	writeFrame(t, conn, Frame{Type: TypeSpeechEnd, ID: "u1"})
	if err := recv(t, result); err != nil {
		t.Errorf("Speak = %v", err)
	}
}

func TestSpeakClientError(t *testing.T) {
	b := New()
	conn := connect(t, b)

	result := make(chan error, 1)
	go func() { result <- b.Speak(context.Background(), speech.Utterance{Text: "x"}) }()

	f := readFrame(t, conn)
	if f.ID == "" {
		t.Fatal("utterance id should be assigned")
	}
	writeFrame(t, conn, Frame{Type: TypeSpeechEnd, ID: "unrelated"})
	writeFrame(t, conn, Frame{Type: TypeSpeechEnd, ID: f.ID, Error: "synthesis-failed"})
	err := recv(t, result)
	if err == nil || !strings.Contains(err.Error(), "synthesis-failed") {
		t.Errorf("Speak = %v", err)
	}
}

func TestSpeakCancel(t *testing.T) {
	b := New()
	conn := connect(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- b.Speak(ctx, speech.Utterance{ID: "u2", Text: "x"}) }()

	if f := readFrame(t, conn); f.Type != TypeSpeak {
		t.Fatalf("frame = %+v", f)
	}
	cancel()
	if err := recv(t, result); !errors.Is(err, context.Canceled) {
		t.Errorf("Speak = %v", err)
	}
	if f := readFrame(t, conn); f.Type != TypeCancelSpeech || f.ID != "u2" {
		t.Errorf("frame = %+v, want cancel_speech", f)
	}
}

func TestDisconnectFailsPending(t *testing.T) {
	b := New()
	conn := connect(t, b)

	result := make(chan error, 1)
	go func() { result <- b.Speak(context.Background(), speech.Utterance{Text: "x"}) }()
	readFrame(t, conn)

	conn.Close(websocket.StatusNormalClosure, "bye")
	if err := recv(t, result); !errors.Is(err, speech.ErrUnavailable) {
		t.Errorf("Speak = %v", err)
	}
	waitFor(t, "detach", func() bool { return !b.Connected() })
}

func TestPlayAudio(t *testing.T) {
	b := New()
	conn := connect(t, b)

	result := make(chan error, 1)
	go func() {
		result <- b.Play(context.Background(), model.Asset{MIMEType: "audio/mpeg", Data: []byte("ID3\x00mp3")})
	}()

	f := readFrame(t, conn)
	if f.Type != TypePlayAudio || f.MIME != "audio/mpeg" || string(f.Data) != "ID3\x00mp3" {
		t.Fatalf("frame = %+v", f)
	}
	writeFrame(t, conn, Frame{Type: TypeAudioEnd, ID: f.ID})
	if err := recv(t, result); err != nil {
		t.Errorf("Play = %v", err)
	}
}

func TestRecognize(t *testing.T) {
	b := New()
	conn := connect(t, b)

	events, err := b.Recognize(t.Context(), "zh-TW")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if f := readFrame(t, conn); f.Type != TypeListen || f.Lang != "zh-TW" {
		t.Fatalf("frame = %+v", f)
	}

	alt := func(s string) []speech.RecognitionResult {
		return []speech.RecognitionResult{{Alternatives: []speech.Alternative{{Transcript: s}}}}
	}
	writeFrame(t, conn, Frame{Type: TypeRecognitionResult, Results: alt("你好")})
	writeFrame(t, conn, Frame{Type: TypeRecognitionResult, Results: alt("你好嗎")})
	writeFrame(t, conn, Frame{Type: TypeRecognitionEnd})

	var got []string
	for ev := range events {
		got = append(got, speech.TopTranscript(ev.Results))
	}
	if len(got) != 2 || got[1] != "你好嗎" {
		t.Errorf("events = %v", got)
	}
}

func TestRecognizeError(t *testing.T) {
	b := New()
	conn := connect(t, b)

	events, err := b.Recognize(t.Context(), "zh-HK")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	readFrame(t, conn)
	writeFrame(t, conn, Frame{Type: TypeRecognitionError, Error: "no-speech"})

	ev := recv(t, events)
	if ev.Err == nil || ev.Err.Error() != "no-speech" {
		t.Errorf("event = %+v", ev)
	}
	if _, ok := <-events; ok {
		t.Error("stream should close after an error")
	}
}

func TestRecognizeStop(t *testing.T) {
	b := New()
	conn := connect(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := b.Recognize(ctx, "en-US")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	readFrame(t, conn)
	cancel()

	if f := readFrame(t, conn); f.Type != TypeStopListening {
		t.Errorf("frame = %+v, want stop_listening", f)
	}
	for range events {
	}
}

func TestNotifyAndState(t *testing.T) {
	b := New()
	conn := connect(t, b)

	b.Notify(model.Notice{Kind: model.NoticeRecognitionUnavailable, Text: "no mic"})
	if f := readFrame(t, conn); f.Type != TypeNotice || f.Kind != "recognition_unavailable" || f.Text != "no mic" {
		t.Errorf("frame = %+v", f)
	}

	if err := b.PushState(t.Context(), map[string]any{"index": 1}); err != nil {
		t.Fatalf("PushState: %v", err)
	}
	f := readFrame(t, conn)
	st, ok := f.State.(map[string]any)
	if f.Type != TypeState || !ok || st["index"] != float64(1) {
		t.Errorf("frame = %+v", f)
	}
}

func TestInputOverBridge(t *testing.T) {
	b := New()
	conn := connect(t, b)
	in := speech.NewInput(b, speech.NewFocus(nil), nil, [3]string{"zh-HK", "zh-TW", "en-US"})

	if err := in.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	readFrame(t, conn)
	writeFrame(t, conn, Frame{Type: TypeRecognitionResult, Results: []speech.RecognitionResult{
		{Alternatives: []speech.Alternative{{Transcript: "你好"}}, IsFinal: true},
		{Alternatives: []speech.Alternative{{Transcript: "嗎"}}},
	}})
	writeFrame(t, conn, Frame{Type: TypeRecognitionEnd})
	in.Wait()

	if got := in.Transcript(); got != "你好嗎" {
		t.Errorf("Transcript = %q", got)
	}
}
