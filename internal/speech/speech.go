// Package speech defines the audio capabilities a practice session depends on
// and the adapters that sequence them.
//
// A capability is anything that can make sound or hear the learner: a
// browser's local voices and recognizer reached over the device bridge, a
// remote text-to-speech endpoint, or a recording fake in tests. The adapters in
// this package (Output, Input) own the policy around those capabilities: voice
// selection, cancellation via a single shared audio focus, and transcript
// buffering. Every capability call takes a context; cancelling it must stop the
// in-flight utterance or recognition promptly.
package speech

import (
	"context"
	"errors"

	"github.com/pavelanni/dictation/internal/model"
)

var (
	// ErrUnavailable is returned by a capability that has no backend to talk
	// to, such as a device bridge with no connected client.
	ErrUnavailable = errors.New("speech backend unavailable")

	// ErrAlreadyListening is returned by Input.Start while a capture is active.
	ErrAlreadyListening = errors.New("already listening")
)

// Voice is one locally installed synthesis voice.
type Voice struct {
	// Name identifies the voice to the synthesizer.
	Name string `json:"name"`
	// Lang is the voice's locale tag as reported by the device, e.g. "zh-HK".
	Lang string `json:"lang"`
	// Default marks the device's default voice.
	Default bool `json:"default,omitempty"`
}

// Utterance is one piece of text to be spoken by a local voice.
type Utterance struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Lang  string  `json:"lang"`
	Voice string  `json:"voice,omitempty"`
	Rate  float64 `json:"rate"`
}

// Alternative is one candidate transcript for a recognition result.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// RecognitionResult is one recognized segment. Alternatives are ordered best
// first.
type RecognitionResult struct {
	Alternatives []Alternative `json:"alternatives"`
	IsFinal      bool          `json:"isFinal"`
}

// RecognitionEvent carries the recognizer's full current result list, or the
// error that ended recognition.
type RecognitionEvent struct {
	Results []RecognitionResult
	Err     error
}

// Synthesizer renders text with a local voice.
type Synthesizer interface {
	// Voices lists the voices currently installed on the device.
	Voices(ctx context.Context) ([]Voice, error)

	// Speak plays u and returns when it has finished, failed, or ctx was
	// cancelled. A cancelled utterance must stop being audible.
	Speak(ctx context.Context, u Utterance) error
}

// Recognizer captures spoken input.
type Recognizer interface {
	// Recognize starts capturing speech in lang. Each event on the returned
	// channel carries the complete current result list. The channel is closed
	// when recognition ends, either on its own or because ctx was cancelled.
	Recognize(ctx context.Context, lang string) (<-chan RecognitionEvent, error)
}

// AssetPlayer plays pre-rendered audio through the shared output context.
type AssetPlayer interface {
	// Play returns when playback has finished, failed, or ctx was cancelled.
	Play(ctx context.Context, a model.Asset) error
}

// AssetSynthesizer renders text to an encoded audio payload remotely.
// *llm.Client satisfies it.
type AssetSynthesizer interface {
	Synthesize(ctx context.Context, text string) (model.Asset, error)
}

// Notifier surfaces a non-blocking notice to the user.
type Notifier interface {
	Notify(n model.Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(model.Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n model.Notice) { f(n) }

func notify(n Notifier, kind model.NoticeKind) {
	if n != nil {
		n.Notify(model.Notice{Kind: kind})
	}
}
