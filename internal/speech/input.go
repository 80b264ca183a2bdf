package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/pavelanni/dictation/internal/model"
)

// Input captures spoken answers into a transcript buffer.
//
// The recognition language rotates over three tags: the dialect, the
// standard language and one additional language. Starting input takes the
// audio focus, which silences any local speech (barge-in); starting local
// speech in turn ends the capture.
type Input struct {
	rec      Recognizer
	focus    *Focus
	notifier Notifier
	langs    [3]string
	onChange func(string)

	mu         sync.Mutex
	langIdx    int
	listening  bool
	starting   bool
	lease      *Lease
	transcript string
	done       chan struct{}
}

// InputOption configures an Input.
type InputOption func(*Input)

// WithTranscriptObserver registers fn to be called with the transcript after
// every recognition event.
func WithTranscriptObserver(fn func(string)) InputOption {
	return func(in *Input) { in.onChange = fn }
}

// NewInput creates an Input. rec may be nil, in which case Start surfaces a
// recognition-unavailable notice.
func NewInput(rec Recognizer, focus *Focus, n Notifier, langs [3]string, opts ...InputOption) *Input {
	in := &Input{rec: rec, focus: focus, notifier: n, langs: langs}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Start begins capturing in the current language. Starting while already
// listening returns ErrAlreadyListening; callers stop first. A recognizer that
// fails to start ends listening without surfacing anything.
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.listening || in.starting {
		in.mu.Unlock()
		return ErrAlreadyListening
	}
	if in.rec == nil {
		in.mu.Unlock()
		notify(in.notifier, model.NoticeRecognitionUnavailable)
		return ErrUnavailable
	}
	in.starting = true
	lang := in.langs[in.langIdx]
	in.mu.Unlock()

	// Recognize may wait on the device; state readers must not.
	lease := in.focus.Acquire(ctx, OwnerInput)
	events, err := in.rec.Recognize(lease.Context(), lang)

	in.mu.Lock()
	in.starting = false
	if err != nil {
		in.mu.Unlock()
		lease.Release()
		if errors.Is(err, ErrUnavailable) {
			notify(in.notifier, model.NoticeRecognitionUnavailable)
			return err
		}
		slog.Debug("recognition did not start", "lang", lang, "error", err)
		return nil
	}
	in.listening = true
	in.lease = lease
	in.transcript = ""
	in.done = make(chan struct{})
	go in.consume(lease, events, in.done)
	in.mu.Unlock()
	return nil
}

func (in *Input) consume(lease *Lease, events <-chan RecognitionEvent, done chan struct{}) {
	defer close(done)
	defer lease.Release()
	defer func() {
		in.mu.Lock()
		if in.lease == lease {
			in.listening = false
			in.lease = nil
		}
		in.mu.Unlock()
	}()

	ctx := lease.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Err != nil {
				slog.Debug("recognition ended with error", "error", ev.Err)
				return
			}
			text := TopTranscript(ev.Results)
			in.mu.Lock()
			in.transcript = text
			in.mu.Unlock()
			if in.onChange != nil {
				in.onChange(text)
			}
		}
	}
}

// Stop ends the capture and waits for it to wind down. It is a no-op when not
// listening.
func (in *Input) Stop() {
	in.mu.Lock()
	lease, done := in.lease, in.done
	listening := in.listening
	in.mu.Unlock()
	if !listening {
		return
	}
	lease.Release()
	<-done
}

// Toggle starts listening when idle and stops otherwise. It reports whether
// input is listening afterwards.
func (in *Input) Toggle(ctx context.Context) (bool, error) {
	if in.Listening() {
		in.Stop()
		return false, nil
	}
	if err := in.Start(ctx); err != nil {
		return false, err
	}
	return in.Listening(), nil
}

// RotateLanguage advances to the next recognition language and returns it.
// A capture in progress keeps its language.
func (in *Input) RotateLanguage() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.langIdx = (in.langIdx + 1) % len(in.langs)
	return in.langs[in.langIdx]
}

// Language returns the current recognition language.
func (in *Input) Language() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.langs[in.langIdx]
}

// Transcript returns the current transcript buffer.
func (in *Input) Transcript() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.transcript
}

// Listening reports whether a capture is active.
func (in *Input) Listening() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.listening
}

// Wait blocks until the current capture, if any, has ended.
func (in *Input) Wait() {
	in.mu.Lock()
	done := in.done
	in.mu.Unlock()
	if done != nil {
		<-done
	}
}

// TopTranscript concatenates the best alternative of every result in order.
func TopTranscript(results []RecognitionResult) string {
	var sb strings.Builder
	for _, r := range results {
		if len(r.Alternatives) > 0 {
			sb.WriteString(r.Alternatives[0].Transcript)
		}
	}
	return sb.String()
}
