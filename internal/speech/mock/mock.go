// Package mock provides recording test doubles for the speech capabilities.
//
// Every double is safe for concurrent use. Configure the exported result and
// error fields before handing the double to the code under test, then inspect
// the recorded calls through the accessor methods.
//
// Example:
//
//	synth := &mock.Synthesizer{VoicesResult: []speech.Voice{{Name: "Sin-ji", Lang: "zh-HK"}}}
//	out := speech.NewOutput(synth, speech.NewFocus(nil), nil, "zh-HK")
//	<-out.Speak(ctx, speech.Utterance{Text: "獅子"}).Done()
//	calls := synth.Calls()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/speech"
)

var (
	_ speech.Synthesizer      = (*Synthesizer)(nil)
	_ speech.Recognizer       = (*Recognizer)(nil)
	_ speech.AssetPlayer      = (*Player)(nil)
	_ speech.AssetSynthesizer = (*AssetSynthesizer)(nil)
	_ speech.Notifier         = (*Notifier)(nil)
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	// Utterance is the utterance passed to Speak.
	Utterance speech.Utterance
	// Started is when Speak was entered.
	Started time.Time
	// Ended is when Speak returned.
	Ended time.Time
	// Err is the error Speak returned.
	Err error
}

// Synthesizer is a mock implementation of speech.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// VoicesResult is returned by Voices.
	VoicesResult []speech.Voice

	// VoicesErr, if non-nil, is returned as the error from Voices.
	VoicesErr error

	// SpeakErr, if non-nil, is returned by every Speak call.
	SpeakErr error

	// SpeakErrs, if set, maps an utterance text to the error Speak returns
	// for it. It takes precedence over SpeakErr.
	SpeakErrs map[string]error

	// Duration is how long each utterance "plays". Speak returns early with
	// ctx.Err() when ctx is cancelled first.
	Duration time.Duration

	// Hold, if non-nil, makes Speak block until Hold is closed or ctx is
	// cancelled.
	Hold chan struct{}

	calls []SpeakCall
}

// Voices returns VoicesResult, VoicesErr.
func (s *Synthesizer) Voices(_ context.Context) ([]speech.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.VoicesErr != nil {
		return nil, s.VoicesErr
	}
	out := make([]speech.Voice, len(s.VoicesResult))
	copy(out, s.VoicesResult)
	return out, nil
}

// Speak records the call and simulates playback.
func (s *Synthesizer) Speak(ctx context.Context, u speech.Utterance) error {
	s.mu.Lock()
	idx := len(s.calls)
	s.calls = append(s.calls, SpeakCall{Utterance: u, Started: time.Now()})
	hold, d := s.Hold, s.Duration
	err := s.SpeakErr
	if e, ok := s.SpeakErrs[u.Text]; ok {
		err = e
	}
	s.mu.Unlock()

	if err == nil {
		err = wait(ctx, hold, d)
	}

	s.mu.Lock()
	s.calls[idx].Ended = time.Now()
	s.calls[idx].Err = err
	s.mu.Unlock()
	return err
}

// Calls returns a copy of every Speak call in order.
func (s *Synthesizer) Calls() []SpeakCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SpeakCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Texts returns the text of every spoken utterance in order.
func (s *Synthesizer) Texts() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Utterance.Text
	}
	return out
}

func wait(ctx context.Context, hold chan struct{}, d time.Duration) error {
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	// Ctx is the context passed to Recognize.
	Ctx context.Context
	// Lang is the recognition language.
	Lang string
}

// Recognizer is a mock implementation of speech.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Script is the sequence of events emitted on every stream.
	Script []speech.RecognitionEvent

	// KeepOpen keeps the stream open after Script until ctx is cancelled.
	// Otherwise the stream closes right after the last scripted event.
	KeepOpen bool

	// RecognizeErr, if non-nil, is returned from Recognize instead of a stream.
	RecognizeErr error

	// Hold, if non-nil, makes Recognize block until Hold is closed or ctx is
	// cancelled, as a slow device handshake would.
	Hold chan struct{}

	calls []RecognizeCall
}

// Recognize records the call and returns a stream emitting Script.
func (r *Recognizer) Recognize(ctx context.Context, lang string) (<-chan speech.RecognitionEvent, error) {
	r.mu.Lock()
	r.calls = append(r.calls, RecognizeCall{Ctx: ctx, Lang: lang})
	hold := r.Hold
	r.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	if r.RecognizeErr != nil {
		err := r.RecognizeErr
		r.mu.Unlock()
		return nil, err
	}
	script := make([]speech.RecognitionEvent, len(r.Script))
	copy(script, r.Script)
	keepOpen := r.KeepOpen
	r.mu.Unlock()

	ch := make(chan speech.RecognitionEvent)
	go func() {
		defer close(ch)
		for _, ev := range script {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if keepOpen {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// Calls returns a copy of every Recognize call in order.
func (r *Recognizer) Calls() []RecognizeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecognizeCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// Player is a mock implementation of speech.AssetPlayer.
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	played []model.Asset
}

// Play records the asset and returns PlayErr.
func (p *Player) Play(_ context.Context, a model.Asset) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, a)
	return p.PlayErr
}

// Played returns a copy of every played asset in order.
func (p *Player) Played() []model.Asset {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Asset, len(p.played))
	copy(out, p.played)
	return out
}

// AssetSynthesizer is a mock implementation of speech.AssetSynthesizer.
type AssetSynthesizer struct {
	mu sync.Mutex

	// Result is returned by Synthesize.
	Result model.Asset

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	texts []string
}

// Synthesize records the text and returns Result, Err.
func (s *AssetSynthesizer) Synthesize(_ context.Context, text string) (model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if s.Err != nil {
		return model.Asset{}, s.Err
	}
	return s.Result, nil
}

// Texts returns every synthesized text in order.
func (s *AssetSynthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

// Notifier is a mock implementation of speech.Notifier.
type Notifier struct {
	mu      sync.Mutex
	notices []model.Notice
}

// Notify records n.
func (n *Notifier) Notify(notice model.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

// Notices returns a copy of every recorded notice in order.
func (n *Notifier) Notices() []model.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.Notice, len(n.notices))
	copy(out, n.notices)
	return out
}

// Kinds returns the kind of every recorded notice in order.
func (n *Notifier) Kinds() []model.NoticeKind {
	notices := n.Notices()
	out := make([]model.NoticeKind, len(notices))
	for i, x := range notices {
		out[i] = x.Kind
	}
	return out
}
