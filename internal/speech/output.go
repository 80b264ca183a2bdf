package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/dictation/internal/model"
)

// Output renders dictation text with a local voice and plays remote assets.
//
// Local speech goes through the shared Focus: a new Speak call cancels the
// sequence that is currently audible and stops speech input. Asset playback
// does not touch the focus.
type Output struct {
	synth    Synthesizer
	player   AssetPlayer
	notifier Notifier
	focus    *Focus
	lang     string
	pause    time.Duration

	wg sync.WaitGroup
}

// OutputOption configures an Output.
type OutputOption func(*Output)

// WithAssetPlayer sets the player used by PlayAsset.
func WithAssetPlayer(p AssetPlayer) OutputOption {
	return func(o *Output) { o.player = p }
}

// WithPause inserts a pause between consecutive utterances of one sequence.
// The pause starts after the previous utterance has completed.
func WithPause(d time.Duration) OutputOption {
	return func(o *Output) { o.pause = d }
}

// NewOutput creates an Output reading in lang (e.g. "zh-HK"). synth may be
// nil, in which case every Speak surfaces a speech-unavailable notice.
func NewOutput(synth Synthesizer, focus *Focus, n Notifier, lang string, opts ...OutputOption) *Output {
	o := &Output{
		synth:    synth,
		notifier: n,
		focus:    focus,
		lang:     lang,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Lang returns the reading language.
func (o *Output) Lang() string { return o.lang }

// Playback is a handle on one utterance sequence.
type Playback struct {
	done  chan struct{}
	lease *Lease
	err   error
}

// Done is closed when the sequence has ended.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Err reports why the sequence ended early. It is nil for a sequence that
// played to the end and only valid after Done is closed.
func (p *Playback) Err() error {
	<-p.done
	return p.err
}

// Wait blocks until the sequence ends or ctx is done.
func (p *Playback) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the sequence if it is still playing.
func (p *Playback) Cancel() {
	if p.lease != nil {
		p.lease.Release()
	}
}

func finished(err error) *Playback {
	p := &Playback{done: make(chan struct{}), err: err}
	close(p.done)
	return p
}

// Speak plays seq in order. Each utterance is issued only after the previous
// one has signalled completion. A cancelled utterance ends the sequence; a
// failed one is logged and the sequence continues. Speak never blocks.
func (o *Output) Speak(ctx context.Context, seq ...Utterance) *Playback {
	if len(seq) == 0 {
		return finished(nil)
	}
	if o.synth == nil {
		notify(o.notifier, model.NoticeSpeechUnavailable)
		return finished(ErrUnavailable)
	}

	lease := o.focus.Acquire(ctx, OwnerOutput)
	p := &Playback{done: make(chan struct{}), lease: lease}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(p.done)
		defer lease.Release()
		p.err = o.play(lease.Context(), seq)
	}()
	return p
}

func (o *Output) play(ctx context.Context, seq []Utterance) error {
	voice, hasVoice := o.voiceFor(ctx)
	for i, u := range seq {
		if i > 0 && o.pause > 0 {
			t := time.NewTimer(o.pause)
			select {
			case <-ctx.Done():
				t.Stop()
				return context.Cause(ctx)
			case <-t.C:
			}
		}

		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.Lang == "" {
			u.Lang = o.lang
		}
		if u.Voice == "" && hasVoice {
			u.Voice = voice.Name
		}

		err := o.synth.Speak(ctx, u)
		if ctx.Err() != nil {
			slog.Debug("utterance cancelled", "id", u.ID, "cause", context.Cause(ctx))
			return context.Cause(ctx)
		}
		if errors.Is(err, ErrUnavailable) {
			notify(o.notifier, model.NoticeSpeechUnavailable)
			return err
		}
		if err != nil {
			slog.Warn("utterance failed", "id", u.ID, "error", err)
		}
	}
	return nil
}

func (o *Output) voiceFor(ctx context.Context) (Voice, bool) {
	voices, err := o.synth.Voices(ctx)
	if err != nil {
		slog.Debug("list voices", "error", err)
		return Voice{}, false
	}
	return SelectVoice(voices, o.lang)
}

// PlayAsset plays a pre-rendered audio asset. It is independent of local
// speech: it neither cancels nor is cancelled by Speak.
func (o *Output) PlayAsset(ctx context.Context, a model.Asset) error {
	if o.player == nil {
		return ErrUnavailable
	}
	if a.Empty() {
		return errors.New("empty audio asset")
	}
	return o.player.Play(ctx, a)
}

// Wait blocks until every sequence started by Speak has ended.
func (o *Output) Wait() {
	o.wg.Wait()
}
