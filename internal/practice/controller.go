package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/schema"
	"github.com/pavelanni/dictation/internal/speech"
)

var (
	// ErrNoItems is returned when a session is started with an empty list.
	ErrNoItems = errors.New("no items to practice")
	// ErrNotRevealed is returned by Replay while the item is still hidden.
	ErrNotRevealed = errors.New("item not revealed")
)

// Speaker plays an utterance sequence. *speech.Output satisfies it.
type Speaker interface {
	Speak(ctx context.Context, seq ...speech.Utterance) *speech.Playback
}

// Announcer receives the congratulation when the session finishes.
type Announcer interface {
	Announce(text string)
}

// Controller owns the item list and the practice cursor of one session.
type Controller struct {
	items   []model.DictationItem
	schema  schema.Schema
	speaker Speaker

	announcer Announcer
	congrats  string
	observe   func(State)

	mu    sync.Mutex
	state State
}

// Option configures a Controller.
type Option func(*Controller)

// WithAnnouncer sets who is told text when the last item is passed.
func WithAnnouncer(a Announcer, text string) Option {
	return func(c *Controller) {
		c.announcer = a
		c.congrats = text
	}
}

// WithObserver registers fn to receive every new state, once per change.
// fn is called with the controller locked and must not call back into it.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) { c.observe = fn }
}

// NewController starts a session over items. The list is copied and never
// modified afterwards.
func NewController(mode model.Mode, items []model.DictationItem, sp Speaker, opts ...Option) (*Controller, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	sch, err := schema.For(mode)
	if err != nil {
		return nil, fmt.Errorf("new controller: %w", err)
	}
	c := &Controller{
		items:   append([]model.DictationItem(nil), items...),
		schema:  sch,
		speaker: sp,
		state:   Start(len(items)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mode returns the session mode.
func (c *Controller) Mode() model.Mode { return c.schema.Mode() }

// Items returns a copy of the item list.
func (c *Controller) Items() []model.DictationItem {
	return append([]model.DictationItem(nil), c.items...)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the item under the cursor.
func (c *Controller) Current() model.DictationItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[c.state.Index]
}

// Reveal shows the current item.
func (c *Controller) Reveal() State {
	return c.apply(ActionReveal)
}

// Advance moves to the next item, or finishes the session after the last one.
func (c *Controller) Advance() State {
	return c.apply(ActionAdvance)
}

func (c *Controller) apply(a Action) State {
	c.mu.Lock()
	prev := c.state
	next, events := Transition(prev, a)
	c.state = next
	if next != prev && c.observe != nil {
		c.observe(next)
	}
	c.mu.Unlock()

	for _, ev := range events {
		if ev == EventFinished {
			slog.Info("practice finished", "mode", c.Mode(), "items", len(c.items))
			if c.announcer != nil && c.congrats != "" {
				c.announcer.Announce(c.congrats)
			}
		}
	}
	return next
}

// Play reads the current item aloud following the mode's playback plan.
func (c *Controller) Play(ctx context.Context) *speech.Playback {
	return c.speaker.Speak(ctx, c.utterances(c.Current())...)
}

// Replay reads the revealed item again. It never changes the stage.
func (c *Controller) Replay(ctx context.Context) (*speech.Playback, error) {
	c.mu.Lock()
	st := c.state
	item := c.items[st.Index]
	c.mu.Unlock()
	if st.Stage != StageRevealed {
		return nil, ErrNotRevealed
	}
	return c.speaker.Speak(ctx, c.utterances(item)...), nil
}

func (c *Controller) utterances(item model.DictationItem) []speech.Utterance {
	cues := c.schema.Cues(item)
	out := make([]speech.Utterance, 0, len(cues))
	for _, cue := range cues {
		out = append(out, speech.Utterance{Text: cue.Text, Rate: cue.Rate})
	}
	return out
}
