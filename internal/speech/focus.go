package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPreempted is the cancellation cause handed to a lease holder whose focus
// was taken by another owner.
var ErrPreempted = errors.New("audio focus preempted")

// Owner identifies who holds the audio focus.
type Owner string

const (
	OwnerOutput Owner = "output"
	OwnerInput  Owner = "input"
)

// AvatarState is the animation state shown next to the practice card.
type AvatarState string

const (
	AvatarIdle      AvatarState = "idle"
	AvatarSpeaking  AvatarState = "speaking"
	AvatarListening AvatarState = "listening"
	AvatarThinking  AvatarState = "thinking"
)

// Focus is the single audio focus token shared by local speech output and
// speech input. Acquiring it cancels the previous holder, so at most one of
// them is active at a time. Focus also tracks the avatar state, which follows
// the holder and falls back to idle on release.
type Focus struct {
	mu       sync.Mutex
	gen      uint64
	holder   Owner
	cancel   context.CancelCauseFunc
	state    AvatarState
	thinking int
	observe  func(AvatarState)
}

// NewFocus creates an idle focus. observe, if non-nil, is called with every
// avatar state change while the focus lock is held; it must not call back into
// the Focus.
func NewFocus(observe func(AvatarState)) *Focus {
	return &Focus{state: AvatarIdle, observe: observe}
}

// Lease is held by the current focus owner.
type Lease struct {
	f     *Focus
	gen   uint64
	ctx   context.Context
	owner Owner
	once  sync.Once
}

// Acquire takes the focus for owner, cancelling the previous holder with
// ErrPreempted. The lease's context is derived from ctx.
func (f *Focus) Acquire(ctx context.Context, owner Owner) *Lease {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel(fmt.Errorf("%w by %s", ErrPreempted, owner))
	}
	lctx, cancel := context.WithCancelCause(ctx)
	f.gen++
	f.holder = owner
	f.cancel = cancel
	switch owner {
	case OwnerOutput:
		f.setState(AvatarSpeaking)
	case OwnerInput:
		f.setState(AvatarListening)
	}
	return &Lease{f: f, gen: f.gen, ctx: lctx, owner: owner}
}

// Holder returns the current owner, or "" when the focus is free.
func (f *Focus) Holder() Owner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holder
}

// State returns the current avatar state.
func (f *Focus) State() AvatarState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Think shows the thinking state while no audio owner holds the focus. The
// returned function ends it and is safe to call more than once.
func (f *Focus) Think() func() {
	f.mu.Lock()
	f.thinking++
	if f.holder == "" {
		f.setState(AvatarThinking)
	}
	f.mu.Unlock()

	return sync.OnceFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.thinking--
		if f.holder == "" {
			f.settle()
		}
	})
}

func (f *Focus) setState(s AvatarState) {
	if f.state == s {
		return
	}
	f.state = s
	if f.observe != nil {
		f.observe(s)
	}
}

func (f *Focus) settle() {
	if f.thinking > 0 {
		f.setState(AvatarThinking)
		return
	}
	f.setState(AvatarIdle)
}

// Context is cancelled when the lease is released or preempted.
func (l *Lease) Context() context.Context { return l.ctx }

// Owner returns who acquired the lease.
func (l *Lease) Owner() Owner { return l.owner }

// Preempted reports whether another owner took the focus from this lease.
func (l *Lease) Preempted() bool {
	return errors.Is(context.Cause(l.ctx), ErrPreempted)
}

// Release gives the focus back. It reports whether the lease was still the
// holder; a preempted lease releases nothing. Release is idempotent.
func (l *Lease) Release() bool {
	held := false
	l.once.Do(func() {
		f := l.f
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.gen != l.gen {
			return
		}
		held = true
		f.cancel(nil)
		f.cancel = nil
		f.holder = ""
		f.settle()
	})
	return held
}
