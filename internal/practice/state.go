// Package practice runs the reveal/advance cycle over a fixed item list.
package practice

// Stage is the per-item reveal state.
type Stage string

const (
	StageReading  Stage = "reading"
	StageRevealed Stage = "revealed"
)

// Action is a learner action on the practice card.
type Action string

const (
	ActionReveal  Action = "reveal"
	ActionAdvance Action = "advance"
)

// Event is a signal produced by a transition.
type Event string

// EventFinished is emitted once, by the advance past the last item.
const EventFinished Event = "finished"

// State is the practice cursor over a list of Len items.
type State struct {
	Index    int   `json:"index"`
	Len      int   `json:"len"`
	Stage    Stage `json:"stage"`
	Finished bool  `json:"finished"`
}

// Start returns the initial state for n items.
func Start(n int) State {
	return State{Len: n, Stage: StageReading}
}

// Transition applies a to s. Advancing moves to the next item and resets the
// stage to reading in the same step; advancing from the last item finishes the
// session, after which advancing is a no-op. The index never decreases.
func Transition(s State, a Action) (State, []Event) {
	switch a {
	case ActionReveal:
		if s.Len == 0 {
			return s, nil
		}
		s.Stage = StageRevealed
		return s, nil
	case ActionAdvance:
		if s.Finished || s.Len == 0 {
			return s, nil
		}
		if s.Index+1 < s.Len {
			s.Index++
			s.Stage = StageReading
			return s, nil
		}
		s.Finished = true
		return s, []Event{EventFinished}
	}
	return s, nil
}
