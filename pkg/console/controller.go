package console

import (
	"strings"

	"github.com/coterm/coterm/pkg/engine"
)

// State is the controller's line-handling mode.
type State int

const (
	// StateEditing composes ordinary fragments for the engine.
	StateEditing State = iota
	// StateAwaitingInput routes the next line to the engine's pending
	// input request.
	StateAwaitingInput
	// StateAwaitingYesNo routes the next line to a local confirmation
	// instead of the engine.
	StateAwaitingYesNo
)

// Disposition reports what SubmitLine did with a line.
type Disposition int

const (
	// DispSubmitted started a new engine turn.
	DispSubmitted Disposition = iota
	// DispEmpty is an empty line in editing state: redraw the prompt.
	DispEmpty
	// DispBusy refused a fragment because a turn is already in flight.
	DispBusy
	// DispInputReply resolved the engine's pending input request.
	DispInputReply
	// DispConfirmYes answered the pending confirmation affirmatively.
	DispConfirmYes
	// DispConfirmNo declined the pending confirmation.
	DispConfirmNo
	// DispConfirmRetry was neither yes nor no: re-ask.
	DispConfirmRetry
)

// CancelOutcome reports whether a cancel reached a running turn.
type CancelOutcome int

const (
	// CancelLocal means nothing was running; the shell just clears the
	// line and echoes the interrupt locally.
	CancelLocal CancelOutcome = iota
	// CancelDelivered means the engine accepted the cancellation and will
	// emit its interrupted outcome.
	CancelDelivered
)

// Session is the line controller between a rendering surface and the
// engine. It owns the history and the editing-state machine; it performs
// no rendering itself.
type Session struct {
	eng  *engine.Engine
	hist *History

	state         State
	busy          bool
	confirmPrompt string
}

func NewSession(eng *engine.Engine) *Session {
	return &Session{eng: eng, hist: NewHistory()}
}

func (s *Session) State() State      { return s.state }
func (s *Session) Busy() bool        { return s.busy }
func (s *Session) History() *History { return s.hist }

// ConfirmPrompt returns the question of the pending confirmation.
func (s *Session) ConfirmPrompt() string { return s.confirmPrompt }

// RequestConfirm enters the yes/no state. The next submitted line answers
// prompt instead of reaching the engine.
func (s *Session) RequestConfirm(prompt string) {
	s.confirmPrompt = prompt
	s.state = StateAwaitingYesNo
}

// SubmitLine routes one entered line according to the current state.
func (s *Session) SubmitLine(line string) Disposition {
	switch s.state {
	case StateAwaitingYesNo:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			s.state = StateEditing
			s.confirmPrompt = ""
			return DispConfirmYes
		case "n", "no":
			s.state = StateEditing
			s.confirmPrompt = ""
			return DispConfirmNo
		default:
			return DispConfirmRetry
		}

	case StateAwaitingInput:
		// Replies resolve the turn's input gate verbatim and are not
		// history entries.
		s.eng.ProvideInput(line)
		s.state = StateEditing
		return DispInputReply

	default:
		if strings.TrimSpace(line) == "" {
			return DispEmpty
		}
		if s.busy {
			return DispBusy
		}
		if err := s.eng.Submit(line); err != nil {
			return DispBusy
		}
		s.hist.Record(line)
		s.busy = true
		return DispSubmitted
	}
}

// HandleEvent tracks the engine's turn lifecycle. The caller still renders
// the event; this only updates controller state.
func (s *Session) HandleEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventInputRequest:
		s.state = StateAwaitingInput
	case engine.EventFinished, engine.EventInterrupted:
		s.busy = false
		s.state = StateEditing
	}
}

// Cancel delivers a cancellation to the running turn, if any.
func (s *Session) Cancel() CancelOutcome {
	if s.state == StateAwaitingYesNo {
		s.state = StateEditing
		s.confirmPrompt = ""
		return CancelLocal
	}
	if s.eng.Cancel() {
		return CancelDelivered
	}
	return CancelLocal
}

// RecallPrev replaces the line buffer with the previous history entry.
func (s *Session) RecallPrev() (string, bool) {
	if s.state != StateEditing {
		return "", false
	}
	return s.hist.Prev()
}

// RecallNext replaces the line buffer with the next history entry, or
// clears it when moving past the newest one.
func (s *Session) RecallNext() (string, bool) {
	if s.state != StateEditing {
		return "", false
	}
	return s.hist.Next()
}

// Complete computes tab completion for the current line. Completion is
// only meaningful while composing a fragment.
func (s *Session) Complete(text string, width int) Completion {
	if s.state != StateEditing || s.busy {
		return Completion{}
	}
	return Complete(s.eng.Namespace(), text, width)
}
