package main

import (
	"strings"
	"testing"

	"github.com/coterm/coterm/pkg/engine"
)

func TestInterruptedTurnEchoesKeyboardInterrupt(t *testing.T) {
	m := initialModel(engine.New(engine.Config{}), t.TempDir(), "")

	m.handleEngineEvent(engine.Event{Kind: engine.EventInterrupted})

	if !strings.Contains(m.transcript, "^C") {
		t.Errorf("transcript should echo ^C, got %q", m.transcript)
	}
	if !strings.Contains(m.transcript, "KeyboardInterrupt") {
		t.Errorf("transcript should echo KeyboardInterrupt, got %q", m.transcript)
	}
}

func TestFinishedErrorTurnRendersDiagnostic(t *testing.T) {
	m := initialModel(engine.New(engine.Config{}), t.TempDir(), "")

	m.handleEngineEvent(engine.Event{
		Kind:    engine.EventFinished,
		Text:    "RuntimeError: boom\n",
		IsError: true,
	})

	if !strings.Contains(m.transcript, "RuntimeError: boom") {
		t.Errorf("transcript should carry the diagnostic, got %q", m.transcript)
	}
}
