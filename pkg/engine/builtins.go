package engine

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// capture buffers a turn's standard output or standard error stream.
type capture struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (c *capture) WriteString(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.WriteString(s)
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Take drains the buffer, returning everything written so far.
func (c *capture) Take() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.buf.String()
	c.buf.Reset()
	return s
}

// Stdout returns a writer that targets the in-flight turn's captured
// standard output. Writes outside a turn are discarded. Custom hooks use
// this to produce output that lands in the turn's transcript.
func (e *Engine) Stdout() io.Writer { return streamWriter{e: e, stderr: false} }

// Stderr is the standard-error counterpart of Stdout.
func (e *Engine) Stderr() io.Writer { return streamWriter{e: e, stderr: true} }

type streamWriter struct {
	e      *Engine
	stderr bool
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.e.mu.Lock()
	t := w.e.cur
	w.e.mu.Unlock()
	if t == nil {
		return len(p), nil
	}
	if w.stderr {
		return t.stderr.Write(p)
	}
	return t.stdout.Write(p)
}

// installBuiltins seeds the namespace with the console's own functions.
// The expression language contributes its usual builtins (len, string,
// filter, ...) on top of these.
func (e *Engine) installBuiltins() {
	e.ns.Set("print", e.builtinPrint)
	e.ns.Set("input", e.builtinInput)
	e.ns.Set("repr", func(v any) string { return Repr(v) })
	e.ns.Set("dir", e.builtinDir)
}

func (e *Engine) builtinPrint(args ...any) (any, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Str(a)
	}
	e.mu.Lock()
	t := e.cur
	e.mu.Unlock()
	if t != nil {
		t.stdout.WriteString(strings.Join(parts, " ") + "\n")
	}
	return nil, nil
}

// builtinInput suspends the turn until the controller supplies a response
// or a cancellation. Any output captured so far is flushed first, so
// partial output appears before the prompt. The response is returned
// verbatim, with no echo.
func (e *Engine) builtinInput(args ...any) (any, error) {
	e.mu.Lock()
	t := e.cur
	e.mu.Unlock()
	if t == nil || t.script {
		return nil, errors.New("input is not available here")
	}
	if t.interrupted.Load() {
		t.unwound.Store(true)
		return nil, errInterrupted
	}

	prompt := ""
	if len(args) > 0 {
		prompt = Str(args[0])
	}
	if len(args) > 1 {
		return nil, fmt.Errorf("input expects at most one argument, got %d", len(args))
	}

	if pending := t.stdout.Take(); pending != "" {
		e.emit(Event{Kind: EventOutput, TurnID: t.id, Text: pending})
	}

	g := newInputGate()
	e.mu.Lock()
	t.gate = g
	if t.interrupted.Load() {
		g.resolve("", true)
	}
	e.mu.Unlock()

	e.emit(Event{Kind: EventInputRequest, TurnID: t.id, Prompt: prompt})

	reply := <-g.ch

	e.mu.Lock()
	t.gate = nil
	e.mu.Unlock()

	if reply.interrupted {
		t.unwound.Store(true)
		return nil, errInterrupted
	}
	return reply.text, nil
}

func (e *Engine) builtinDir(args ...any) (any, error) {
	switch len(args) {
	case 0:
		keys := e.ns.Keys()
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	case 1:
		members := Members(args[0])
		out := make([]any, len(members))
		for i, m := range members {
			out[i] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("dir expects at most one argument, got %d", len(args))
	}
}
