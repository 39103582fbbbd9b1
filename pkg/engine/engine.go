package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/file"
	"github.com/google/uuid"
)

// ErrBusy is returned by Submit while a previous turn is still in flight.
// Turns are serialized by construction; submitting concurrently is a
// caller error.
var ErrBusy = errors.New("a turn is already in flight")

// errInterrupted unwinds a turn out of an input wait after Cancel.
var errInterrupted = errors.New("interrupted")

// EventKind classifies the engine's asynchronous signals.
type EventKind int

const (
	// EventOutput carries output flushed ahead of an input request.
	EventOutput EventKind = iota
	// EventInputRequest reports that the turn is blocked on input.
	EventInputRequest
	// EventFinished terminates a turn: combined output plus error flag.
	EventFinished
	// EventInterrupted terminates a cancelled turn. Distinct from
	// EventFinished so the shell can render the interrupt specially.
	EventInterrupted
)

type Event struct {
	Kind    EventKind
	TurnID  string
	Text    string // EventOutput, EventFinished
	Prompt  string // EventInputRequest
	IsError bool   // EventFinished
}

// Config carries the engine's pluggable behavior.
type Config struct {
	// DisplayHook renders a successful non-nil expression result. The
	// default writes Repr(value) to the turn's standard output. A hook may
	// bind "_" in the namespace itself; the engine detects that and skips
	// its own update.
	DisplayHook func(value any) any

	// ExceptHook handles an exception raised during a turn. The default
	// writes "<Kind>: <message>" to the turn's standard error. A non-nil
	// return value becomes the turn's result, as if the turn had
	// succeeded with it.
	ExceptHook func(err error) any

	// EventBuffer sizes the event channel. Zero means a sane default.
	EventBuffer int
}

// Engine evaluates source fragments one turn at a time against a
// persistent namespace. Submit never blocks the caller; results arrive on
// the Events channel. Exactly one terminal event (Finished or Interrupted)
// closes every turn.
type Engine struct {
	cfg    Config
	ns     *Namespace
	events chan Event

	mu      sync.Mutex
	running bool
	cur     *turn
}

// turn is the in-flight execution of one submitted fragment.
type turn struct {
	id          string
	stdout      *capture
	stderr      *capture
	script      bool // synchronous RunScript execution, no input allowed
	interrupted atomic.Bool
	unwound     atomic.Bool // an input wait actually unwound with the interrupt
	raised      bool
	result      any

	gate *inputGate // non-nil while blocked on input; guarded by Engine.mu
}

// inputGate is the one-shot synchronization point between a turn blocked
// in the input builtin and the controller supplying a response (or a
// cancellation). Double resolution is a no-op.
type inputGate struct {
	once sync.Once
	ch   chan inputReply
}

type inputReply struct {
	text        string
	interrupted bool
}

func newInputGate() *inputGate {
	return &inputGate{ch: make(chan inputReply, 1)}
}

func (g *inputGate) resolve(text string, interrupted bool) {
	g.once.Do(func() {
		g.ch <- inputReply{text: text, interrupted: interrupted}
	})
}

func New(cfg Config) *Engine {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	e := &Engine{
		cfg:    cfg,
		ns:     NewNamespace(),
		events: make(chan Event, cfg.EventBuffer),
	}
	e.installBuiltins()
	e.ns.markSeed()
	return e
}

func (e *Engine) Namespace() *Namespace { return e.ns }

// Events returns the channel the engine's signals arrive on. Within one
// turn, output events strictly precede the input request they were flushed
// ahead of, and the terminal event is always last.
func (e *Engine) Events() <-chan Event { return e.events }

// Submit starts asynchronous execution of a fragment. It returns ErrBusy
// if a turn is already in flight.
func (e *Engine) Submit(src string) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrBusy
	}
	t := &turn{
		id:     uuid.New().String(),
		stdout: &capture{},
		stderr: &capture{},
	}
	e.running = true
	e.cur = t
	e.mu.Unlock()

	slog.Debug("Turn submitted", "turnID", t.id, "bytes", len(src))
	go e.run(t, src)
	return nil
}

// ProvideInput resolves an outstanding input request with the user's text,
// verbatim. With no request outstanding it is a no-op, including after the
// turn has already been torn down.
func (e *Engine) ProvideInput(text string) {
	e.mu.Lock()
	var g *inputGate
	if e.cur != nil {
		g = e.cur.gate
	}
	e.mu.Unlock()
	if g != nil {
		g.resolve(text, false)
	}
}

// Cancel requests interruption of the in-flight turn. A turn blocked on an
// input wait unwinds immediately with the interrupted outcome; a
// compute-bound turn is only interrupted at its next input call, if any,
// since the engine does not preempt running code. Cancel reports whether a
// turn was in flight to receive the signal.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	t := e.cur
	var g *inputGate
	if t != nil {
		// Flag and gate are read together under the lock so a cancel
		// can never slip between the input builtin's flag check and its
		// gate installation.
		t.interrupted.Store(true)
		g = t.gate
	}
	e.mu.Unlock()
	if t == nil {
		return false
	}
	if g != nil {
		g.resolve("", true)
	}
	return true
}

func (e *Engine) run(t *turn, src string) {
	if strings.TrimSpace(src) == "" {
		e.finish(t, Event{Kind: EventFinished, TurnID: t.id})
		return
	}

	interrupted := e.evaluate(t, src)
	if interrupted {
		slog.Debug("Turn interrupted", "turnID", t.id)
		e.finish(t, Event{Kind: EventInterrupted, TurnID: t.id})
		return
	}

	stdout := t.stdout.String()
	stderr := t.stderr.String()
	out := stdout
	isError := false
	if stderr != "" {
		isError = true
		if stdout == "" {
			out = stderr
		} else {
			out = stdout + "\n" + stderr
		}
	}

	// The last-result convention: only successful turns with a non-nil
	// result touch "_".
	if !t.raised && t.result != nil {
		e.ns.Set("_", t.result)
	}

	slog.Debug("Turn finished", "turnID", t.id, "isError", isError)
	e.finish(t, Event{Kind: EventFinished, TurnID: t.id, Text: out, IsError: isError})
}

// finish clears the in-flight state before emitting the terminal event,
// so a submit racing the event delivery is never refused spuriously.
func (e *Engine) finish(t *turn, ev Event) {
	e.mu.Lock()
	e.cur = nil
	e.running = false
	e.mu.Unlock()
	e.emit(ev)
}

// evaluate executes one fragment: expression first, statement sequence on
// an expression syntax error. It reports whether the turn was interrupted.
func (e *Engine) evaluate(t *turn, src string) (interrupted bool) {
	if prog, cerr := expr.Compile(src); cerr == nil {
		val, rerr := expr.Run(prog, e.ns.Env())
		if rerr != nil {
			// Only an actual input unwind counts as an interrupt; a
			// genuine exception raised after a cancel still reports as
			// itself.
			if t.unwound.Load() {
				return true
			}
			e.handleException(t, rerr)
			return false
		}
		if val != nil {
			e.display(t, val)
		}
		return false
	}

	stmts, perr := parseStatements(src)
	if perr != nil {
		e.handleException(t, perr)
		return false
	}
	for _, st := range stmts {
		if err := e.execStatement(st); err != nil {
			if t.unwound.Load() {
				return true
			}
			e.handleException(t, err)
			return false
		}
	}
	return false
}

// display routes a non-nil expression value through the display hook and
// works out the turn's result per the interactive-shell convention: if the
// hook bound "_" itself the engine must not double-apply its own update.
func (e *Engine) display(t *turn, val any) {
	if e.cfg.DisplayHook == nil {
		e.defaultDisplay(val)
		t.result = val
		return
	}

	before, hadBefore := e.ns.Get("_")
	hookResult, ok := e.callDisplayHook(val)
	if !ok {
		// A misbehaving hook degrades to the default rendering.
		e.defaultDisplay(val)
		t.result = val
		return
	}
	after, hadAfter := e.ns.Get("_")
	if hadBefore != hadAfter || (hadAfter && !identical(before, after)) {
		t.result = nil
		return
	}
	if hookResult != nil {
		t.result = hookResult
	} else {
		t.result = val
	}
}

func (e *Engine) callDisplayHook(val any) (result any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Display hook panicked", "panic", r)
			ok = false
		}
	}()
	return e.cfg.DisplayHook(val), true
}

func (e *Engine) defaultDisplay(val any) {
	e.mu.Lock()
	t := e.cur
	e.mu.Unlock()
	if t != nil {
		t.stdout.WriteString(Repr(val) + "\n")
	}
}

// handleException routes an error through the exception hook. A hook that
// returns a non-nil value converts the turn back into a successful one
// with that value as its result.
func (e *Engine) handleException(t *turn, err error) {
	t.raised = true
	if e.cfg.ExceptHook == nil {
		e.defaultExcept(t, err)
		return
	}
	res, ok := e.callExceptHook(err)
	if !ok {
		e.defaultExcept(t, err)
		return
	}
	if res != nil {
		t.result = res
		t.raised = false
	}
}

func (e *Engine) callExceptHook(err error) (result any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Exception hook panicked", "panic", r)
			ok = false
		}
	}()
	return e.cfg.ExceptHook(err), true
}

func (e *Engine) defaultExcept(t *turn, err error) {
	t.stderr.WriteString(fmt.Sprintf("%s: %s\n", errorKind(err), errorMessage(err)))
}

// errorKind names an error class the way an interactive shell echoes it.
func errorKind(err error) string {
	var se *SyntaxError
	if errors.As(err, &se) {
		return "SyntaxError"
	}
	return "RuntimeError"
}

func errorMessage(err error) string {
	var fe *file.Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	var se *SyntaxError
	if errors.As(err, &se) {
		return se.Msg
	}
	return err.Error()
}

func (e *Engine) emit(ev Event) {
	e.events <- ev
}

// RunScript synchronously executes a statement sequence against the
// session namespace and returns its captured output. It is used by the
// extension loader before the first prompt; interactive input is not
// available to scripts. Errors are returned directly rather than routed
// through the exception hook.
func (e *Engine) RunScript(src string) (string, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return "", ErrBusy
	}
	t := &turn{
		id:     uuid.New().String(),
		stdout: &capture{},
		stderr: &capture{},
		script: true,
	}
	e.running = true
	e.cur = t
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cur = nil
		e.running = false
		e.mu.Unlock()
	}()

	stmts, perr := parseStatements(src)
	if perr != nil {
		return "", perr
	}
	for _, st := range stmts {
		if err := e.execStatement(st); err != nil {
			return t.stdout.String(), err
		}
	}
	return t.stdout.String(), nil
}

// ValidSource reports whether text parses as a fragment of the console's
// language, either as an expression or as a statement sequence. The shell
// uses it to decide whether output is worth colorizing.
func ValidSource(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if _, err := expr.Compile(text); err == nil {
		return true
	}
	_, err := parseStatements(text)
	return err == nil
}
