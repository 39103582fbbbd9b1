package engine

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func nextEvent(t *testing.T, e *Engine) Event {
	t.Helper()
	select {
	case ev := <-e.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for engine event")
		return Event{}
	}
}

// runTurn submits a fragment and collects events until the terminal one.
func runTurn(t *testing.T, e *Engine, src string) []Event {
	t.Helper()
	if err := e.Submit(src); err != nil {
		t.Fatalf("submit %q: %v", src, err)
	}
	var events []Event
	for {
		ev := nextEvent(t, e)
		events = append(events, ev)
		if ev.Kind == EventFinished || ev.Kind == EventInterrupted {
			return events
		}
	}
}

func finishTurn(t *testing.T, e *Engine, src string) Event {
	t.Helper()
	events := runTurn(t, e, src)
	last := events[len(events)-1]
	if last.Kind != EventFinished {
		t.Fatalf("turn %q did not finish normally: %+v", src, last)
	}
	return last
}

func assertNoEvent(t *testing.T, e *Engine, d time.Duration) {
	t.Helper()
	select {
	case ev := <-e.Events():
		t.Fatalf("unexpected event after terminal: %+v", ev)
	case <-time.After(d):
	}
}

func TestExpressionResultAndLastValue(t *testing.T) {
	e := New(Config{})

	ev := finishTurn(t, e, "21 * 2")
	if ev.IsError {
		t.Fatalf("unexpected error turn: %q", ev.Text)
	}
	if ev.Text != "42\n" {
		t.Errorf("expected echoed result %q, got %q", "42\n", ev.Text)
	}
	got, ok := e.Namespace().Get("_")
	if !ok || got != 42 {
		t.Errorf("expected _ == 42, got %v (bound=%v)", got, ok)
	}
}

func TestNilExpressionProducesNoOutputAndNoLastValue(t *testing.T) {
	e := New(Config{})
	finishTurn(t, e, "42")

	ev := finishTurn(t, e, `print("hi")`)
	if ev.Text != "hi\n" || ev.IsError {
		t.Fatalf("unexpected turn result: %+v", ev)
	}
	if got, _ := e.Namespace().Get("_"); got != 42 {
		t.Errorf("nil-valued expression must not touch _, got %v", got)
	}
}

func TestStatementTurnDoesNotTouchLastValue(t *testing.T) {
	e := New(Config{})
	finishTurn(t, e, "42")

	ev := finishTurn(t, e, "x = 5")
	if ev.Text != "" || ev.IsError {
		t.Fatalf("statement turn should be silent, got %+v", ev)
	}
	if got, _ := e.Namespace().Get("x"); got != 5 {
		t.Errorf("expected x == 5, got %v", got)
	}
	if got, _ := e.Namespace().Get("_"); got != 42 {
		t.Errorf("statement turn must not touch _, got %v", got)
	}
}

func TestRoundTrip(t *testing.T) {
	e := New(Config{})
	finishTurn(t, e, "x = 5")
	ev := finishTurn(t, e, "x")
	if ev.Text != "5\n" || ev.IsError {
		t.Fatalf("expected %q, got %+v", "5\n", ev)
	}
}

func TestEmptyFragment(t *testing.T) {
	e := New(Config{})
	before := len(e.Namespace().Keys())

	ev := finishTurn(t, e, "   \n\t")
	if ev.Text != "" || ev.IsError {
		t.Fatalf("empty fragment should complete silently, got %+v", ev)
	}
	if after := len(e.Namespace().Keys()); after != before {
		t.Errorf("empty fragment mutated the namespace: %d -> %d keys", before, after)
	}
}

func TestSyntaxError(t *testing.T) {
	e := New(Config{})
	ev := finishTurn(t, e, "((")
	if !ev.IsError {
		t.Fatalf("expected error turn, got %+v", ev)
	}
	if !strings.Contains(ev.Text, "SyntaxError") {
		t.Errorf("expected a SyntaxError diagnostic, got %q", ev.Text)
	}
}

func TestRuntimeErrorLeavesLastValueUnchanged(t *testing.T) {
	e := New(Config{})
	finishTurn(t, e, "42")
	finishTurn(t, e, "zero = 0")

	ev := finishTurn(t, e, "1 % zero")
	if !ev.IsError {
		t.Fatalf("expected error turn, got %+v", ev)
	}
	if got, _ := e.Namespace().Get("_"); got != 42 {
		t.Errorf("raised turn must leave _ unchanged, got %v", got)
	}
}

func TestInputFlow(t *testing.T) {
	e := New(Config{})
	if err := e.Submit(`input("name? ") + "!"`); err != nil {
		t.Fatal(err)
	}

	ev := nextEvent(t, e)
	if ev.Kind != EventInputRequest || ev.Prompt != "name? " {
		t.Fatalf("expected input request with prompt, got %+v", ev)
	}
	e.ProvideInput("bob")

	ev = nextEvent(t, e)
	if ev.Kind != EventFinished || ev.IsError {
		t.Fatalf("expected normal completion, got %+v", ev)
	}
	if ev.Text != "\"bob!\"\n" {
		t.Errorf("expected echoed string result, got %q", ev.Text)
	}
}

func TestSequentialInputsOrdering(t *testing.T) {
	e := New(Config{})
	src := `print("a")
first = input("one: ")
print("b")
second = input("two: ")
print(first + second)`
	if err := e.Submit(src); err != nil {
		t.Fatal(err)
	}

	ev := nextEvent(t, e)
	if ev.Kind != EventOutput || ev.Text != "a\n" {
		t.Fatalf("expected flushed output before first request, got %+v", ev)
	}
	ev = nextEvent(t, e)
	if ev.Kind != EventInputRequest || ev.Prompt != "one: " {
		t.Fatalf("expected first input request, got %+v", ev)
	}
	e.ProvideInput("x")

	ev = nextEvent(t, e)
	if ev.Kind != EventOutput || ev.Text != "b\n" {
		t.Fatalf("expected flushed output before second request, got %+v", ev)
	}
	ev = nextEvent(t, e)
	if ev.Kind != EventInputRequest || ev.Prompt != "two: " {
		t.Fatalf("expected second input request, got %+v", ev)
	}
	e.ProvideInput("y")

	ev = nextEvent(t, e)
	if ev.Kind != EventFinished || ev.Text != "xy\n" || ev.IsError {
		t.Fatalf("expected final output %q, got %+v", "xy\n", ev)
	}
}

func TestCancelDuringInputWait(t *testing.T) {
	e := New(Config{})
	if err := e.Submit(`input("? ")`); err != nil {
		t.Fatal(err)
	}
	ev := nextEvent(t, e)
	if ev.Kind != EventInputRequest {
		t.Fatalf("expected input request, got %+v", ev)
	}

	if !e.Cancel() {
		t.Fatal("expected Cancel to reach the in-flight turn")
	}
	ev = nextEvent(t, e)
	if ev.Kind != EventInterrupted {
		t.Fatalf("expected interrupted outcome, got %+v", ev)
	}
	assertNoEvent(t, e, 100*time.Millisecond)

	// Resolving the torn-down wait is silently ignored.
	e.ProvideInput("late")
	assertNoEvent(t, e, 50*time.Millisecond)
}

func TestCancelDuringComputeKeepsGenuineError(t *testing.T) {
	e := New(Config{})
	finishTurn(t, e, "zero = 0")
	e.Namespace().Set("poke", func() (any, error) {
		e.Cancel()
		return nil, nil
	})

	// The cancel lands mid-turn with no input wait outstanding; the
	// divide fault that follows is a real exception, not an interrupt.
	events := runTurn(t, e, "poke()\n1 % zero")
	last := events[len(events)-1]
	if last.Kind != EventFinished || !last.IsError {
		t.Fatalf("expected an error completion, got %+v", last)
	}
	if !strings.Contains(last.Text, "RuntimeError") {
		t.Errorf("expected the genuine diagnostic, got %q", last.Text)
	}
}

func TestCancelDuringComputeInterruptsNextInput(t *testing.T) {
	e := New(Config{})
	e.Namespace().Set("poke", func() (any, error) {
		e.Cancel()
		return nil, nil
	})

	events := runTurn(t, e, `poke()
input("? ")`)
	if len(events) != 1 || events[0].Kind != EventInterrupted {
		t.Fatalf("expected the input call to observe the pending cancel, got %+v", events)
	}
}

func TestCancelWithNoTurnInFlight(t *testing.T) {
	e := New(Config{})
	if e.Cancel() {
		t.Error("Cancel with no turn in flight should report false")
	}
}

func TestSubmitWhileRunningIsRefused(t *testing.T) {
	e := New(Config{})
	if err := e.Submit(`input("? ")`); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, e) // input request

	if err := e.Submit("1"); err != ErrBusy {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	e.Cancel()
	nextEvent(t, e) // interrupted
}

func TestDisplayHookResultBecomesLastValue(t *testing.T) {
	e := New(Config{})
	e.cfg.DisplayHook = func(v any) any {
		fmt.Fprintf(e.Stdout(), "=> %s\n", Repr(v))
		return Str(v) + "!"
	}

	ev := finishTurn(t, e, "7")
	if ev.Text != "=> 7\n" {
		t.Errorf("expected hook-rendered output, got %q", ev.Text)
	}
	if got, _ := e.Namespace().Get("_"); got != "7!" {
		t.Errorf("expected hook result as _, got %v", got)
	}
}

func TestDisplayHookBindingUnderscoreSuppressesEngineUpdate(t *testing.T) {
	e := New(Config{})
	e.cfg.DisplayHook = func(v any) any {
		e.Namespace().Set("_", "custom")
		return v
	}

	finishTurn(t, e, "7")
	if got, _ := e.Namespace().Get("_"); got != "custom" {
		t.Errorf("engine must not overwrite a hook-bound _, got %v", got)
	}
}

func TestDisplayHookPanicFallsBackToDefault(t *testing.T) {
	e := New(Config{})
	e.cfg.DisplayHook = func(v any) any { panic("bad hook") }

	ev := finishTurn(t, e, "7")
	if ev.IsError {
		t.Fatalf("hook panic must not fail the turn: %+v", ev)
	}
	if ev.Text != "7\n" {
		t.Errorf("expected default rendering, got %q", ev.Text)
	}
	if got, _ := e.Namespace().Get("_"); got != 7 {
		t.Errorf("expected _ == 7, got %v", got)
	}
}

func TestExceptHookRecoveringValue(t *testing.T) {
	e := New(Config{})
	e.cfg.ExceptHook = func(err error) any { return "recovered" }
	finishTurn(t, e, "zero = 0")

	ev := finishTurn(t, e, "1 % zero")
	if ev.IsError {
		t.Fatalf("a recovering hook should yield a non-error turn, got %+v", ev)
	}
	if got, _ := e.Namespace().Get("_"); got != "recovered" {
		t.Errorf("hook value should update _, got %v", got)
	}
}

func TestExceptHookPanicFallsBackToDefault(t *testing.T) {
	e := New(Config{})
	e.cfg.ExceptHook = func(err error) any { panic("bad hook") }
	finishTurn(t, e, "zero = 0")

	ev := finishTurn(t, e, "1 % zero")
	if !ev.IsError {
		t.Fatalf("expected error turn, got %+v", ev)
	}
	if !strings.Contains(ev.Text, "RuntimeError") {
		t.Errorf("expected default diagnostic, got %q", ev.Text)
	}
}

func TestStderrOutputAfterStdout(t *testing.T) {
	e := New(Config{})
	finishTurn(t, e, "zero = 0")

	ev := finishTurn(t, e, `print("partial"); 1 % zero`)
	if !ev.IsError {
		t.Fatalf("expected error turn, got %+v", ev)
	}
	if !strings.HasPrefix(ev.Text, "partial\n\n") {
		t.Errorf("stdout should precede stderr with a separating newline, got %q", ev.Text)
	}
}

func TestRunScript(t *testing.T) {
	e := New(Config{})
	out, err := e.RunScript("\n\ngreeting = \"hello\"\nprint(greeting)")
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello\n" {
		t.Errorf("expected script output %q, got %q", "hello\n", out)
	}
	if got, _ := e.Namespace().Get("greeting"); got != "hello" {
		t.Errorf("script bindings must persist, got %v", got)
	}
}

func TestRunScriptInputUnavailable(t *testing.T) {
	e := New(Config{})
	_, err := e.RunScript(`input("? ")`)
	if err == nil {
		t.Fatal("expected an error from input inside a script")
	}
}

func TestValidSource(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{"1 + 1", true},
		{"x = 5", true},
		{"((", false},
		{"", false},
		{"some plain prose, not code", false},
	}
	for _, tc := range cases {
		if got := ValidSource(tc.src); got != tc.want {
			t.Errorf("ValidSource(%q) = %v, want %v", tc.src, got, tc.want)
		}
	}
}
