package console

import "testing"

func TestHistoryRecall(t *testing.T) {
	h := NewHistory()
	h.Record("a")
	h.Record("b")

	if got, ok := h.Prev(); !ok || got != "b" {
		t.Fatalf("first Prev = %q,%v; want b", got, ok)
	}
	if got, ok := h.Prev(); !ok || got != "a" {
		t.Fatalf("second Prev = %q,%v; want a", got, ok)
	}
	if _, ok := h.Prev(); ok {
		t.Fatal("Prev at the oldest entry should report false")
	}
	if got, ok := h.Next(); !ok || got != "b" {
		t.Fatalf("Next = %q,%v; want b", got, ok)
	}
	if got, ok := h.Next(); !ok || got != "" {
		t.Fatalf("Next past the newest entry = %q,%v; want empty buffer", got, ok)
	}
	if _, ok := h.Next(); ok {
		t.Fatal("Next past the composition slot should report false")
	}
}

func TestHistorySuppressesConsecutiveDuplicates(t *testing.T) {
	h := NewHistory()
	h.Record("x = 1")
	h.Record("x = 1")
	h.Record("x = 2")
	h.Record("x = 1")
	if h.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", h.Len())
	}
}

func TestHistoryRecordResetsCursor(t *testing.T) {
	h := NewHistory()
	h.Record("a")
	h.Record("b")
	h.Prev()
	h.Prev()
	h.Record("c")
	if got, ok := h.Prev(); !ok || got != "c" {
		t.Fatalf("Prev after Record = %q,%v; want c", got, ok)
	}
}
