package console

// History is the command recall buffer. Submitted fragments append at the
// end; recall moves a cursor over the entries without mutating them. The
// position past the newest entry stands for "the line being composed".
type History struct {
	entries []string
	cursor  int
}

func NewHistory() *History {
	return &History{}
}

// Record appends a fragment and resets the cursor past the newest entry.
// An entry identical to the most recent one is suppressed.
func (h *History) Record(line string) {
	if n := len(h.entries); n > 0 && h.entries[n-1] == line {
		h.cursor = n
		return
	}
	h.entries = append(h.entries, line)
	h.cursor = len(h.entries)
}

// Prev moves one entry back and returns it. At the oldest entry it reports
// false and leaves the cursor in place.
func (h *History) Prev() (string, bool) {
	if h.cursor == 0 {
		return "", false
	}
	h.cursor--
	return h.entries[h.cursor], true
}

// Next moves one entry forward. Moving past the newest entry returns an
// empty line with ok=true, restoring the blank composition buffer.
func (h *History) Next() (string, bool) {
	if h.cursor >= len(h.entries) {
		return "", false
	}
	h.cursor++
	if h.cursor == len(h.entries) {
		return "", true
	}
	return h.entries[h.cursor], true
}

func (h *History) Len() int {
	return len(h.entries)
}
