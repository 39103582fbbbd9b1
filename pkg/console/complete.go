package console

import (
	"sort"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/coterm/coterm/pkg/engine"
)

// Completion is the result of a tab-completion request.
type Completion struct {
	// Candidates holds the matching identifiers, deduplicated and sorted.
	// Member candidates are fully qualified ("obj.field").
	Candidates []string

	// Insert is the suffix to splice into the line at the cursor when
	// exactly one candidate matches.
	Insert string

	// Listing is the multi-column rendering of the candidates when more
	// than one matches.
	Listing string
}

// Complete computes completion candidates for the trailing token of text.
// width is the terminal width used to lay out a multi-candidate listing.
func Complete(ns *engine.Namespace, text string, width int) Completion {
	token := trailingToken(text)

	var candidates []string
	if dot := strings.LastIndex(token, "."); dot >= 0 {
		candidates = memberCandidates(ns, token[:dot], token[dot+1:])
	} else {
		candidates = globalCandidates(ns, token)
	}

	candidates = dedupSorted(candidates)
	c := Completion{Candidates: candidates}
	switch len(candidates) {
	case 0:
	case 1:
		c.Insert = strings.TrimPrefix(candidates[0], token)
	default:
		c.Listing = columnize(candidates, width)
	}
	return c
}

// trailingToken returns the token under completion: the last
// whitespace-separated word of the in-progress text.
func trailingToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// memberCandidates resolves the object part against the namespace and
// enumerates its members. A failing evaluation yields no candidates; it is
// never surfaced as an error.
func memberCandidates(ns *engine.Namespace, objSrc, prefix string) (out []string) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()

	obj, err := expr.Eval(objSrc, ns.Env())
	if err != nil || obj == nil {
		return nil
	}
	for _, m := range engine.Members(obj) {
		if strings.HasPrefix(m, "_") {
			continue
		}
		if strings.HasPrefix(m, prefix) {
			out = append(out, objSrc+"."+m)
		}
	}
	return out
}

// globalCandidates enumerates namespace keys and the host builtin set. An
// empty token additionally excludes the namespace's seed names, so a bare
// completion lists only what the user or extensions introduced.
func globalCandidates(ns *engine.Namespace, token string) []string {
	var out []string
	for _, name := range ns.Keys() {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if token == "" {
			if !ns.IsSeed(name) {
				out = append(out, name)
			}
			continue
		}
		if strings.HasPrefix(name, token) {
			out = append(out, name)
		}
	}
	if token != "" {
		for _, name := range engine.HostBuiltins() {
			if !strings.HasPrefix(name, "_") && strings.HasPrefix(name, token) {
				out = append(out, name)
			}
		}
	}
	return out
}

func dedupSorted(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, n := range names {
		if i == 0 || names[i-1] != n {
			out = append(out, n)
		}
	}
	return out
}

// columnize lays candidates out in as many columns as fit in width, each
// column as wide as the longest candidate plus two spaces of gutter.
func columnize(names []string, width int) string {
	maxw := 0
	for _, n := range names {
		if len(n) > maxw {
			maxw = len(n)
		}
	}
	cols := width / (maxw + 2)
	if cols < 1 {
		cols = 1
	}

	var b strings.Builder
	for i, n := range names {
		b.WriteString(n)
		if (i+1)%cols == 0 || i == len(names)-1 {
			b.WriteByte('\n')
			continue
		}
		b.WriteString(strings.Repeat(" ", maxw+2-len(n)))
	}
	return strings.TrimRight(b.String(), "\n")
}
