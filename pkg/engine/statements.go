package engine

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// The statement layer covers what the expression compiler cannot: fragments
// executed for their side effects. Supported forms are assignment
// (including member/index targets and the +=, -=, *=, /=, %= shorthands),
// deletion with `del name`, and bare expression statements. Statements are
// separated by semicolons or newlines at the top nesting level.

// SyntaxError marks a fragment that is neither a valid expression nor a
// valid statement sequence.
type SyntaxError struct {
	Msg string
}

func (e *SyntaxError) Error() string { return e.Msg }

type stmtKind int

const (
	stmtExpr stmtKind = iota
	stmtAssign
	stmtDelete
)

type selector struct {
	member string      // non-empty for .name access
	index  *vm.Program // compiled index expression for [expr] access
}

type target struct {
	name string
	sels []selector
}

type statement struct {
	kind stmtKind
	lhs  target
	prog *vm.Program // RHS for assignments, the expression for stmtExpr
}

func parseStatements(src string) ([]statement, error) {
	var stmts []statement
	for _, part := range splitStatements(src) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		st, err := parseStatement(part)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
	return stmts, nil
}

func parseStatement(src string) (statement, error) {
	if name, ok := parseDelete(src); ok {
		return statement{kind: stmtDelete, lhs: target{name: name}}, nil
	}

	if pos, op := findAssignOp(src); pos >= 0 {
		lhsEnd := pos
		if op != 0 {
			lhsEnd-- // strip the operator character in front of '='
		}
		lhsText := strings.TrimSpace(src[:lhsEnd])
		rhsText := strings.TrimSpace(src[pos+1:])
		if rhsText == "" {
			return statement{}, &SyntaxError{Msg: "invalid syntax: missing right-hand side"}
		}
		lhs, err := parseTarget(lhsText)
		if err != nil {
			return statement{}, err
		}
		rhsSrc := rhsText
		if op != 0 {
			rhsSrc = fmt.Sprintf("(%s) %c (%s)", lhsText, op, rhsText)
		}
		prog, cerr := expr.Compile(rhsSrc)
		if cerr != nil {
			return statement{}, &SyntaxError{Msg: "invalid syntax: " + compactError(cerr)}
		}
		return statement{kind: stmtAssign, lhs: lhs, prog: prog}, nil
	}

	prog, cerr := expr.Compile(src)
	if cerr != nil {
		return statement{}, &SyntaxError{Msg: "invalid syntax: " + compactError(cerr)}
	}
	return statement{kind: stmtExpr, prog: prog}, nil
}

func parseDelete(src string) (string, bool) {
	rest, ok := strings.CutPrefix(src, "del")
	if !ok || rest == "" || !unicode.IsSpace(rune(rest[0])) {
		return "", false
	}
	name := strings.TrimSpace(rest)
	if !isIdentifier(name) {
		return "", false
	}
	return name, true
}

// splitStatements splits src on semicolons and newlines at the top nesting
// level, honoring string literals and bracket depth.
func splitStatements(src string) []string {
	var parts []string
	var depth int
	var quote byte
	start := 0
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ';', '\n':
			if depth <= 0 {
				parts = append(parts, src[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, src[start:])
	return parts
}

// findAssignOp locates a top-level assignment '=' in src, returning its
// position and the augmented-assignment operator (0 for plain '='). It
// returns -1 when the fragment contains no assignment, so comparison
// operators never match.
func findAssignOp(src string) (int, byte) {
	var depth int
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth > 0 {
				continue
			}
			if i+1 < len(src) && src[i+1] == '=' {
				i++ // skip '=='
				continue
			}
			if i > 0 && strings.IndexByte("=!<>", src[i-1]) >= 0 {
				continue
			}
			if i > 0 && strings.IndexByte("+-*/%", src[i-1]) >= 0 {
				return i, src[i-1]
			}
			return i, 0
		}
	}
	return -1, 0
}

// parseTarget parses an assignment target: an identifier followed by any
// mix of .member and [index] selectors.
func parseTarget(src string) (target, error) {
	name, rest := scanIdentifier(src)
	if name == "" {
		return target{}, &SyntaxError{Msg: fmt.Sprintf("cannot assign to %q", src)}
	}
	t := target{name: name}
	for rest != "" {
		switch rest[0] {
		case '.':
			member, r := scanIdentifier(rest[1:])
			if member == "" {
				return target{}, &SyntaxError{Msg: fmt.Sprintf("cannot assign to %q", src)}
			}
			t.sels = append(t.sels, selector{member: member})
			rest = r
		case '[':
			inner, r, ok := scanBracketed(rest)
			if !ok {
				return target{}, &SyntaxError{Msg: fmt.Sprintf("cannot assign to %q", src)}
			}
			prog, err := expr.Compile(inner)
			if err != nil {
				return target{}, &SyntaxError{Msg: "invalid syntax: " + compactError(err)}
			}
			t.sels = append(t.sels, selector{index: prog})
			rest = r
		default:
			return target{}, &SyntaxError{Msg: fmt.Sprintf("cannot assign to %q", src)}
		}
	}
	return t, nil
}

func scanIdentifier(src string) (string, string) {
	i := 0
	for i < len(src) {
		c := src[i]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 0 && c >= '0' && c <= '9' {
			i++
			continue
		}
		break
	}
	return src[:i], src[i:]
}

// scanBracketed consumes a leading [...] group and returns its contents and
// the remainder after the closing bracket.
func scanBracketed(src string) (inner, rest string, ok bool) {
	depth := 0
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return src[1:i], src[i+1:], true
			}
		}
	}
	return "", "", false
}

func isIdentifier(s string) bool {
	name, rest := scanIdentifier(s)
	return name != "" && rest == ""
}

// execStatement runs one parsed statement against the turn's environment.
func (e *Engine) execStatement(st statement) error {
	env := e.ns.Env()
	switch st.kind {
	case stmtDelete:
		if !e.ns.Delete(st.lhs.name) {
			return fmt.Errorf("name %q is not defined", st.lhs.name)
		}
		return nil
	case stmtExpr:
		_, err := expr.Run(st.prog, env)
		return err
	case stmtAssign:
		val, err := expr.Run(st.prog, env)
		if err != nil {
			return err
		}
		return e.assign(st.lhs, val)
	}
	return nil
}

func (e *Engine) assign(t target, val any) error {
	if len(t.sels) == 0 {
		e.ns.Set(t.name, val)
		return nil
	}

	cur, ok := e.ns.Get(t.name)
	if !ok {
		return fmt.Errorf("name %q is not defined", t.name)
	}
	env := e.ns.Env()
	for _, sel := range t.sels[:len(t.sels)-1] {
		next, err := selectFrom(cur, sel, env)
		if err != nil {
			return err
		}
		cur = next
	}
	return setInto(cur, t.sels[len(t.sels)-1], val, env)
}

func selectFrom(container any, sel selector, env map[string]any) (any, error) {
	if sel.member != "" {
		m, ok := container.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("value of type %T has no member %q", container, sel.member)
		}
		v, ok := m[sel.member]
		if !ok {
			return nil, fmt.Errorf("no member %q", sel.member)
		}
		return v, nil
	}
	key, err := expr.Run(sel.index, env)
	if err != nil {
		return nil, err
	}
	switch c := container.(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("map index must be a string, got %T", key)
		}
		v, ok := c[k]
		if !ok {
			return nil, fmt.Errorf("no entry %q", k)
		}
		return v, nil
	case []any:
		i, ok := asIndex(key)
		if !ok || i < 0 || i >= len(c) {
			return nil, fmt.Errorf("index %s out of range", Repr(key))
		}
		return c[i], nil
	default:
		return nil, fmt.Errorf("value of type %T is not indexable", container)
	}
}

func setInto(container any, sel selector, val any, env map[string]any) error {
	if sel.member != "" {
		m, ok := container.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot assign member %q on %T", sel.member, container)
		}
		m[sel.member] = val
		return nil
	}
	key, err := expr.Run(sel.index, env)
	if err != nil {
		return err
	}
	switch c := container.(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return fmt.Errorf("map index must be a string, got %T", key)
		}
		c[k] = val
		return nil
	case []any:
		i, ok := asIndex(key)
		if !ok || i < 0 || i >= len(c) {
			return fmt.Errorf("index %s out of range", Repr(key))
		}
		c[i] = val
		return nil
	default:
		return fmt.Errorf("cannot assign into value of type %T", container)
	}
}

func asIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// compactError reduces a compile diagnostic to its first line, dropping the
// source snippet the expression library appends.
func compactError(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(msg)
}
