package engine

import (
	"reflect"
	"sort"

	"github.com/expr-lang/expr/builtin"
)

// Members enumerates the member names of a value: map keys, exported
// struct fields and methods. Unsupported values yield nothing.
func Members(v any) []string {
	if v == nil {
		return nil
	}
	set := map[string]bool{}
	if m, ok := v.(map[string]any); ok {
		for k := range m {
			set[k] = true
		}
		return sortedKeys(set)
	}

	t := reflect.TypeOf(v)
	for i := 0; i < t.NumMethod(); i++ {
		set[t.Method(i).Name] = true
	}
	if t.Kind() != reflect.Pointer {
		pt := reflect.PointerTo(t)
		for i := 0; i < pt.NumMethod(); i++ {
			set[pt.Method(i).Name] = true
		}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.IsExported() {
				set[f.Name] = true
			}
		}
	}
	return sortedKeys(set)
}

// HostBuiltins returns the identifier set the expression language itself
// provides (len, filter, string, ...), used alongside namespace keys for
// completion.
func HostBuiltins() []string {
	names := make([]string, 0, len(builtin.Builtins))
	for _, fn := range builtin.Builtins {
		names = append(names, fn.Name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// identical reports whether two values are the same object in the sense
// an interactive shell means: pointer identity for reference types,
// value equality for comparable scalars.
func identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	}
	if va.Comparable() {
		return a == b
	}
	return false
}
