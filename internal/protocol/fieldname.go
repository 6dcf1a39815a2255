package protocol

import (
	"strings"
	"unicode"
)

// WireName converts a snake_case identifier to the protocol's lowerCamelCase:
// frame_id becomes frameId. Names without underscores are returned as is.
func WireName(name string) string {
	if !strings.Contains(name, "_") {
		return name
	}
	var b strings.Builder
	b.Grow(len(name))
	upper := false
	for i, r := range name {
		switch {
		case r == '_' && i > 0:
			upper = true
		case upper:
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SnakeName converts a lowerCamelCase protocol identifier to snake_case:
// frameId becomes frame_id. It reverses WireName for identifiers made of
// lower case words joined by single underscores.
func SnakeName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// WireParams returns a copy of params with its top-level keys passed
// through WireName. Nested values are kept as they are, since they may hold
// data such as header names or call arguments.
func WireParams(params map[string]any) map[string]any {
	return renameKeys(params, WireName)
}

// SnakeParams returns a copy of params with its top-level keys passed
// through SnakeName. It reverses WireParams.
func SnakeParams(params map[string]any) map[string]any {
	return renameKeys(params, SnakeName)
}

func renameKeys(m map[string]any, fn func(string) string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[fn(k)] = v
	}
	return out
}
