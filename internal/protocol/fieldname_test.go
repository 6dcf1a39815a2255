package protocol

import (
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
)

func TestWireName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		snake string
		wire  string
	}{
		{snake: "url", wire: "url"},
		{snake: "frame_id", wire: "frameId"},
		{snake: "ignore_cache", wire: "ignoreCache"},
		{snake: "windows_virtual_key_code", wire: "windowsVirtualKeyCode"},
		{snake: "x2_y3", wire: "x2Y3"},
		{snake: "include_user_agent_shadow_dom", wire: "includeUserAgentShadowDom"},
	}

	for _, tt := range tests {
		t.Run(tt.snake, func(t *testing.T) {
			t.Parallel()

			if got := WireName(tt.snake); got != tt.wire {
				t.Errorf("WireName(%q) = %q, want %q", tt.snake, got, tt.wire)
			}
			if got := SnakeName(tt.wire); got != tt.snake {
				t.Errorf("SnakeName(%q) = %q, want %q", tt.wire, got, tt.snake)
			}
		})
	}
}

func TestWireName_PassesCamelThrough(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"frameId", "sessionId", "targetId", "expression"} {
		if got := WireName(name); got != name {
			t.Errorf("WireName(%q) = %q, want unchanged", name, got)
		}
	}
}

// randomSnake builds identifiers of lower case words joined by single
// underscores, where each word starts with a letter.
func randomSnake(rng *rand.Rand) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	const tail = letters + "0123456789"
	words := make([]string, 1+rng.IntN(4))
	for i := range words {
		var b strings.Builder
		b.WriteByte(letters[rng.IntN(len(letters))])
		for range rng.IntN(6) {
			b.WriteByte(tail[rng.IntN(len(tail))])
		}
		words[i] = b.String()
	}
	return strings.Join(words, "_")
}

func TestFieldNames_Bijective(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	seen := make(map[string]string)
	for range 2000 {
		snake := randomSnake(rng)
		wire := WireName(snake)
		if strings.Contains(wire, "_") {
			t.Fatalf("WireName(%q) = %q still has underscores", snake, wire)
		}
		if back := SnakeName(wire); back != snake {
			t.Fatalf("SnakeName(WireName(%q)) = %q", snake, back)
		}
		if prev, ok := seen[wire]; ok && prev != snake {
			t.Fatalf("%q and %q both map to %q", prev, snake, wire)
		}
		seen[wire] = snake
		if again := WireName(SnakeName(wire)); again != wire {
			t.Fatalf("WireName(SnakeName(%q)) = %q", wire, again)
		}
	}
}

func TestWireParams_TopLevelOnly(t *testing.T) {
	t.Parallel()

	in := map[string]any{
		"frame_id": "F",
		"headers": map[string]any{
			"x_api_key": "s3cret", "Content-Type": "text/plain",
		},
		"arguments": []any{
			map[string]any{"value": map[string]any{"user_id": 7.0}},
		},
	}
	want := map[string]any{
		"frameId": "F",
		"headers": map[string]any{
			"x_api_key": "s3cret", "Content-Type": "text/plain",
		},
		"arguments": []any{
			map[string]any{"value": map[string]any{"user_id": 7.0}},
		},
	}

	got := WireParams(in)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("WireParams() = %v, want %v", got, want)
	}
	if back := SnakeParams(got); !reflect.DeepEqual(back, in) {
		t.Errorf("SnakeParams(WireParams()) = %v, want %v", back, in)
	}
	if _, ok := in["frameId"]; ok {
		t.Error("WireParams modified its input")
	}
	if WireParams(nil) != nil {
		t.Error("WireParams(nil) should be nil")
	}
}
