package trie

import (
	"testing"

	"github.com/binaryinspect/machofmt/pkg/machoerr"
)

// uleb128 encodes v as it would appear in a trie node.
func uleb128(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func TestParseTrieSimple(t *testing.T) {
	// root node: no terminal, one child "_f" pointing past the root's own bytes
	var data []byte
	data = append(data, 0x00)                // terminal size 0 (no export at root)
	data = append(data, 0x01)                // 1 child
	data = append(data, []byte("_f\x00")...) // edge string
	childOffset := uint64(len(data)) + 1     // +1 for the uleb128 offset byte itself
	data = append(data, uleb128(childOffset)...)

	// child node: terminal, flags=0 (regular), address=0x1000
	var terminal []byte
	terminal = append(terminal, uleb128(0)...)      // flags
	terminal = append(terminal, uleb128(0x1000)...) // address

	var child []byte
	child = append(child, uleb128(uint64(len(terminal)))...)
	child = append(child, terminal...)
	child = append(child, 0x00) // 0 children

	if uint64(len(data)) != childOffset {
		t.Fatalf("test construction bug: data len %d != computed child offset %d", len(data), childOffset)
	}
	data = append(data, child...)

	entries, err := ParseTrie(data, 0)
	if err != nil {
		t.Fatalf("ParseTrie returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 export, got %d", len(entries))
	}
	if entries[0].Name != "_f" {
		t.Errorf("got name %q, want _f", entries[0].Name)
	}
	if entries[0].Address != 0x1000 {
		t.Errorf("got address %#x, want 0x1000", entries[0].Address)
	}
}

// TestParseTrieCycle builds a trie where node A's only child points back
// to node A itself, and checks that ParseTrie fails with CycleDetected
// instead of looping forever.
func TestParseTrieCycle(t *testing.T) {
	var data []byte
	data = append(data, 0x00)                // terminal size 0
	data = append(data, 0x01)                // 1 child
	data = append(data, []byte("x\x00")...)  // edge string
	data = append(data, uleb128(0)...)       // child offset points back to node 0

	_, err := ParseTrie(data, 0)
	if err == nil {
		t.Fatalf("expected CycleDetected error, got nil")
	}
	kind, ok := machoerr.KindOf(err)
	if !ok {
		t.Fatalf("expected *machoerr.Error, got %T: %v", err, err)
	}
	if kind != machoerr.CycleDetected {
		t.Errorf("got kind %v, want CycleDetected", kind)
	}
}

// TestWalkTrieCycle builds a root that routes "x" to a node at offset 5
// whose own "empty edge" child loops back to offset 5. Offset 0 doubles as
// WalkTrie's "no further child" sentinel, so the self-loop must land on a
// nonzero offset to exercise the visited-set guard rather than the
// sentinel check.
func TestWalkTrieCycle(t *testing.T) {
	data := []byte{
		0x00,             // root: terminal size 0
		0x01,             // root: 1 child
		'x', 0x00,        // edge "x"
		0x05,             // child offset = 5
		0x00,             // node@5: terminal size 0
		0x01,             // node@5: 1 child
		0x00,             // edge "" (immediate NUL)
		0x05,             // child offset = 5 (self loop)
	}

	_, err := WalkTrie(data, "x")
	if err == nil {
		t.Fatalf("expected CycleDetected error, got nil")
	}
	kind, ok := machoerr.KindOf(err)
	if !ok {
		t.Fatalf("expected *machoerr.Error, got %T: %v", err, err)
	}
	if kind != machoerr.CycleDetected {
		t.Errorf("got kind %v, want CycleDetected", kind)
	}
}
