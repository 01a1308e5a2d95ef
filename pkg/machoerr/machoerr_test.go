package machoerr

import (
	"errors"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New("export trie", CycleDetected, 0x40, "child offset revisited")
	kind, ok := KindOf(err)
	if !ok {
		t.Fatal("KindOf returned ok=false for a *Error")
	}
	if kind != CycleDetected {
		t.Errorf("kind = %v, want CycleDetected", kind)
	}
}

func TestKindOfNonMachoError(t *testing.T) {
	if _, ok := KindOf(errors.New("boom")); ok {
		t.Fatal("KindOf returned ok=true for a plain error")
	}
}

func TestErrorMessage(t *testing.T) {
	withDetail := New("chained fixups", TruncatedBlob, 0x100, "page 3 short by 12 bytes")
	if got, want := withDetail.Error(), "chained fixups: truncated blob at offset 0x100: page 3 short by 12 bytes"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	noDetail := New("code signature", BadMagic, 0, "")
	if got, want := noDetail.Error(), "code signature: bad magic at offset 0x0"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestKindStringUnknown(t *testing.T) {
	if got, want := Kind(99).String(), "Kind(99)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
