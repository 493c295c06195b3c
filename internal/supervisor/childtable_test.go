package supervisor

import (
	"os"
	"testing"
)

func TestChildTableInsertRemove(t *testing.T) {
	ct := newChildTable()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	defer r.Close()

	ct.insert(100, w)

	got, ok := ct.remove(100)
	if !ok {
		t.Fatal("remove(100) ok = false, want true")
	}
	if got != w {
		t.Fatalf("remove(100) file = %v, want %v", got, w)
	}
	got.Close()

	if _, ok := ct.remove(100); ok {
		t.Fatal("remove(100) after already removed: ok = true, want false")
	}
}

func TestChildTableRemoveUnknownPID(t *testing.T) {
	ct := newChildTable()
	if _, ok := ct.remove(999); ok {
		t.Fatal("remove(999) ok = true, want false for unrecorded pid")
	}
}
