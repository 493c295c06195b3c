package passwd

import "testing"

func TestLookupRoot(t *testing.T) {
	e, err := Lookup("root")
	if err != nil {
		t.Fatalf("Lookup(root) error = %v", err)
	}
	if e.UID != 0 {
		t.Fatalf("Lookup(root).UID = %d, want 0", e.UID)
	}
}

func TestLookupDefaultsEmptyToRoot(t *testing.T) {
	empty, err := Lookup("")
	if err != nil {
		t.Fatalf("Lookup(\"\") error = %v", err)
	}
	root, err := Lookup("root")
	if err != nil {
		t.Fatalf("Lookup(root) error = %v", err)
	}
	if empty.UID != root.UID {
		t.Fatalf("Lookup(\"\").UID = %d, want %d", empty.UID, root.UID)
	}
}

func TestLookupUnknownUser(t *testing.T) {
	_, err := Lookup("this-user-should-not-exist-xyz")
	if err == nil {
		t.Fatal("Lookup() error = nil, want error for unknown user")
	}
}
