package main

import (
	"reflect"
	"testing"
)

func TestPreprocessRshNotRequested(t *testing.T) {
	args := []string{"--socket", "/run/x"}
	rest, user, err := preprocessRsh(args, false)
	if err != nil {
		t.Fatalf("preprocessRsh() error = %v", err)
	}
	if user != "" {
		t.Fatalf("user = %q, want empty", user)
	}
	if !reflect.DeepEqual(rest, args) {
		t.Fatalf("rest = %v, want %v", rest, args)
	}
}

func TestPreprocessRshIgnoresFlagsAndCapturesUser(t *testing.T) {
	args := []string{"-4", "-l", "alice", "-t", "30", "myhost", "echo", "hi"}
	rest, user, err := preprocessRsh(args, true)
	if err != nil {
		t.Fatalf("preprocessRsh() error = %v", err)
	}
	if user != "alice" {
		t.Fatalf("user = %q, want alice", user)
	}
	if !reflect.DeepEqual(rest, []string{"echo", "hi"}) {
		t.Fatalf("rest = %v, want [echo hi]", rest)
	}
}

func TestPreprocessRshRequiresHost(t *testing.T) {
	_, _, err := preprocessRsh([]string{"-l", "alice"}, true)
	if err == nil {
		t.Fatal("preprocessRsh() error = nil, want error for missing host")
	}
}

func TestPreprocessRshRejectsUnknownOption(t *testing.T) {
	_, _, err := preprocessRsh([]string{"-z", "host"}, true)
	if err == nil {
		t.Fatal("preprocessRsh() error = nil, want error for unknown rsh option")
	}
}
