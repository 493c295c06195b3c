package nstar

import (
	"os"
	"syscall"
	"testing"
)

func TestSplitNonEmpty(t *testing.T) {
	cases := []struct {
		path string
		want []string
	}{
		{"a/b/c", []string{"a", "b", "c"}},
		{"/a/b/c", []string{"a", "b", "c"}},
		{"a//b", []string{"a", "b"}},
		{"", nil},
	}

	for _, tc := range cases {
		got := splitNonEmpty(tc.path)
		if len(got) != len(tc.want) {
			t.Fatalf("splitNonEmpty(%q) = %v, want %v", tc.path, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("splitNonEmpty(%q) = %v, want %v", tc.path, got, tc.want)
			}
		}
	}
}

func TestMkdirAllAsCreatesNestedDirsWithOwnership(t *testing.T) {
	base := t.TempDir()
	target := base + "/a/b/c"

	if err := mkdirAllAs(target, os.Getuid(), os.Getgid()); err != nil {
		t.Fatalf("mkdirAllAs() error = %v", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat target: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("target %s was not created as a directory", target)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		t.Fatalf("stat target: no Stat_t")
	}
	if int(st.Uid) != os.Getuid() || int(st.Gid) != os.Getgid() {
		t.Fatalf("target owner = %d:%d, want %d:%d", st.Uid, st.Gid, os.Getuid(), os.Getgid())
	}
}
