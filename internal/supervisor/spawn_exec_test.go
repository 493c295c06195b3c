package supervisor

import (
	"testing"

	"github.com/canonical/wshd/internal/passwd"
)

func TestBuildEnvDefaultsPathForRoot(t *testing.T) {
	pw := &passwd.Entry{Name: "root", UID: 0, GID: 0, Dir: "/root"}
	env := buildEnv(nil, pw)

	want := map[string]string{
		"HOME": "/root",
		"USER": "root",
		"PATH": "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	}
	assertEnvContains(t, env, want)
}

func TestBuildEnvDefaultsPathForNonRoot(t *testing.T) {
	pw := &passwd.Entry{Name: "alice", UID: 1000, GID: 1000, Dir: "/home/alice"}
	env := buildEnv(nil, pw)

	want := map[string]string{
		"HOME": "/home/alice",
		"USER": "alice",
		"PATH": "/usr/local/bin:/usr/bin:/bin",
	}
	assertEnvContains(t, env, want)
}

func TestBuildEnvPropagatesRequestPath(t *testing.T) {
	pw := &passwd.Entry{Name: "alice", UID: 1000, GID: 1000, Dir: "/home/alice"}
	env := buildEnv([]string{"PATH=/custom/bin"}, pw)

	assertEnvContains(t, env, map[string]string{"PATH": "/custom/bin"})
}

func assertEnvContains(t *testing.T, env []string, want map[string]string) {
	t.Helper()
	got := map[string]string{}
	for _, e := range env {
		for k := range want {
			prefix := k + "="
			if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
				got[k] = e[len(prefix):]
			}
		}
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("env[%s] = %q, want %q (env=%v)", k, got[k], v, env)
		}
	}
}

func TestResolveExecutableAbsolutePath(t *testing.T) {
	if _, err := resolveExecutable("/bin/does-not-exist-xyz", nil); err == nil {
		t.Fatal("resolveExecutable() error = nil, want error for missing absolute path")
	}
}

func TestResolveExecutableSearchesPath(t *testing.T) {
	path, err := resolveExecutable("sh", []string{"PATH=/nonexistent:/bin:/usr/bin"})
	if err != nil {
		t.Skipf("sh not found in /bin or /usr/bin in this environment: %v", err)
	}
	if path == "" {
		t.Fatal("resolveExecutable() returned empty path with nil error")
	}
}
