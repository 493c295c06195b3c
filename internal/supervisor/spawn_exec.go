package supervisor

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/canonical/wshd/internal/passwd"
)

// RunSpawn implements the common spawn sequence: it is the entry point
// for the hidden "--spawn" re-exec, already running with stdio wired to
// the interactive PTY slave or the non-interactive pipe ends and already
// session-led (and, for the interactive case, already holding the PTY as
// its controlling terminal) by the Cmd that exec'd it. Everything from
// here on runs as the very first work of a freshly exec'd, single-
// threaded process image, so raw syscalls are safe.
func RunSpawn(arg string) error {
	sr, err := DecodeSpawnArg(arg)
	if err != nil {
		os.Exit(255)
		return err
	}

	// 1. Resolve target user, defaulting to root when empty.
	pw, err := passwd.Lookup(sr.User)
	if err != nil {
		os.Exit(255)
		return err
	}

	// 2 & 3. Build argv: default to the resolved shell, or unpack the
	// request's argv when supplied.
	argv := sr.Argv
	if len(argv) == 0 {
		if pw.Shell == "" {
			os.Exit(255)
			return fmt.Errorf("supervisor: spawn: empty argv and no shell for user %s", pw.Name)
		}
		argv = []string{pw.Shell}
	}

	// 4. Apply rlimits.
	if err := applyRequestRlimits(sr.Rlim); err != nil {
		os.Exit(255)
		return err
	}

	// 5. Apply user identity: setgroups, setgid, setuid (in that
	// order — capabilities drop on setuid). The supplementary group list
	// is set to the user's primary gid only; memberships listed in
	// /etc/group are not added.
	if err := unix.Setgroups([]int{pw.GID}); err != nil {
		os.Exit(255)
		return fmt.Errorf("supervisor: spawn: setgroups: %w", err)
	}
	if err := unix.Setgid(pw.GID); err != nil {
		os.Exit(255)
		return fmt.Errorf("supervisor: spawn: setgid: %w", err)
	}
	if err := unix.Setuid(pw.UID); err != nil {
		os.Exit(255)
		return fmt.Errorf("supervisor: spawn: setuid: %w", err)
	}

	// 6. chdir to the home directory, then to the request dir if given.
	if pw.Dir != "" {
		if err := unix.Chdir(pw.Dir); err != nil {
			os.Exit(255)
			return fmt.Errorf("supervisor: spawn: chdir %s: %w", pw.Dir, err)
		}
	}
	if sr.Dir != "" {
		if err := unix.Chdir(sr.Dir); err != nil {
			os.Exit(255)
			return fmt.Errorf("supervisor: spawn: chdir %s: %w", sr.Dir, err)
		}
	}

	// 7. Build environment.
	env := buildEnv(sr.Env, pw)

	// 8. Restore the signal mask to empty.
	var empty unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &empty, nil); err != nil {
		os.Exit(255)
		return fmt.Errorf("supervisor: spawn: restore sigmask: %w", err)
	}

	// 9. execvpe: resolve argv[0] against PATH when it isn't already a
	// path, then exec.
	target, err := resolveExecutable(argv[0], env)
	if err != nil {
		os.Exit(255)
		return fmt.Errorf("supervisor: spawn: %w", err)
	}
	if err := unix.Exec(target, argv, env); err != nil {
		os.Exit(255)
		return fmt.Errorf("supervisor: spawn: exec %s: %w", target, err)
	}

	return nil
}

// resolveExecutable implements execvpe's PATH search: if name already
// contains a slash it is used as-is (and must exist), otherwise each
// directory in env's PATH is tried in order.
func resolveExecutable(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return name, nil
	}

	path := ""
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			path = e[len("PATH="):]
			break
		}
	}

	for _, dir := range strings.Split(path, ":") {
		if dir == "" {
			dir = "."
		}
		candidate := dir + "/" + name
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%s: not found in PATH", name)
}

func buildEnv(requestEnv []string, pw *passwd.Entry) []string {
	env := append([]string{}, requestEnv...)
	env = append(env, "HOME="+pw.Dir, "USER="+pw.Name)

	hasPath := false
	for _, e := range requestEnv {
		if len(e) >= 5 && e[:5] == "PATH=" {
			hasPath = true
			break
		}
	}
	if !hasPath {
		if pw.UID == 0 {
			env = append(env, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
		} else {
			env = append(env, "PATH=/usr/local/bin:/usr/bin:/bin")
		}
	}

	return env
}
