// Package nstar implements NsTarBridge: a namespace-traversing tar
// extractor/creator. It joins a target container's mount (and, best
// effort, user) namespace to resolve a destination path and user
// identity as the container sees them, then re-parents into the host's
// filesystem to run the host's own /bin/tar before dropping to the
// target user's identity.
package nstar

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/canonical/wshd/internal/passwd"
)

// Request describes one nstar invocation.
type Request struct {
	// TargetPID is the container's wshd pid, whose /proc/<pid>/ns/{mnt,user}
	// this process joins.
	TargetPID int
	// User is resolved inside the container's view via /etc/passwd.
	User string
	// Destination is created (if needed) inside the container and is
	// where tar is run.
	Destination string
	// Files, when non-empty, puts nstar in create mode (tar cf - files...);
	// otherwise it extracts (tar xf -) from stdin.
	Files []string
}

// Run executes the full namespace-traversal dance described by req and
// then execs /bin/tar, never returning on success. A non-nil error means
// some preparatory step failed; the caller should exit 1. If Run returns
// nil, something has gone wrong in the exec call itself and the caller
// should treat that as "exec returned" (exit code 2), an unreachable path
// in the successful case.
func Run(req *Request) error {
	mntFd, err := unix.Open(fmt.Sprintf("/proc/%d/ns/mnt", req.TargetPID), unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("nstar: open mnt namespace: %w", err)
	}

	hostRootFd, err := unix.Open("/", unix.O_RDONLY, 0)
	if err != nil {
		unix.Close(mntFd)
		return fmt.Errorf("nstar: open host rootfs: %w", err)
	}

	usrFd, err := unix.Open(fmt.Sprintf("/proc/%d/ns/user", req.TargetPID), unix.O_RDONLY, 0)
	if err != nil {
		unix.Close(mntFd)
		unix.Close(hostRootFd)
		return fmt.Errorf("nstar: open user namespace: %w", err)
	}

	// Switching to the container's mount namespace MUST succeed.
	if err := unix.Setns(mntFd, unix.CLONE_NEWNS); err != nil {
		unix.Close(mntFd)
		unix.Close(hostRootFd)
		unix.Close(usrFd)
		return fmt.Errorf("nstar: setns mnt: %w", err)
	}
	unix.Close(mntFd)

	// Best-effort: the container may not be user-namespaced, in which
	// case uid resolution proceeds against the shared host user
	// database and this call is expected to fail.
	_ = unix.Setns(usrFd, unix.CLONE_NEWUSER)
	unix.Close(usrFd)

	pw, err := passwd.Lookup(req.User)
	if err != nil {
		unix.Close(hostRootFd)
		return fmt.Errorf("nstar: getpwnam %s: %w", req.User, err)
	}

	if err := unix.Chdir(pw.Dir); err != nil {
		unix.Close(hostRootFd)
		return fmt.Errorf("nstar: chdir %s: %w", pw.Dir, err)
	}

	if err := unix.Setgid(0); err != nil {
		unix.Close(hostRootFd)
		return fmt.Errorf("nstar: setgid(0): %w", err)
	}
	if err := unix.Setuid(0); err != nil {
		unix.Close(hostRootFd)
		return fmt.Errorf("nstar: setuid(0): %w", err)
	}

	if err := mkdirAllAs(req.Destination, pw.UID, pw.GID); err != nil {
		unix.Close(hostRootFd)
		return fmt.Errorf("nstar: mkdir_p_as %s (uid=%d gid=%d): %w", req.Destination, pw.UID, pw.GID, err)
	}

	destFd, err := unix.Open(req.Destination, unix.O_RDONLY, 0)
	if err != nil {
		unix.Close(hostRootFd)
		return fmt.Errorf("nstar: open destination: %w", err)
	}

	if err := unix.Fchdir(hostRootFd); err != nil {
		return fmt.Errorf("nstar: fchdir host root: %w", err)
	}
	if err := unix.Chroot("."); err != nil {
		return fmt.Errorf("nstar: chroot host root: %w", err)
	}
	unix.Close(hostRootFd)

	if err := unix.Fchdir(destFd); err != nil {
		return fmt.Errorf("nstar: fchdir destination: %w", err)
	}
	unix.Close(destFd)

	// Drop to the target user's identity only after chroot, so the
	// preceding steps ran with the privilege they need while exec still
	// uses the host's tar with the container user's final identity.
	if err := unix.Setgid(pw.GID); err != nil {
		return fmt.Errorf("nstar: setgid(%d): %w", pw.GID, err)
	}
	if err := unix.Setuid(pw.UID); err != nil {
		return fmt.Errorf("nstar: setuid(%d): %w", pw.UID, err)
	}

	var argv []string
	if len(req.Files) > 0 {
		argv = append([]string{"tar", "cf", "-"}, req.Files...)
	} else {
		argv = []string{"tar", "xf", "-"}
	}

	if err := unix.Exec("/bin/tar", argv, os.Environ()); err != nil {
		return fmt.Errorf("nstar: exec /bin/tar: %w", err)
	}

	return nil
}

// mkdirAllAs recursively creates path component by component, each owned
// by (uid, gid) with mode 0755; pre-existing directories are left with
// their original ownership.
func mkdirAllAs(path string, uid, gid int) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	var acc string
	if path[0] == '/' {
		acc = "/"
		path = path[1:]
	}

	for _, seg := range splitNonEmpty(path) {
		if acc == "" {
			acc = seg
		} else if acc == "/" {
			acc = acc + seg
		} else {
			acc = acc + "/" + seg
		}
		if err := mkdirAs(acc, uid, gid); err != nil {
			return err
		}
	}

	return nil
}

func splitNonEmpty(path string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	return segs
}

// mkdirAs creates dir with mode 0755 owned by (uid, gid); if dir already
// exists, its ownership is left untouched.
func mkdirAs(dir string, uid, gid int) error {
	err := unix.Mkdir(dir, 0o755)
	if err != nil {
		if err == unix.EEXIST {
			return nil
		}
		return err
	}
	return unix.Chown(dir, uid, gid)
}
