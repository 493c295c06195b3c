package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/canonical/wshd/internal/protocol"
)

// allRlimitResources lists every RLIMIT_* this build knows how to raise to
// its maximum kernel-permitted value. RLIMIT_NOFILE is handled specially
// (its ceiling comes from /proc/sys/fs/nr_open, not RLIM_INFINITY).
var allRlimitResources = []int{
	unix.RLIMIT_AS,
	unix.RLIMIT_CORE,
	unix.RLIMIT_CPU,
	unix.RLIMIT_DATA,
	unix.RLIMIT_FSIZE,
	unix.RLIMIT_LOCKS,
	unix.RLIMIT_MEMLOCK,
	unix.RLIMIT_MSGQUEUE,
	unix.RLIMIT_NICE,
	unix.RLIMIT_NOFILE,
	unix.RLIMIT_NPROC,
	unix.RLIMIT_RSS,
	unix.RLIMIT_RTPRIO,
	unix.RLIMIT_RTTIME,
	unix.RLIMIT_SIGPENDING,
	unix.RLIMIT_STACK,
}

// readNrOpen reads /proc/sys/fs/nr_open in full and parses it as a
// decimal integer. Per spec, a short or otherwise malformed read is
// fatal, not a value to tolerate or default away from: the entire
// trimmed contents must parse cleanly, never a truncated prefix.
func readNrOpen() (uint64, error) {
	data, err := os.ReadFile("/proc/sys/fs/nr_open")
	if err != nil {
		return 0, fmt.Errorf("supervisor: read /proc/sys/fs/nr_open: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	n, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("supervisor: /proc/sys/fs/nr_open contents %q did not parse as an integer: %w", trimmed, err)
	}
	return n, nil
}

// raiseHardRlimits raises every known rlimit's hard (and soft) limit to
// its maximum kernel-permitted value, so that subsequent per-request
// setrlimit calls inside a container can set any soft limit even without
// privilege. RLIMIT_NOFILE's ceiling is /proc/sys/fs/nr_open; every other
// resource uses RLIM_INFINITY.
func raiseHardRlimits() error {
	nrOpen, err := readNrOpen()
	if err != nil {
		return err
	}

	for _, resource := range allRlimitResources {
		var lim unix.Rlimit
		if resource == unix.RLIMIT_NOFILE {
			lim = unix.Rlimit{Cur: nrOpen, Max: nrOpen}
		} else {
			lim = unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}
		}

		if err := unix.Setrlimit(resource, &lim); err != nil {
			return fmt.Errorf("supervisor: setrlimit(resource=%d): %w", resource, err)
		}
	}

	return nil
}

// applyRequestRlimits applies each (resource, soft, hard) triple from a
// spawned request, one setrlimit call per entry.
func applyRequestRlimits(rlim []protocol.Rlimit) error {
	for _, r := range rlim {
		lim := unix.Rlimit{Cur: r.Soft, Max: r.Hard}
		if err := unix.Setrlimit(int(r.Resource), &lim); err != nil {
			return fmt.Errorf("supervisor: setrlimit(resource=%d): %w", r.Resource, err)
		}
	}
	return nil
}
