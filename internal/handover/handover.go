// Package handover carries InitSupervisor's phase-1 state across the
// execve boundary into the phase-2 (--continue) image.
//
// The original design copies the state into a SysV shared-memory segment
// keyed by a fixed well-known value, written once by the pre-pivot image
// and read-then-destroyed by the post-pivot image. Per the spec's own
// design note, this is replaced with an anonymous memfd: the phase-1
// child writes the encoded State into a memfd_create'd region, keeps it
// close-on-exec *unset* for that one fd, and passes its number to the
// re-exec'd image via argv rather than a fixed IPC key. The --continue
// image reads it, then closes it — there is nothing to "destroy" since an
// anonymous memfd has no name to unlink and disappears on last close.
package handover

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// State is everything phase-1 needs to hand to the phase-2 images: paths
// resolved on the host side before pivot_root makes them unreachable by
// name, plus the two barrier fds.
type State struct {
	Run   string `json:"run"`
	Lib   string `json:"lib"`
	Root  string `json:"root"`
	Title string `json:"title"`

	UserNamespace bool `json:"user_namespace"`

	ListenFd int `json:"listen_fd"`
	ParentFd int `json:"parent_barrier_fd"`
	ChildFd  int `json:"child_barrier_fd"`
}

// Save encodes state into a fresh anonymous memfd and returns its fd. The
// fd is NOT marked close-on-exec, since the whole point is for it to
// survive the upcoming execve; the caller is responsible for passing its
// number to the next image (e.g. via argv).
func Save(state *State) (int, error) {
	fd, err := unix.MemfdCreate("wshd-handover", 0)
	if err != nil {
		return -1, fmt.Errorf("handover: memfd_create: %w", err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("handover: marshal state: %w", err)
	}

	f := os.NewFile(uintptr(fd), "wshd-handover")
	if _, err := f.Write(data); err != nil {
		f.Close()
		return -1, fmt.Errorf("handover: write memfd: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return -1, fmt.Errorf("handover: seek memfd: %w", err)
	}

	return int(f.Fd()), nil
}

// Load reads and decodes the State previously written by Save from fd,
// then closes fd — an anonymous memfd has no name to unlink, so closing
// its last reference is the entire "destroy the segment" step.
func Load(fd int) (*State, error) {
	f := os.NewFile(uintptr(fd), "wshd-handover")
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("handover: read memfd: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("handover: unmarshal state: %w", err)
	}

	return &state, nil
}
