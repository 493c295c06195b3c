// Package barrier implements the one-shot pipe-based rendezvous InitSupervisor
// uses to synchronize its host and container-child phases.
package barrier

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Barrier is a pipe pair used exactly once per direction: one side calls
// Signal, the other calls Wait. Re-signaling is undefined and not
// supported.
type Barrier struct {
	r *os.File
	w *os.File
}

// Open creates a fresh pipe-backed Barrier.
func Open() (*Barrier, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("barrier: pipe: %w", err)
	}
	return &Barrier{r: r, w: w}, nil
}

// Signal writes exactly one byte to the write end, releasing any current
// or future Wait call.
func (b *Barrier) Signal() error {
	if _, err := b.w.Write([]byte{0}); err != nil {
		return fmt.Errorf("barrier: signal: %w", err)
	}
	return nil
}

// Wait blocks until a single byte has been written by Signal.
func (b *Barrier) Wait() error {
	buf := make([]byte, 1)
	if _, err := b.r.Read(buf); err != nil {
		return fmt.Errorf("barrier: wait: %w", err)
	}
	return nil
}

// CloseOnExec marks both ends close-on-exec, to be called once the
// handshake this barrier exists for has completed and its fds will
// otherwise cross an upcoming execve.
func (b *Barrier) CloseOnExec() error {
	if err := unix.CloseOnExec(int(b.r.Fd())); err != nil {
		return fmt.Errorf("barrier: cloexec read end: %w", err)
	}
	if err := unix.CloseOnExec(int(b.w.Fd())); err != nil {
		return fmt.Errorf("barrier: cloexec write end: %w", err)
	}
	return nil
}

// Close closes both ends of the pipe.
func (b *Barrier) Close() error {
	rerr := b.r.Close()
	werr := b.w.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// ReadFd and WriteFd expose the underlying descriptors, e.g. for inheriting
// one end across a re-exec via ExtraFiles.
func (b *Barrier) ReadFd() uintptr  { return b.r.Fd() }
func (b *Barrier) WriteFd() uintptr { return b.w.Fd() }
