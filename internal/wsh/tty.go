package wsh

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// enterRawMode puts f (normally os.Stdin) into raw mode if it is a
// terminal, returning a restore function. If f is not a terminal this is
// a no-op and the returned restore function does nothing.
func enterRawMode(f *os.File) (func(), error) {
	if !term.IsTerminal(int(f.Fd())) {
		return func() {}, nil
	}

	oldState, err := term.MakeRaw(int(f.Fd()))
	if err != nil {
		return nil, err
	}

	return func() {
		_ = term.Restore(int(f.Fd()), oldState)
	}, nil
}

// watchWindowSize replaces the original's process-global SIGWINCH state
// with a single goroutine that owns stdin/ptyMaster for the lifetime of
// the session: on SIGWINCH it reads stdin's current size and forwards it
// to the PTY master, and it applies the size once immediately so the
// remote shell starts with the right dimensions. The returned function
// stops the goroutine and signal watch.
func watchWindowSize(stdin, ptyMaster *os.File) func() {
	if !term.IsTerminal(int(stdin.Fd())) {
		return func() {}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)

	propagate := func() {
		size, err := pty.GetsizeFull(stdin)
		if err != nil {
			return
		}
		_ = pty.Setsize(ptyMaster, size)
	}
	propagate()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				propagate()
			case <-done:
				signal.Stop(ch)
				return
			}
		}
	}()

	return func() { close(done) }
}
