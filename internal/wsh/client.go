// Package wsh implements the wsh client: it connects to a wshd control
// socket, sends a spawn/signal/bind-mount request, receives the fd set
// back, and drives PumpLoop until the remote process exits.
package wsh

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/canonical/wshd/internal/protocol"
	"github.com/canonical/wshd/internal/pump"
	"github.com/canonical/wshd/internal/unixmsg"
)

// Options describes one wsh invocation, already past --rsh-compatibility
// flag massaging.
type Options struct {
	SocketPath string
	User       string
	Env        []string
	Dir        string

	BindMountSource      string
	BindMountDestination string

	Argv []string

	// Interactive is set when stdin is a terminal; it decides between
	// the 3-fd PTY path and the 5-fd pipe path.
	Interactive bool
}

// Run connects to opts.SocketPath, sends the appropriate request, and
// pumps I/O until the remote process exits. It returns the exit code the
// caller should use as its own process exit code (0-254 relays the
// child's exit; 255 = transport or signal-termination).
func Run(opts *Options) (int, error) {
	connFd, err := unixmsg.Connect(opts.SocketPath)
	if err != nil {
		return 255, fmt.Errorf("wsh: connect %s: %w", opts.SocketPath, err)
	}
	defer unix.Close(connFd)

	if opts.BindMountSource != "" || opts.BindMountDestination != "" {
		return runBindMount(connFd, opts)
	}

	req := &protocol.Request{
		Version: protocol.Version,
		Type:    protocol.MsgRequest,
		Tty:     opts.Interactive,
		Argv:    opts.Argv,
		Env:     opts.Env,
		User:    opts.User,
		Dir:     opts.Dir,
	}

	wire, err := protocol.EncodeRequest(req)
	if err != nil {
		return 1, fmt.Errorf("wsh: encode request: %w", err)
	}
	if err := unixmsg.Send(connFd, wire, nil); err != nil {
		return 255, fmt.Errorf("wsh: send request: %w", err)
	}

	respBuf := make([]byte, protocol.ResponseWireSize)
	maxFds := 5
	if opts.Interactive {
		maxFds = 3
	}
	fds, err := unixmsg.Recv(connFd, respBuf, maxFds)
	if err != nil {
		return 255, fmt.Errorf("wsh: recv response: %w", err)
	}
	resp, err := protocol.DecodeResponse(respBuf)
	if err != nil {
		unixmsg.CloseAll(fds)
		return 255, fmt.Errorf("wsh: decode response: %w", err)
	}
	if resp.Version != protocol.Version {
		unixmsg.CloseAll(fds)
		return 255, fmt.Errorf("wsh: server speaks version %d, want %d", resp.Version, protocol.Version)
	}

	if opts.Interactive {
		return runInteractive(fds)
	}
	return runNonInteractive(fds)
}

func runBindMount(connFd int, opts *Options) (int, error) {
	req := &protocol.Request{
		Version:              protocol.Version,
		Type:                 protocol.MsgRequest,
		BindMountSource:      opts.BindMountSource,
		BindMountDestination: opts.BindMountDestination,
	}
	wire, err := protocol.EncodeRequest(req)
	if err != nil {
		return 1, fmt.Errorf("wsh: encode bind-mount request: %w", err)
	}
	if err := unixmsg.Send(connFd, wire, nil); err != nil {
		return 255, fmt.Errorf("wsh: send bind-mount request: %w", err)
	}
	return 0, nil
}

func runInteractive(fds []int) (int, error) {
	names := []string{"pty-master", "exit-status-read", "pid-read"}
	files := unixmsg.FilesFromFds(fds, names...)
	ptyMaster, exitStatusRead, pidRead := files[0], files[1], files[2]

	restore, err := enterRawMode(os.Stdin)
	if err == nil {
		defer restore()
	}

	_, _ = pidRead.Read(make([]byte, 4)) // pid is informational only to the client
	pidRead.Close()

	stopWinch := watchWindowSize(os.Stdin, ptyMaster)
	defer stopWinch()

	outcome := pump.Run([]pump.Pair{
		{Name: "stdin->pty", Src: os.Stdin, Dst: ptyMaster},
		{Name: "pty->stdout", Src: ptyMaster, Dst: os.Stdout},
	}, exitStatusRead)

	return exitCodeFor(outcome), nil
}

func runNonInteractive(fds []int) (int, error) {
	names := []string{"stdin-write", "stdout-read", "stderr-read", "exit-status-read", "pid-read"}
	files := unixmsg.FilesFromFds(fds, names...)
	stdinWrite, stdoutRead, stderrRead, exitStatusRead, pidRead := files[0], files[1], files[2], files[3], files[4]

	_, _ = pidRead.Read(make([]byte, 4))
	pidRead.Close()

	outcome := pump.Run([]pump.Pair{
		{Name: "stdin->child", Src: os.Stdin, Dst: stdinWrite},
		{Name: "child->stdout", Src: stdoutRead, Dst: os.Stdout},
		{Name: "child->stderr", Src: stderrRead, Dst: os.Stderr},
	}, exitStatusRead)

	return exitCodeFor(outcome), nil
}

func exitCodeFor(o pump.ExitOutcome) int {
	if o.Signaled {
		return 255
	}
	return o.Code
}

// SendSignal delivers a signal to pid via the control socket, fire and
// forget per spec.
func SendSignal(socketPath string, pid, sig int) error {
	connFd, err := unixmsg.Connect(socketPath)
	if err != nil {
		return fmt.Errorf("wsh: connect %s: %w", socketPath, err)
	}
	defer unix.Close(connFd)

	wire, err := protocol.EncodeSignal(&protocol.Signal{Version: protocol.Version, Signal: sig, PID: pid})
	if err != nil {
		return fmt.Errorf("wsh: encode signal: %w", err)
	}
	if err := unixmsg.Send(connFd, wire, nil); err != nil {
		return fmt.Errorf("wsh: send signal: %w", err)
	}
	return nil
}
