package supervisor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/canonical/wshd/internal/protocol"
	"github.com/canonical/wshd/internal/unixmsg"
)

// acceptLoop is the accept side of InitSupervisor once it has pivoted and
// detached: poll the listening socket, handle one connection to
// completion, repeat. Reaping runs on its own goroutine (see reapLoop),
// driven by signal.Notify rather than sharing this loop's thread, so
// children is the one piece of state genuinely shared across goroutines;
// childTable carries its own lock for exactly that reason.
type acceptLoop struct {
	listenFd int
	children *childTable
	log      *logrus.Logger
}

// run blocks forever, serving connections. It returns only on an
// unrecoverable poll failure.
func (a *acceptLoop) run() error {
	pfds := []unix.PollFd{
		{Fd: int32(a.listenFd), Events: unix.POLLIN},
	}

	for {
		pfds[0].Revents = 0

		_, err := unix.Poll(pfds, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("supervisor: accept loop poll: %w", err)
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			a.handleAccept()
		}
	}
}

// reapLoop runs on its own goroutine for the life of the process, reaping
// every exited child with WNOHANG whenever SIGCHLD is delivered.
//
// This replaces an earlier signalfd-based design: signalfd requires
// SIGCHLD to be blocked via pthread_sigmask on every OS thread that could
// ever receive it, but the Go runtime creates additional M's over the
// program's life (GC workers, threads unparked for blocking syscalls)
// without consulting an ad-hoc mask applied on just one thread, so a
// signalfd could silently stop seeing SIGCHLD. signal.Notify is the
// runtime's own supported mechanism for this: it installs and maintains
// the signal disposition across every thread the runtime manages, so a
// goroutine reading from the channel it feeds always sees every
// instance, regardless of which M happens to be running when a child
// exits.
func reapLoop(children *childTable, log *logrus.Logger) {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, syscall.SIGCHLD)

	// A child may have exited before Notify was registered; drain once up
	// front in addition to every subsequent notification.
	reapExited(children, log)
	for range ch {
		reapExited(children, log)
	}
}

// reapExited reaps every exited child with WNOHANG, delivering each one's
// exit status (or nothing, for death by signal) to its ChildTable entry.
func reapExited(children *childTable, log *logrus.Logger) {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		f, ok := children.remove(pid)
		if !ok {
			// Reparented grandchild: reap silently, no table change.
			continue
		}

		if ws.Exited() {
			var status [4]byte
			binary.LittleEndian.PutUint32(status[:], uint32(ws.ExitStatus()))
			if _, err := f.Write(status[:]); err != nil {
				log.WithError(err).WithField("pid", pid).Debug("write exit status")
			}
		}
		// Signaled: close without writing; client infers death-by-signal
		// from EOF.
		f.Close()
	}
}

func (a *acceptLoop) handleAccept() {
	connFd, err := unixmsg.Accept(a.listenFd)
	if err != nil {
		a.log.WithError(err).Warn("accept failed")
		return
	}
	defer unix.Close(connFd)

	// One correlation ID per connection, threaded through every log line
	// for this request so a single exec or signal can be traced through
	// accept, spawn, and reap without guessing which line belongs to it.
	corrID := uuid.New().String()
	log := a.log.WithField("conn", corrID)

	header, err := unixmsg.PeekHeader(connFd, 5)
	if err != nil {
		log.WithError(err).Warn("short read determining message type, closing connection")
		return
	}
	msgType := protocol.MsgType(header[4])

	switch msgType {
	case protocol.MsgRequest:
		buf := make([]byte, protocol.RequestWireSize)
		fds, err := unixmsg.Recv(connFd, buf, unixmsg.MaxFds)
		if err != nil {
			log.WithError(err).Warn("bad request record, closing connection")
			return
		}
		req, err := protocol.DecodeRequest(buf)
		if err != nil {
			unixmsg.CloseAll(fds)
			log.WithError(err).Warn("malformed request, closing connection")
			return
		}
		a.handleRequest(connFd, req, log)

	case protocol.MsgSignal:
		buf := make([]byte, protocol.SignalWireSize)
		if _, err := unixmsg.Recv(connFd, buf, 0); err != nil {
			log.WithError(err).Warn("bad signal record, closing connection")
			return
		}
		sig, err := protocol.DecodeSignal(buf)
		if err != nil {
			log.WithError(err).Warn("malformed signal, closing connection")
			return
		}
		log.WithField("pid", sig.PID).WithField("signal", sig.Signal).Debug("delivering signal")
		// Fire-and-forget: the result is not propagated to a response.
		_ = unix.Kill(sig.PID, unix.Signal(sig.Signal))

	default:
		log.WithField("type", msgType).Warn("unknown message type, closing connection")
	}
}

func (a *acceptLoop) handleRequest(connFd int, req *protocol.Request, log *logrus.Entry) {
	switch {
	case req.IsBindMount():
		if err := performBindMount(req.BindMountSource, req.BindMountDestination); err != nil {
			log.WithError(err).Warn("bind mount failed")
		}
		return
	case req.Tty:
		if err := a.spawnInteractive(connFd, req); err != nil {
			log.WithError(err).Warn("interactive spawn failed")
		}
	default:
		if err := a.spawnNonInteractive(connFd, req); err != nil {
			log.WithError(err).Warn("non-interactive spawn failed")
		}
	}
}

