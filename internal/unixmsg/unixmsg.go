// Package unixmsg wraps the unix-domain stream socket primitives wshd and
// wsh use to exchange fixed-size control messages plus out-of-band file
// descriptors.
package unixmsg

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MaxFds bounds the number of ancillary file descriptors a single Send/Recv
// carries — large enough for the five fds a non-interactive spawn response
// sends.
const MaxFds = 5

// Listen unlinks path if present, then binds and listens on a unix stream
// socket at path, returning the listening fd with close-on-exec already
// set.
func Listen(path string) (int, error) {
	_ = unix.Unlink(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("unixmsg: socket: %w", err)
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("unixmsg: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("unixmsg: listen %s: %w", path, err)
	}

	return fd, nil
}

// Accept accepts one connection on listenFd, returning a connected fd with
// close-on-exec set.
func Accept(listenFd int) (int, error) {
	nfd, _, err := unix.Accept4(listenFd, unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("unixmsg: accept: %w", err)
	}
	return nfd, nil
}

// Connect connects to the unix stream socket at path, returning a
// connected fd with close-on-exec set.
func Connect(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("unixmsg: socket: %w", err)
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("unixmsg: connect %s: %w", path, err)
	}

	return fd, nil
}

// Send writes buf as a single message on fd, carrying fds as ancillary
// SCM_RIGHTS data. A single Send corresponds to a single successful Recv
// of the same size on the peer.
func Send(fd int, buf []byte, fds []int) error {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	if err := unix.Sendmsg(fd, buf, oob, nil, 0); err != nil {
		return fmt.Errorf("unixmsg: sendmsg: %w", err)
	}
	return nil
}

// Recv reads one message of exactly len(buf) bytes from fd, and up to
// maxFds ancillary file descriptors. Every returned fd has close-on-exec
// set before Recv returns; descriptors in the message beyond maxFds are
// closed, not leaked. A short read (fewer bytes than len(buf)) is a
// protocol violation and returns an error.
func Recv(fd int, buf []byte, maxFds int) ([]int, error) {
	oob := make([]byte, unix.CmsgSpace(maxFds*4))

	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return nil, fmt.Errorf("unixmsg: recvmsg: %w", err)
	}
	if n != len(buf) {
		return nil, fmt.Errorf("unixmsg: short read: got %d bytes, want %d", n, len(buf))
	}

	fds, err := parseFds(oob[:oobn])
	if err != nil {
		return nil, err
	}

	if len(fds) > maxFds {
		for _, extra := range fds[maxFds:] {
			unix.Close(extra)
		}
		fds = fds[:maxFds]
	}

	for _, f := range fds {
		unix.CloseOnExec(f)
	}

	return fds, nil
}

// PeekHeader looks at the first n bytes available on fd without consuming
// them, so the accept path can decide whether it is about to receive a
// Request or a Signal before committing to a fixed-size Recv.
func PeekHeader(fd int, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, _, _, _, err := unix.Recvmsg(fd, buf, nil, unix.MSG_PEEK)
	if err != nil {
		return nil, fmt.Errorf("unixmsg: peek: %w", err)
	}
	if got != n {
		return nil, fmt.Errorf("unixmsg: peek got %d bytes, want %d", got, n)
	}
	return buf, nil
}

func parseFds(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("unixmsg: parse control message: %w", err)
	}

	var fds []int
	for _, cmsg := range cmsgs {
		got, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return fds, nil
}

// FilesFromFds wraps raw fds as *os.File, taking ownership of each.
func FilesFromFds(fds []int, names ...string) []*os.File {
	files := make([]*os.File, len(fds))
	for i, fd := range fds {
		name := "fd"
		if i < len(names) {
			name = names[i]
		}
		files[i] = os.NewFile(uintptr(fd), name)
	}
	return files
}

// CloseAll closes every fd in fds, ignoring already-closed descriptors.
func CloseAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
