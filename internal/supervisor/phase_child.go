package supervisor

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/canonical/wshd/internal/handover"
	"github.com/canonical/wshd/internal/hook"
	"github.com/canonical/wshd/internal/proctitle"
)

// RunInitChild implements the first phase-2 image: wait on barrier_parent,
// pivot the root filesystem, then re-exec itself a second time as
// --continue. It never returns on success.
func RunInitChild(handoverFd int) error {
	state, err := handover.Load(handoverFd)
	if err != nil {
		return fmt.Errorf("supervisor: init-child: %w", err)
	}

	barrierParentR := os.NewFile(uintptr(state.ParentFd), "barrier-parent-r")
	barrierChildW := os.NewFile(uintptr(state.ChildFd), "barrier-child-w")

	if _, err := barrierParentR.Read(make([]byte, 1)); err != nil {
		return fmt.Errorf("supervisor: init-child: wait barrier_parent: %w", err)
	}

	if err := hook.Run(state.Lib, hook.ChildBeforePivot); err != nil {
		return fmt.Errorf("supervisor: init-child: %w", err)
	}

	if err := pivotRoot(state.Root); err != nil {
		return fmt.Errorf("supervisor: init-child: %w", err)
	}

	if err := fixupDevPtmx(); err != nil {
		return fmt.Errorf("supervisor: init-child: %w", err)
	}

	if err := unix.Setuid(0); err != nil {
		return fmt.Errorf("supervisor: init-child: setuid(0): %w", err)
	}
	if err := unix.Setgid(0); err != nil {
		return fmt.Errorf("supervisor: init-child: setgid(0): %w", err)
	}

	// child-after-pivot refers to the hook directory via its now-pivoted
	// path, since the lib path the host passed in is no longer reachable
	// by its original name.
	pivotedLib := "/tmp/garden-host" + state.Lib
	if err := hook.Run(pivotedLib, hook.ChildAfterPivot); err != nil {
		return fmt.Errorf("supervisor: init-child: %w", err)
	}

	newHandoverFd, err := handover.Save(state)
	if err != nil {
		return fmt.Errorf("supervisor: init-child: %w", err)
	}

	selfExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("supervisor: init-child: resolve self exe: %w", err)
	}

	// Plain exec, no fork: this is the "same binary, argument --continue"
	// re-entry, carried out in the current process image.
	argv := []string{selfExe, reexecContinueArg, strconv.Itoa(newHandoverFd)}
	env := append(os.Environ())

	_ = barrierChildW // inherited fd carried across exec for --continue to use

	if err := unix.Exec(selfExe, argv, env); err != nil {
		return fmt.Errorf("supervisor: init-child: exec --continue: %w", err)
	}

	return nil
}

// pivotRoot bind-mounts root onto itself recursively, chdirs into it,
// prepares tmp/garden-host, and pivots into it.
func pivotRoot(root string) error {
	if err := unix.Mount(root, root, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind-mount root onto itself: %w", err)
	}

	if err := unix.Chdir(root); err != nil {
		return fmt.Errorf("chdir %s: %w", root, err)
	}

	if err := os.Chmod("tmp", 0o1777); err != nil {
		return fmt.Errorf("chmod tmp: %w", err)
	}

	if err := os.MkdirAll("tmp/garden-host", 0o700); err != nil {
		return fmt.Errorf("mkdir tmp/garden-host: %w", err)
	}

	if err := unix.PivotRoot(".", "tmp/garden-host"); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}

	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}

	return nil
}

// fixupDevPtmx ensures /dev/ptmx is a symlink to /dev/pts/ptmx, unlinking
// any pre-existing entry first (the rootfs may ship its own /dev/ptmx
// device node or regular file).
func fixupDevPtmx() error {
	_ = os.Remove("/dev/ptmx")
	if err := os.Symlink("/dev/pts/ptmx", "/dev/ptmx"); err != nil {
		return fmt.Errorf("symlink /dev/ptmx: %w", err)
	}
	return nil
}

// RunContinue implements the second phase-2 image: load the handover
// state, hide the host rootfs, detach stdio, and enter the accept loop.
// It returns only on fatal setup failure; on success it blocks in the
// accept loop forever.
func RunContinue(handoverFd int, log *logrus.Logger) error {
	state, err := handover.Load(handoverFd)
	if err != nil {
		return fmt.Errorf("supervisor: continue: %w", err)
	}

	listenFile := os.NewFile(uintptr(state.ListenFd), "listen")
	barrierChildW := os.NewFile(uintptr(state.ChildFd), "barrier-child-w")

	if err := unix.CloseOnExec(int(listenFile.Fd())); err != nil {
		return fmt.Errorf("supervisor: continue: cloexec listen fd: %w", err)
	}
	if err := unix.CloseOnExec(int(barrierChildW.Fd())); err != nil {
		return fmt.Errorf("supervisor: continue: cloexec barrier fd: %w", err)
	}

	proctitle.Set(state.Title)

	if err := unix.Unmount("/tmp/garden-host", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("supervisor: continue: unmount /tmp/garden-host: %w", err)
	}

	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("supervisor: continue: setsid: %w", err)
	}

	if _, err := barrierChildW.Write([]byte{0}); err != nil {
		return fmt.Errorf("supervisor: continue: signal barrier_child: %w", err)
	}

	os.Stdin.Close()
	os.Stdout.Close()
	os.Stderr.Close()

	children := newChildTable()
	go reapLoop(children, log)

	loop := &acceptLoop{
		listenFd: int(listenFile.Fd()),
		children: children,
		log:      log,
	}
	return loop.run()
}
