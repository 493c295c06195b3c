package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/canonical/wshd/internal/barrier"
	"github.com/canonical/wshd/internal/handover"
	"github.com/canonical/wshd/internal/hook"
	"github.com/canonical/wshd/internal/unixmsg"
)

// reexecInitChildArg and reexecContinueArg are the hidden subcommands
// wshd re-execs itself with; they are never meant to be typed by a user,
// matching the spec's "--continue: internal re-entry; not for users".
const (
	reexecInitChildArg = "--init-child"
	reexecContinueArg  = "--continue"
	reexecSpawnArg     = "--spawn"
)

// Run drives Phase 0 and Phase 1 on the host, then blocks until the
// phase-2 image signals barrier_child (i.e. until the container is ready
// to accept connections), matching "wshd --run ... --root ...: exit 0 on
// success (detached supervisor)".
func Run(cfg *Config, log *logrus.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Phase 0: bind the control socket and open both barriers before
	// anything is cloned.
	listenFd, err := unixmsg.Listen(cfg.SocketPath())
	if err != nil {
		return fmt.Errorf("supervisor: phase 0: %w", err)
	}

	barrierParent, err := barrier.Open()
	if err != nil {
		return fmt.Errorf("supervisor: phase 0: open parent barrier: %w", err)
	}
	barrierChild, err := barrier.Open()
	if err != nil {
		return fmt.Errorf("supervisor: phase 0: open child barrier: %w", err)
	}

	// Phase 1: unshare the mount namespace so pre-clone hooks mount
	// privately, then run parent-before-clone.
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("supervisor: phase 1: unshare mount namespace: %w", err)
	}

	if err := hook.Run(cfg.Lib, hook.ParentBeforeClone); err != nil {
		return fmt.Errorf("supervisor: phase 1: %w", err)
	}

	if err := raiseHardRlimits(); err != nil {
		return fmt.Errorf("supervisor: phase 1: %w", err)
	}

	state := &handover.State{
		Run:           cfg.Run,
		Lib:           cfg.Lib,
		Root:          cfg.Root,
		Title:         cfg.Title,
		UserNamespace: cfg.UserNamespace,
		ListenFd:      3,
		ParentFd:      4,
		ChildFd:       5,
	}
	handoverFd, err := handover.Save(state)
	if err != nil {
		return fmt.Errorf("supervisor: phase 1: %w", err)
	}

	selfExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("supervisor: phase 1: resolve self exe: %w", err)
	}

	cloneFlags := uintptr(unix.CLONE_NEWIPC | unix.CLONE_NEWNET | unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWUTS)
	if cfg.UserNamespace {
		cloneFlags |= unix.CLONE_NEWUSER
	}

	cmd := exec.Command(selfExe, reexecInitChildArg, strconv.Itoa(6))
	cmd.ExtraFiles = []*os.File{
		os.NewFile(uintptr(listenFd), "listen"),
		os.NewFile(barrierParent.ReadFd(), "barrier-parent-r"),
		os.NewFile(barrierChild.WriteFd(), "barrier-child-w"),
		os.NewFile(uintptr(handoverFd), "handover"),
	}
	cmd.SysProcAttr = &unix.SysProcAttr{
		Cloneflags: cloneFlags,
		Setsid:     true,
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: phase 1: clone child: %w", err)
	}

	// Export the child PID via the PID environment variable for
	// downstream tools and parent-after-clone.
	if err := os.Setenv("PID", strconv.Itoa(cmd.Process.Pid)); err != nil {
		return fmt.Errorf("supervisor: phase 1: %w", err)
	}
	log.WithField("pid", cmd.Process.Pid).Info("cloned container init child")

	if err := hook.Run(cfg.Lib, hook.ParentAfterClone); err != nil {
		return fmt.Errorf("supervisor: phase 1: %w", err)
	}

	if err := barrierParent.Signal(); err != nil {
		return fmt.Errorf("supervisor: phase 1: release barrier_parent: %w", err)
	}
	if err := barrierChild.Wait(); err != nil {
		return fmt.Errorf("supervisor: phase 1: wait barrier_child: %w", err)
	}

	return nil
}
