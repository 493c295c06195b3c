package supervisor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/canonical/wshd/internal/protocol"
	"github.com/canonical/wshd/internal/unixmsg"
)

// spawnRequest is the JSON form of protocol.Request passed to the
// "--spawn" re-exec as a base64 command-line argument, since
// syscall.SysProcAttr exposes no way to apply per-request rlimits
// between fork and exec.
type spawnRequest struct {
	Argv []string          `json:"argv"`
	Env  []string          `json:"env"`
	Rlim []protocol.Rlimit `json:"rlim"`
	User string            `json:"user"`
	Dir  string            `json:"dir"`
}

func encodeSpawnRequest(req *protocol.Request) string {
	sr := spawnRequest{Argv: req.Argv, Env: req.Env, Rlim: req.Rlim, User: req.User, Dir: req.Dir}
	data, _ := json.Marshal(sr)
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeSpawnArg reverses encodeSpawnRequest; used by the "--spawn"
// re-exec entry point.
func DecodeSpawnArg(arg string) (*spawnRequest, error) {
	data, err := base64.StdEncoding.DecodeString(arg)
	if err != nil {
		return nil, fmt.Errorf("supervisor: decode spawn arg: %w", err)
	}
	var sr spawnRequest
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("supervisor: unmarshal spawn arg: %w", err)
	}
	return &sr, nil
}

// spawnCommand builds the /proc/self/exe --spawn invocation common to the
// interactive and non-interactive paths; stdio wiring and Setsid/Setctty
// are filled in by the caller.
func spawnCommand(req *protocol.Request) (*exec.Cmd, error) {
	selfExe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolve self exe: %w", err)
	}
	cmd := exec.Command(selfExe, reexecSpawnArg, encodeSpawnRequest(req))
	return cmd, nil
}

// spawnInteractive implements the interactive spawn path: allocate a PTY,
// an exit-status pipe and a pid pipe, send {pty-master, exit-status-read,
// pid-read} to the client, then fork the target with the PTY slave as its
// controlling terminal.
func (a *acceptLoop) spawnInteractive(connFd int, req *protocol.Request) error {
	ptyMaster, ptySlave, err := pty.Open()
	if err != nil {
		return fmt.Errorf("openpty: %w", err)
	}
	defer ptySlave.Close()

	exitR, exitW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("exit-status pipe: %w", err)
	}
	pidR, pidW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("pid pipe: %w", err)
	}

	if err := sendResponse(connFd, []int{int(ptyMaster.Fd()), int(exitR.Fd()), int(pidR.Fd())}); err != nil {
		ptyMaster.Close()
		exitR.Close()
		exitW.Close()
		pidR.Close()
		pidW.Close()
		return err
	}
	// The client now owns its copies; close ours.
	exitR.Close()
	pidR.Close()

	cmd, err := spawnCommand(req)
	if err != nil {
		ptyMaster.Close()
		exitW.Close()
		pidW.Close()
		return err
	}
	cmd.Stdin = ptySlave
	cmd.Stdout = ptySlave
	cmd.Stderr = ptySlave
	cmd.SysProcAttr = &unix.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}

	if err := cmd.Start(); err != nil {
		ptyMaster.Close()
		exitW.Close()
		pidW.Close()
		return fmt.Errorf("start: %w", err)
	}
	ptyMaster.Close() // supervisor keeps no local copy once handed off

	a.afterFork(cmd, exitW, pidW)
	return nil
}

// spawnNonInteractive implements the non-interactive spawn path: three
// std{in,out,err} pipes plus exit-status and pid pipes, sending
// {stdin-write, stdout-read, stderr-read, exit-status-read, pid-read} to
// the client.
func (a *acceptLoop) spawnNonInteractive(connFd int, req *protocol.Request) error {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	exitR, exitW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("exit-status pipe: %w", err)
	}
	pidR, pidW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("pid pipe: %w", err)
	}

	clientFds := []int{int(stdinW.Fd()), int(stdoutR.Fd()), int(stderrR.Fd()), int(exitR.Fd()), int(pidR.Fd())}
	if err := sendResponse(connFd, clientFds); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW, exitR, exitW, pidR, pidW} {
			f.Close()
		}
		return err
	}
	stdinW.Close()
	stdoutR.Close()
	stderrR.Close()
	exitR.Close()
	pidR.Close()

	cmd, err := spawnCommand(req)
	if err != nil {
		for _, f := range []*os.File{stdinR, stdoutW, stderrW, exitW, pidW} {
			f.Close()
		}
		return err
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.SysProcAttr = &unix.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdoutW, stderrW, exitW, pidW} {
			f.Close()
		}
		return fmt.Errorf("start: %w", err)
	}
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	a.afterFork(cmd, exitW, pidW)
	return nil
}

// afterFork writes the child's pid into pidW, records its exit-status-write
// fd in the ChildTable, and releases the supervisor's local copies of the
// exchange fds not already closed by the caller.
func (a *acceptLoop) afterFork(cmd *exec.Cmd, exitW, pidW *os.File) {
	pid := cmd.Process.Pid

	var pidBuf [4]byte
	pidBuf[0] = byte(pid)
	pidBuf[1] = byte(pid >> 8)
	pidBuf[2] = byte(pid >> 16)
	pidBuf[3] = byte(pid >> 24)
	_, _ = pidW.Write(pidBuf[:])
	pidW.Close()

	a.children.insert(pid, exitW)

	// Reaping happens through reapLoop's SIGCHLD handling, not cmd.Wait —
	// this process is PID 1 and must reap every child itself. Release
	// detaches cmd from Go's internal wait bookkeeping so it doesn't race
	// reapLoop's own wait4 calls.
	_ = cmd.Process.Release()
}

func sendResponse(connFd int, fds []int) error {
	wire := protocol.EncodeResponse(&protocol.Response{Version: protocol.Version})
	if err := unixmsg.Send(connFd, wire, fds); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}
