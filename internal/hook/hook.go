// Package hook invokes the four lifecycle hook scripts InitSupervisor
// calls out to at fixed points in its namespace/pivot sequence. Hook
// scripts themselves are an external collaborator out of this repo's
// scope — this package is deliberately a thin synchronous wrapper.
package hook

import (
	"fmt"
	"os/exec"
	"path/filepath"
)

// Name identifies one of the four lifecycle points a hook script may be
// invoked at.
type Name string

const (
	ParentBeforeClone Name = "parent-before-clone"
	ParentAfterClone  Name = "parent-after-clone"
	ChildBeforePivot  Name = "child-before-pivot"
	ChildAfterPivot   Name = "child-after-pivot"
)

// Run invokes "${libPath}/hook <name>" synchronously, returning an error
// if the script exits non-zero — the caller is expected to abort the
// relevant phase on error, per the fatal-abort contract for hook failures.
func Run(libPath string, name Name) error {
	path := filepath.Join(libPath, "hook")
	cmd := exec.Command(path, string(name))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("hook: %s %s: %w (output: %s)", path, name, err, out)
	}
	return nil
}
