// Package supervisor implements InitSupervisor: the wshd container-init
// process that sets up namespaces and pivot_root, supervises PID 1, and
// serves spawn/signal requests over a control socket.
package supervisor

import (
	"fmt"
	"os"
)

// Config is the Phase 0 configuration parsed from wshd's command line.
type Config struct {
	// Run is the directory the control socket is placed in.
	Run string
	// Lib is the directory containing hook scripts.
	Lib string
	// Root is the directory that becomes / in the new mount namespace.
	Root string
	// Title, if set, is applied to the phase-2 process via proctitle.Set.
	Title string
	// UserNamespace enables CLONE_NEWUSER for the cloned child.
	UserNamespace bool
}

// Validate checks that Run, Lib and Root name existing directories, per
// Phase 0's "verify the three paths exist and are directories" step.
func (c *Config) Validate() error {
	for _, d := range []struct {
		name, path string
	}{
		{"run", c.Run},
		{"lib", c.Lib},
		{"root", c.Root},
	} {
		if d.path == "" {
			return fmt.Errorf("supervisor: --%s is required", d.name)
		}
		info, err := os.Stat(d.path)
		if err != nil {
			return fmt.Errorf("supervisor: --%s %s: %w", d.name, d.path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("supervisor: --%s %s is not a directory", d.name, d.path)
		}
	}
	return nil
}

// SocketPath is the control socket's fixed path under Run.
func (c *Config) SocketPath() string {
	return c.Run + "/wshd.sock"
}
