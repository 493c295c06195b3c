package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// performBindMount services a bind-mount-only request: bind-mount source
// onto destination inside the container and return without spawning
// anything.
func performBindMount(source, destination string) error {
	if err := unix.Mount(source, destination, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("supervisor: bind mount %s -> %s: %w", source, destination, err)
	}
	return nil
}
