// Command nstar extracts (or creates) a tar stream inside a running
// wshd container's namespaces, using the host's own tar binary.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/canonical/wshd/internal/nstar"
)

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	if len(argv) < 4 {
		fmt.Fprintf(os.Stderr, "Usage: %s <wshd pid> <user> <destination> [files to compress]\n", argv[0])
		return 1
	}

	pid, err := strconv.Atoi(argv[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid pid")
		return 1
	}

	req := &nstar.Request{
		TargetPID:   pid,
		User:        argv[2],
		Destination: argv[3],
	}
	if len(argv) > 4 {
		req.Files = argv[4:]
	}

	if err := nstar.Run(req); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// Run only returns nil when exec itself somehow returned without
	// replacing the process image — unreachable in the success case.
	return 2
}
