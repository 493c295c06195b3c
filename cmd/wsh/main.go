// Command wsh connects to a wshd control socket, sends an exec or signal
// request, and pumps stdio to/from the remote process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/canonical/wshd/internal/wsh"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("wsh", pflag.ContinueOnError)
	socketPath := flags.String("socket", "", "Path to socket")
	user := flags.String("user", "", "User to change to")
	dir := flags.String("dir", "", "Working directory for the running process")
	bindMountSource := flags.String("bind-mount-source", "", "Source directory to bind-mount in to the container")
	bindMountDestination := flags.String("bind-mount-destination", "", "Destination directory to bind-mount in to the container")
	env := flags.StringArray("env", nil, "Environment variables to set for the command; may be repeated")
	rsh := flags.Bool("rsh", false, "RSH compatibility mode")

	// --rsh's sub-grammar (a run of -4/-6/-d/-n/-l/-t flags followed by a
	// host argument) doesn't fit pflag's flat option model, so it is
	// recognized as a standalone leading block rather than interleaved
	// with the other flags the way the original getopt loop allowed.
	rshRequested := len(args) > 0 && args[0] == "--rsh"
	leading := args
	if rshRequested {
		leading = args[1:]
	}
	rest, rshUser, err := preprocessRsh(leading, rshRequested)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := flags.Parse(rest); err != nil {
		return 1
	}
	_ = rsh
	if rshUser != "" {
		*user = rshUser
	}

	if *socketPath == "" {
		fmt.Fprintln(os.Stderr, "wsh: --socket is required")
		return 1
	}

	opts := &wsh.Options{
		SocketPath:           *socketPath,
		User:                 *user,
		Env:                  *env,
		Dir:                  *dir,
		BindMountSource:      *bindMountSource,
		BindMountDestination: *bindMountDestination,
		Argv:                 flags.Args(),
		Interactive:          term.IsTerminal(int(os.Stdin.Fd())),
	}

	code, err := wsh.Run(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wsh:", err)
	}
	return code
}

// preprocessRsh strips leading argv exactly the way the C original's
// --rsh arm does: it scans a block of "-4/-6/-d/-n" ignored flags, "-l
// USER" (captured), "-t TIMEOUT" (ignored), then skips one host argument,
// before handing the remainder to the normal flag parser. When rsh mode
// isn't requested, args is returned unchanged.
func preprocessRsh(args []string, rshRequested bool) (rest []string, user string, err error) {
	if !rshRequested {
		return args, "", nil
	}

	i := 0
	for i < len(args) {
		a := args[i]
		if len(a) != 2 || a[0] != '-' {
			break
		}
		switch a[1] {
		case '4', '6', 'd', 'n':
			i++
		case 'l':
			if i+1 >= len(args) {
				return nil, "", fmt.Errorf("wsh: -l requires an argument")
			}
			user = args[i+1]
			i += 2
		case 't':
			if i+1 >= len(args) {
				return nil, "", fmt.Errorf("wsh: -t requires an argument")
			}
			i += 2
		default:
			return nil, "", fmt.Errorf("wsh: invalid rsh option -%c", a[1])
		}
	}

	if i >= len(args) {
		return nil, "", fmt.Errorf("wsh: --rsh requires a host argument")
	}
	i++ // skip host

	return args[i:], user, nil
}
