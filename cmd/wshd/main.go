// Command wshd is the container-init supervisor: it sets up namespaces
// and pivot_root, then serves exec/signal requests over a control
// socket for the lifetime of the container.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/canonical/wshd/internal/supervisor"
)

func main() {
	log := logrus.New()

	// The first three hidden subcommands are internal re-entry points
	// wshd exec's itself with; they are never meant to be typed by a
	// user, matching "wshd --continue: internal re-entry; not for
	// users."
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--init-child":
			fd, err := strconv.Atoi(os.Args[2])
			if err != nil {
				fmt.Fprintln(os.Stderr, "wshd: bad handover fd:", err)
				os.Exit(1)
			}
			if err := supervisor.RunInitChild(fd); err != nil {
				log.WithError(err).Fatal("init-child phase failed")
			}
			return
		case "--continue":
			fd, err := strconv.Atoi(os.Args[2])
			if err != nil {
				fmt.Fprintln(os.Stderr, "wshd: bad handover fd:", err)
				os.Exit(1)
			}
			if err := supervisor.RunContinue(fd, log); err != nil {
				log.WithError(err).Fatal("continue phase failed")
			}
			return
		case "--spawn":
			if err := supervisor.RunSpawn(os.Args[2]); err != nil {
				log.WithError(err).Error("spawn failed")
			}
			os.Exit(255)
			return
		}
	}

	os.Exit(runDaemon(log, os.Args[1:]))
}

func runDaemon(log *logrus.Logger, args []string) int {
	flags := pflag.NewFlagSet("wshd", pflag.ContinueOnError)
	run := flags.String("run", "", "Directory where server socket is placed")
	lib := flags.String("lib", "", "Directory containing hooks")
	root := flags.String("root", "", "Directory that will become root in the new mount namespace")
	title := flags.String("title", "", "Process title")
	userns := flags.String("userns", "disabled", `Enable a user namespace for the container: "1" or "disabled"`)

	if err := flags.Parse(args); err != nil {
		return 1
	}

	cfg := &supervisor.Config{
		Run:           *run,
		Lib:           *lib,
		Root:          *root,
		Title:         *title,
		UserNamespace: *userns == "1",
	}

	if err := supervisor.Run(cfg, log); err != nil {
		fmt.Fprintln(os.Stderr, "wshd:", err)
		return 1
	}

	return 0
}
