// Package passwd resolves user records the way getpwnam(3) would,
// including the shell field os/user leaves out. It parses /etc/passwd
// directly rather than reaching for cgo, keeping every binary in this
// repo static-link friendly.
package passwd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Entry mirrors the fields of a struct passwd this repo's spawn sequence
// actually needs.
type Entry struct {
	Name  string
	UID   int
	GID   int
	Dir   string
	Shell string
}

// Lookup resolves name against /etc/passwd, defaulting to "root" when
// name is empty, matching the common spawn sequence's getpwnam(req.user)
// default.
func Lookup(name string) (*Entry, error) {
	if name == "" {
		name = "root"
	}

	f, err := os.Open("/etc/passwd")
	if err != nil {
		return nil, fmt.Errorf("passwd: open /etc/passwd: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ":")
		if len(fields) < 7 {
			continue
		}
		if fields[0] != name {
			continue
		}

		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("passwd: malformed uid for %s: %w", name, err)
		}
		gid, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("passwd: malformed gid for %s: %w", name, err)
		}

		return &Entry{
			Name:  fields[0],
			UID:   uid,
			GID:   gid,
			Dir:   fields[5],
			Shell: fields[6],
		}, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("passwd: scan /etc/passwd: %w", err)
	}

	return nil, fmt.Errorf("passwd: no such user %q", name)
}
