// Package proctitle overwrites argv[0]'s backing storage so tools like ps
// show a configured name instead of the binary path, the same trick long
// used by process-supervisor daemons that don't want to carry a C library
// dependency just to call prctl/setproctitle.
package proctitle

import (
	"os"
	"unsafe"
)

// Set overwrites the process's argv[0] in place with title, NUL-padding
// the rest of the original argv[0] storage. It is a no-op if title is
// empty or longer than os.Args[0]; a longer title is not truncated.
//
// os.Args[0]'s string header points directly at the C-allocated argv
// memory the Linux runtime loader set up; writing through an unsafe byte
// slice over that same memory is visible to ps/top exactly as C's
// argv-rewrite flavor of setproctitle is, with no cgo required.
func Set(title string) {
	if title == "" || len(os.Args) == 0 {
		return
	}

	orig := os.Args[0]
	if len(title) > len(orig) {
		return
	}

	buf := unsafe.Slice(unsafe.StringData(orig), len(orig))
	n := copy(buf, title)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
}
