package ui

import "golang.org/x/term"

// IsTTY reports whether the given file descriptor refers to a terminal.
func IsTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd)) //nolint:gosec // G115: fds are small non-negative integers
}
