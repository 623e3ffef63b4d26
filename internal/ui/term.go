package ui

import "golang.org/x/term"

// defaultTermWidth is assumed when the terminal size cannot be queried,
// e.g. when stderr is redirected.
const defaultTermWidth = 80

// IsTTY reports whether fd refers to a terminal. Presenters use it to
// decide between the redrawing status line and plain line-per-event output.
func IsTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// TermWidth returns the terminal width in columns, falling back to
// defaultTermWidth.
func TermWidth(fd uintptr) int {
	w, _, err := term.GetSize(int(fd))
	if err != nil || w <= 0 {
		return defaultTermWidth
	}
	return w
}
