// Package tui renders the interactive menu shown to users who connect
// without a target suffix. It draws through a Backend so the core
// never parses terminal escapes itself.
package tui

// Backend is the terminal the menu draws to. The session implements it
// over the SSH channel.
type Backend interface {
	// Write sends raw bytes to the client terminal.
	Write(p []byte) (int, error)

	// EnterAppMode switches the client terminal to the alternate
	// screen before the first frame.
	EnterAppMode() error

	// LeaveAppMode restores the client terminal.
	LeaveAppMode() error
}
