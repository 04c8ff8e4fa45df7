package dashboard

import "io"

// Command is a keyboard action decoded from raw terminal input.
type Command int

const (
	// CmdNone means the byte mapped to nothing.
	CmdNone Command = iota
	// CmdStart begins a run.
	CmdStart
	// CmdStop cancels the running test.
	CmdStop
	// CmdCopy puts the latest result summary on the clipboard.
	CmdCopy
	// CmdExport writes the latest result to a JSON file.
	CmdExport
	// CmdQuit shuts the dashboard down.
	CmdQuit
)

// commandFor maps a raw input byte to a command. The terminal is in raw
// mode, so Enter arrives as '\r' and Ctrl-C as 0x03 rather than a signal.
func commandFor(b byte) Command {
	switch b {
	case '\r', '\n':
		return CmdStart
	case 0x1b: // Esc
		return CmdStop
	case 'c', 'C':
		return CmdCopy
	case 'j', 'J':
		return CmdExport
	case 'q', 'Q', 0x03:
		return CmdQuit
	}
	return CmdNone
}

// ReadKeys decodes commands from r on its own goroutine and delivers them
// on the returned channel. The channel closes when r reaches EOF or fails,
// which the controller treats as quit.
func ReadKeys(r io.Reader) <-chan Command {
	keys := make(chan Command)
	go func() {
		defer close(keys)
		buf := make([]byte, 1)
		for {
			n, err := r.Read(buf)
			if n == 1 {
				if cmd := commandFor(buf[0]); cmd != CmdNone {
					keys <- cmd
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return keys
}
