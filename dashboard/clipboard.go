package dashboard

import (
	"errors"
	"os/exec"

	pipe "gopkg.in/m-lab/pipe.v3"
)

// clipboardCommands are tried in order; the first one present on PATH wins.
var clipboardCommands = [][]string{
	{"pbcopy"},
	{"wl-copy"},
	{"xclip", "-selection", "clipboard"},
	{"xsel", "--clipboard", "--input"},
}

// CopyToClipboard pipes text into the platform clipboard utility. It is the
// default Options.Clipboard; tests substitute their own function.
func CopyToClipboard(text string) error {
	for _, argv := range clipboardCommands {
		if _, err := exec.LookPath(argv[0]); err != nil {
			continue
		}
		return pipe.Run(pipe.Line(
			pipe.Print(text),
			pipe.Exec(argv[0], argv[1:]...),
		))
	}
	return errors.New("no clipboard command available")
}
