package visualization

import (
	"fmt"
	"os/exec"
	"runtime"
)

// browserCommands maps GOOS to the command that opens a URL.
var browserCommands = map[string][]string{
	"linux":   {"xdg-open"},
	"freebsd": {"xdg-open"},
	"darwin":  {"open"},
	"windows": {"cmd", "/c", "start"},
}

// OpenBrowser opens url in the user's default browser without waiting for it.
func OpenBrowser(url string) error {
	args, ok := browserCommands[runtime.GOOS]
	if !ok {
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	cmd := exec.Command(args[0], append(args[1:], url)...)
	return cmd.Start()
}
