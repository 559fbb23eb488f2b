package types

import (
	"io"
	"os/exec"
)

// Host is a test host the orchestrator talks to. A spawned host carries its process and output
// pipes, an attached host only its Location.
type Host struct {
	ID     string
	Path   string
	Config Config

	Cmd *exec.Cmd
	// Stderr of the process, forwarded to the orchestrator log.
	Stderr io.ReadCloser
	// Stdout of the process. The first line naming a location tells where the host listens.
	Stdout io.ReadCloser
	// Location is known up front for hosts that were started elsewhere.
	Location string
}

// Spawned reports whether the orchestrator started the process behind h.
func (h *Host) Spawned() bool {
	return h.Cmd != nil
}
