//go:build unix

package signals

import (
	"os"
	"syscall"
)

// ShutdownSignals lists the signals that should stop the daemon gracefully.
// SIGTERM is what Docker and systemd send on stop, so it is included here.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
