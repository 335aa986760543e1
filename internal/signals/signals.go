//go:build !unix

package signals

import "os"

// ShutdownSignals lists the signals that should stop the daemon gracefully.
// Outside Unix (e.g. Windows) only Interrupt exists.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
