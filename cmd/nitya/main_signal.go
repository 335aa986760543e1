//go:build !excludemain

package main

import (
	"os"
	"os/signal"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/signals"
)

var waitForShutdownSignalStub = false

func init() {
	daemonWaitForShutdown = waitForShutdownSignal
}

func waitForShutdownSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals.ShutdownSignals()...)
	<-ch
}
