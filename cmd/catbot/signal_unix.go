// SIGINT and SIGTERM handling on Linux, macOS and the BSDs.

//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// signalChannel returns a channel receiving SIGINT and SIGTERM, the signal
// systemd and container runtimes send to stop a service.
func signalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}
