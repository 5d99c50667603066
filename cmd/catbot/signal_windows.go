// Ctrl+C handling on Windows.

//go:build windows

package main

import (
	"os"
	"os/signal"
)

// signalChannel returns a channel receiving os.Interrupt. Windows has no
// SIGTERM; the runtime maps CTRL_BREAK_EVENT and console close to
// os.Interrupt.
func signalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch
}
