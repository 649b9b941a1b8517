// Package main is the entry point for the postfeed server. It loads
// configuration, connects to services, sets up routing, and runs the HTTP
// server with graceful shutdown support.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("postfeed failed", "error", err)
		os.Exit(1)
	}
}
