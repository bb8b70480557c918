// Pourwell Core - automated cocktail dispenser.
//
// This is the main entry point. The binary drives a bank of up to twelve
// peristaltic pumps from a recipe book, and serves the touchscreen and
// configuration UI over HTTP and WebSocket.
//
// Commands:
//   - serve: run the dispenser service (API, MQTT commands, recipe reload)
//   - prime, clean: run every bound pump forward or in reverse
//   - pour: run one pump by volume or time
//   - recipes: list the recipe book against the current pump bindings
//   - version: print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancelling on SIGINT/SIGTERM lets every command stop its pumps on the way out.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
