// Package main provides a small CLI that forwards one host event to the
// cadence daemon. Host integrations without native HTTP support pipe JSON
// events through it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/thebtf/cadence/internal/config"
	"github.com/thebtf/cadence/pkg/hostevent"
)

func main() {
	port := flag.Int("port", 0, "Daemon port (default: from settings)")
	flag.Parse()

	inputData, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[cadence-event] Error: read stdin: %v\n", err)
		os.Exit(1)
	}

	var ev hostevent.Event
	if err := json.Unmarshal(inputData, &ev); err != nil {
		fmt.Fprintf(os.Stderr, "[cadence-event] Error: invalid event JSON: %v\n", err)
		os.Exit(1)
	}

	p := *port
	if p <= 0 {
		p = config.Get().WorkerPort
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := hostevent.NewClient(p).Post(ctx, &ev); err != nil {
		fmt.Fprintf(os.Stderr, "[cadence-event] Error: %v\n", err)
		os.Exit(1)
	}
}
