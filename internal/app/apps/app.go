// Package apps wires the protocol packages into runnable client and server
// processes driven by fixed-rate update loops.
package apps

import (
	"context"
	"time"
)

// App is a runnable CLI application.
type App interface {
	Run(ctx context.Context, args []string) error
}

// tickInterval is the update loop rate shared by both apps, 20 Hz.
const tickInterval = 50 * time.Millisecond
