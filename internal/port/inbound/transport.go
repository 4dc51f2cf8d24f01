// Package inbound defines the inbound port interfaces for the relay core.
// Inbound adapters (stdio, HTTP) implement these interfaces.
package inbound

import (
	"context"
)

// Transport is the inbound port every channel adapter satisfies.
type Transport interface {
	// Start begins serving the channel. Blocks until the context is
	// cancelled or an error occurs. Returns nil on graceful shutdown.
	Start(ctx context.Context) error

	// Close gracefully shuts down the transport and cleans up resources.
	Close() error
}
