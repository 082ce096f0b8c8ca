// Package plugin defines plugin interfaces.
package plugin

import (
	"context"

	"firestige.xyz/ttlbridge/internal/core"
)

// Sink delivers pulse edges to an external system.
type Sink interface {
	Plugin
	Emit(ctx context.Context, edge *core.OutputEdge) error
	Flush(ctx context.Context) error
}
