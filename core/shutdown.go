package core

import "context"

// ShutdownFunc releases a resource during graceful shutdown.
// The context carries the remaining shutdown budget.
type ShutdownFunc func(ctx context.Context) error
