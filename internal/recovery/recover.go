// Package recovery provides panic recovery for per-layer filter workers.
// Ensures a misbehaving backend adapter or feature source doesn't take down
// the orchestrator and its sibling layers.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverToError wraps a function call with panic recovery. If the function
// panics, the panic is logged with its stack trace and converted to an error
// attributed to operation.
//
// Example:
//
//	err := recovery.RecoverToError(logger, "ExecuteLayer", func() error {
//	    return runLayer(ctx, layer)
//	})
func RecoverToError(logger *slog.Logger, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()

			logger.Error("Panic recovered",
				"operation", operation,
				"panic", r,
				"stack", string(stack),
			)

			err = fmt.Errorf("%s panicked: %v", operation, r)
		}
	}()

	return fn()
}
