// Package safego launches background goroutines that survive their own panics.
package safego

import "log/slog"

// Go runs fn in a new goroutine, recovering and logging any panic instead of
// taking the process down. Use it for fire-and-forget work like the retention
// sweep and notification fan-out, where an unrecovered panic would silently
// stop the loop until the next restart.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
