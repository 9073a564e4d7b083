// Package testutil holds helpers shared by vmlens package tests.
package testutil

import (
	"context"
	"time"
)

// NewTestContext creates a context that bounds a whole test to 10 seconds,
// long enough for WebSocket round-trips against httptest servers.
func NewTestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
