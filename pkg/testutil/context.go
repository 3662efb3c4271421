package testutil

import (
	"context"
	"time"

	"caltrack/pkg/requestcontext"
)

// Day is a convenience for scenario tests that reason in whole days
// ("calibrates on day 0, due on day 60").
const Day = 24 * time.Hour

// FixedTime is an arbitrary stable instant for deterministic tests.
var FixedTime = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

// Context returns a background context pinned to FixedTime.
func Context() context.Context {
	return requestcontext.WithTime(context.Background(), FixedTime)
}

// ContextAt returns a background context pinned to the given instant.
func ContextAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

// ContextAfter returns a background context pinned FixedTime+d.
func ContextAfter(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), FixedTime.Add(d))
}
