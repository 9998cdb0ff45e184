// Package schedule wraps cron expression handling for the periodic jobs.
// Expressions are validated once at startup; at runtime the jobs only need
// the next tick (to sleep until) and the previous tick (to seed the very
// first aggregation window).
package schedule

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Validate reports an error when expr is not a parseable cron expression.
func Validate(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// NextAfter returns the first tick of expr strictly after t.
func NextAfter(expr string, t time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(expr, t, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to compute next tick of %q: %w", expr, err)
	}
	return next, nil
}

// PrevBefore returns the last tick of expr strictly before t.
func PrevBefore(expr string, t time.Time) (time.Time, error) {
	prev, err := gronx.PrevTickBefore(expr, t, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to compute previous tick of %q: %w", expr, err)
	}
	return prev, nil
}
