// Package modifier resolves time-window effects such as the XP booster and
// the streak freeze. Expiry is lazy: it is only decided when the effect is
// read, and the caller must persist the cleared fields in the same write
// that uses the result.
package modifier

import "time"

type Result struct {
	// Active is true when the effect applies at the evaluated instant.
	Active bool
	// Expired is true when the stored effect is still flagged active but its
	// window has elapsed, so its fields must be cleared.
	Expired bool
}

// Evaluate reports whether an effect stored as (active, expiresAt) applies at
// now. An active flag without an expiry is treated as already expired.
func Evaluate(active bool, expiresAt *time.Time, now time.Time) Result {
	if !active {
		return Result{}
	}
	if expiresAt == nil || !now.Before(*expiresAt) {
		return Result{Expired: true}
	}
	return Result{Active: true}
}

// Apply writes the cleared fields back when the effect expired. It is a no-op
// otherwise.
func (r Result) Apply(active *bool, expiresAt **time.Time) {
	if !r.Expired {
		return
	}
	*active = false
	*expiresAt = nil
}

// Consume clears an effect that was just used up, whatever its window.
func Consume(active *bool, expiresAt **time.Time) {
	*active = false
	*expiresAt = nil
}
