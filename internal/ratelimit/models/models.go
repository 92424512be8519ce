// Package models holds the rate limiting result types shared between stores,
// services, and the pipeline.
package models

import "time"

// UnlimitedSentinel marks decisions for subjects with no configured limit.
// Remaining and Limit carry it together and never mix with finite accounting.
const UnlimitedSentinel = -1

// Decision represents the outcome of a quota check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// RetryAfter is in seconds and only set when the request is denied.
	RetryAfter int `json:"retry_after,omitempty"`
}

// Unlimited builds the terminal sentinel decision for subjects without a
// rate limit spec.
func Unlimited(now time.Time) *Decision {
	return &Decision{
		Allowed:   true,
		Limit:     UnlimitedSentinel,
		Remaining: UnlimitedSentinel,
		ResetAt:   now,
	}
}

// IsUnlimited reports whether this decision carries the no-limit sentinel.
func (d *Decision) IsUnlimited() bool {
	return d.Limit == UnlimitedSentinel
}
