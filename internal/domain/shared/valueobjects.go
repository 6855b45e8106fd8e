// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Email Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Email is a normalized (trimmed, lowercase) email address.
type Email string

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// IsValid checks the address has a plausible local@domain.tld shape.
func (e Email) IsValid() bool {
	return emailRegex.MatchString(string(e))
}

// String returns the string representation.
func (e Email) String() string {
	return string(e)
}

// NewEmail creates a normalized Email with validation.
func NewEmail(raw string) (Email, error) {
	e := Email(strings.ToLower(strings.TrimSpace(raw)))
	if !e.IsValid() {
		return "", NewDomainError("shared", "NewEmail", ErrInvalidInput, "invalid email")
	}
	return e, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Percent Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Percent is an integer completion percentage in [0, 100].
type Percent int

const (
	MinPercent Percent = 0
	MaxPercent Percent = 100
)

// IsValid checks if the percent is within range.
func (p Percent) IsValid() bool {
	return p >= MinPercent && p <= MaxPercent
}

// Int returns the underlying int value.
func (p Percent) Int() int {
	return int(p)
}

// IsComplete reports whether the percent is 100.
func (p Percent) IsComplete() bool {
	return p == MaxPercent
}

// NewPercent creates a Percent, rejecting values outside 0-100.
func NewPercent(v int) (Percent, error) {
	p := Percent(v)
	if !p.IsValid() {
		return 0, ErrInvalidPercent
	}
	return p, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Time helpers
// ═══════════════════════════════════════════════════════════════════════════

// Clock returns the current time. Replaced in tests.
type Clock func() time.Time

// SystemClock returns time.Now in UTC, truncated to microseconds so values
// round-trip through Postgres timestamps unchanged.
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// RequireID returns ErrEmptyID wrapped with the field name when id is blank.
func RequireID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return WrapError("progress", "Validate", ErrInvalidID, field+" is required", ErrEmptyID)
	}
	return nil
}
