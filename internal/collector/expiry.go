package collector

import "time"

// ExpiryPolicy picks the expiration the engine tracks.
type ExpiryPolicy interface {
	TargetExpiry(now time.Time) string
}

// SessionDate targets the contracts expiring on the current trading date
// in the market's timezone.
type SessionDate struct {
	Location *time.Location
}

func (p SessionDate) TargetExpiry(now time.Time) string {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format("20060102")
}

// FixedExpiry always targets the same YYYYMMDD expiration.
type FixedExpiry string

func (p FixedExpiry) TargetExpiry(time.Time) string {
	return string(p)
}

// NewExpiryPolicy returns FixedExpiry when override is set, else SessionDate.
func NewExpiryPolicy(override string, loc *time.Location) ExpiryPolicy {
	if override != "" {
		return FixedExpiry(override)
	}
	return SessionDate{Location: loc}
}
