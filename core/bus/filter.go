package bus

import "time"

// DefaultMaxAge is the staleness threshold used when none is configured.
const DefaultMaxAge = 10 * time.Second

// Freshness drops envelopes whose send time is too old.
type Freshness struct {
	MaxAge time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Fresh reports whether e was sent within MaxAge.
func (f Freshness) Fresh(e Envelope) bool {
	maxAge := f.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	age := now().Sub(time.Unix(e.SentAt, 0))
	return age <= maxAge
}

// SessionMatches reports whether a receiver holding session accepts e.
func SessionMatches(e Envelope, session string) bool {
	return e.Session == session || e.Subject.SessionFree()
}
