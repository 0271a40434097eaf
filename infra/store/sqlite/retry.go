package sqlite

import (
	"strings"
	"time"
)

const (
	maxRetries = 3
	baseDelay  = 50 * time.Millisecond
)

// transient reports whether err is a lock contention error worth retrying.
func transient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{"SQLITE_BUSY", "SQLITE_LOCKED", "database is locked", "database table is locked"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func retryOnContention(fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(); !transient(err) {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return err
}
