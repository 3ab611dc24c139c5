// Package entry holds the value record kept by in-process backends.
package entry

import "time"

// Entry is a stored value with its expiry
type Entry struct {
	// Value is the serialized payload. Entries own their bytes.
	Value []byte

	// ExpiresAt is nil for entries without expiration
	ExpiresAt *time.Time
}

// New copies value into a new entry. ttl <= 0 means no expiration.
func New(value []byte, ttl time.Duration) *Entry {
	e := &Entry{Value: append([]byte(nil), value...)}

	if ttl > 0 {
		expiry := time.Now().Add(ttl)
		e.ExpiresAt = &expiry
	}

	return e
}

// IsExpired returns true if the entry has expired
func (e *Entry) IsExpired() bool {
	return e.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the entry is expired at now
func (e *Entry) ExpiredAt(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// TTL returns the time remaining until expiration.
// Returns 0 if the entry has no expiration or has already expired.
func (e *Entry) TTL() time.Duration {
	if e.ExpiresAt == nil {
		return 0
	}
	return max(time.Until(*e.ExpiresAt), 0)
}

// Bytes returns a copy of the value
func (e *Entry) Bytes() []byte {
	return append([]byte(nil), e.Value...)
}
