package blackboard

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrSensitiveValue is returned when raw sensitive data is offered as a
// signal value. Use IsSensitiveViolation to check for it.
var ErrSensitiveValue = errors.New("raw sensitive data cannot be used as a signal value")

// Sensitive wraps raw sensitive input (an email address, a message body, an
// IP) so that it cannot leak onto the blackboard by accident. The wrapper has
// no accessor for the raw content; the only things that can leave it are a
// truncated cryptographic hash and derived booleans computed by the caller
// before wrapping.
//
// FromAny rejects Sensitive values, and the wrapper refuses JSON encoding, so
// a Signal can never carry one.
type Sensitive struct {
	raw string
}

// NewSensitive wraps raw sensitive input.
func NewSensitive(raw string) Sensitive {
	return Sensitive{raw: raw}
}

// Hash returns the first 16 hex characters of the SHA-256 of the wrapped
// content - the minimum-length hash form permitted on the blackboard.
func (s Sensitive) Hash() string {
	sum := sha256.Sum256([]byte(s.raw))
	return hex.EncodeToString(sum[:])[:16]
}

// HashValue returns Hash() as a string Value, ready to emit.
func (s Sensitive) HashValue() Value {
	return StringValue(s.Hash())
}

// IsEmpty reports whether the wrapped content is empty.
func (s Sensitive) IsEmpty() bool {
	return s.raw == ""
}

// String implements fmt.Stringer with a redacted placeholder so accidental
// logging never prints the wrapped content.
func (s Sensitive) String() string {
	return "[sensitive]"
}

// MarshalJSON always fails: sensitive data must not be serialized.
func (s Sensitive) MarshalJSON() ([]byte, error) {
	return nil, ErrSensitiveValue
}

// IsSensitiveViolation returns true if the error is a sensitive-data policy
// violation.
func IsSensitiveViolation(err error) bool {
	return errors.Is(err, ErrSensitiveValue)
}
