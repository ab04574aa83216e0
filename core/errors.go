package core

import (
	"errors"
	"fmt"
)

// ErrMissingGrantContext is returned when a code or refresh token exchange
// has no prior ticket to inherit from. Callers should surface this as an
// invalid_grant error.
var ErrMissingGrantContext = errors.New("no grant context found for exchange")

// MalformedClaimError indicates a stored claim value could not be parsed into
// the shape its kind requires.
type MalformedClaimError struct {
	Type  string
	Value string
	Cause error
}

func (m *MalformedClaimError) Error() string {
	str := fmt.Sprintf("claim %s has malformed value %q", m.Type, m.Value)
	if m.Cause != nil {
		str = fmt.Sprintf("%s (cause: %s)", str, m.Cause.Error())
	}
	return str
}

func (m *MalformedClaimError) Unwrap() error {
	return m.Cause
}

// UnsupportedGrantError is returned for a grant kind the assembler does not
// know how to build a ticket for.
type UnsupportedGrantError struct {
	Grant GrantKind
}

func (u *UnsupportedGrantError) Error() string {
	return fmt.Sprintf("unsupported grant kind %s", u.Grant)
}
