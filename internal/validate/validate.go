// ABOUTME: Input validation helpers shared by the coordination components.
// ABOUTME: Validation failures are reported before any lock or state is touched.

package validate

import "fmt"

// Error describes a rejected input field. Operation boundaries translate it
// into a validation failure result for the caller.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Required rejects empty values.
func Required(field, value string) error {
	if value == "" {
		return &Error{Field: field, Reason: "is required"}
	}
	return nil
}

// MaxLen rejects values longer than max characters.
func MaxLen(field, value string, max int) error {
	if len([]rune(value)) > max {
		return &Error{Field: field, Reason: fmt.Sprintf("exceeds %d characters", max)}
	}
	return nil
}

// RequiredMax combines Required and MaxLen for the common case.
func RequiredMax(field, value string, max int) error {
	if err := Required(field, value); err != nil {
		return err
	}
	return MaxLen(field, value, max)
}
