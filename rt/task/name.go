package task

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateName reports whether name is acceptable to Group.Add.
// The returned error wraps ErrInvalidName.
func ValidateName(name string) error {
	if err := validateName(name); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidName, name, err)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return errors.New("empty")
	}
	// Allowed: [A-Za-z0-9._-]
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			if c == '/' {
				return errors.New("contains '/' (not allowed)")
			}
			if strings.ContainsRune(" \t\r\n", rune(c)) {
				return errors.New("contains whitespace (not allowed)")
			}
			return errors.New("contains invalid char (allowed: [A-Za-z0-9._-])")
		}
	}
	return nil
}
