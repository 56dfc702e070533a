package device

import (
	"fmt"
	"strings"
)

const (
	maxIDLength   = 128
	maxNameLength = 256
)

// validIDChar reports whether c is allowed in a device identifier.
// Identifiers appear in MQTT topic segments and URL paths, so the
// charset excludes separators for both ('/', '+', '#').
func validIDChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == ':':
		return true
	default:
		return false
	}
}

// ValidateID checks a device identifier for use in topics and paths.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidID, maxIDLength)
	}
	for _, c := range id {
		if !validIDChar(c) {
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidID, c)
		}
	}
	return nil
}

// ValidateDevice checks all fields of a device before persistence.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if _, err := ParseProtocol(string(d.Protocol)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, d.Protocol)
	}
	return nil
}
