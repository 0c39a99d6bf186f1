package silo

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLength       = 100
	maxIdentifierLength = 100
	macLength           = 6
)

// NormalizeMAC returns mac as uppercase colon-separated hex.
// "aa:bb:cc:dd:ee:ff", "AA-BB-CC-DD-EE-FF" and "aabb.ccdd.eeff" all
// normalise to "AA:BB:CC:DD:EE:FF". Only 48-bit addresses are accepted.
func NormalizeMAC(mac string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	if len(hw) != macLength {
		return "", fmt.Errorf("%w: %q is not a 48-bit address", ErrInvalidMAC, mac)
	}
	return strings.ToUpper(hw.String()), nil
}

// DeriveIdentifier builds the device identifier for a silo name: runs of
// whitespace become a single underscore. "Silo Norte 2" -> "Silo_Norte_2".
func DeriveIdentifier(name string) string {
	return strings.Join(strings.Fields(name), "_")
}

// ValidateName checks a silo name.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(trimmed) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateIdentifier checks a device identifier. Identifiers end up in relay
// paths and topic payloads, so whitespace and slashes are rejected.
func ValidateIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidIdentifier)
	}
	if utf8.RuneCountInString(identifier) > maxIdentifierLength {
		return fmt.Errorf("%w: identifier exceeds %d characters", ErrInvalidIdentifier, maxIdentifierLength)
	}
	if strings.ContainsAny(identifier, " \t\r\n/") {
		return fmt.Errorf("%w: %q contains whitespace or '/'", ErrInvalidIdentifier, identifier)
	}
	return nil
}

// Validate checks every field of s, including the integration invariant.
func Validate(s *Silo) error {
	if s == nil {
		return ErrInvalidSilo
	}
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, s.Kind)
	}

	hasMAC := s.MACAddress != ""
	hasIdentifier := s.Identifier != ""
	if s.Integrated != (hasMAC && hasIdentifier) || hasMAC != hasIdentifier {
		return fmt.Errorf("%w: integrated must be set exactly when MAC address and identifier are", ErrInvalidSilo)
	}
	if hasMAC {
		normalized, err := NormalizeMAC(s.MACAddress)
		if err != nil {
			return err
		}
		if normalized != s.MACAddress {
			return fmt.Errorf("%w: %q is not normalised", ErrInvalidMAC, s.MACAddress)
		}
	}
	if hasIdentifier {
		if err := ValidateIdentifier(s.Identifier); err != nil {
			return err
		}
	}
	return nil
}
