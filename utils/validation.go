package utils

import "fmt"

// allowedChars is a precomputed boolean array for O(1) character validation
var allowedChars [128]bool

func init() {
	for _, c := range "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-:.@" {
		allowedChars[c] = true
	}
}

const charsetHint = "Only alphanumeric ASCII, underscore (_), hyphen (-), colon (:), period (.), and at (@) are allowed"

// ValidationOptions defines the validation rules for a string
type ValidationOptions struct {
	FieldName string // Name of the field for error messages
	MaxLength int    // Maximum allowed length in bytes
}

// ValidateString validates a string against the given options
func ValidateString(value string, opts ValidationOptions) error {
	if len(value) == 0 {
		return fmt.Errorf("%s cannot be empty", opts.FieldName)
	}

	if opts.MaxLength > 0 && len(value) > opts.MaxLength {
		return fmt.Errorf("%s cannot exceed %d bytes, got %d bytes", opts.FieldName, opts.MaxLength, len(value))
	}

	for i, r := range value {
		if r >= 128 || !allowedChars[r] {
			return fmt.Errorf("%s contains invalid character '%c' at position %d. %s", opts.FieldName, r, i, charsetHint)
		}
	}

	return nil
}

// ValidateIdentity validates an identity string used as a storage key segment.
func ValidateIdentity(identity string) error {
	return ValidateString(identity, ValidationOptions{
		FieldName: "identity",
		MaxLength: 64,
	})
}

// ValidateAddress validates a network address submitted to the exemption list.
// IPv4 dotted quads and IPv6 colon-hex forms both fit the allowed charset; the
// checks here guard key construction, they are not address parsing.
func ValidateAddress(address string) error {
	return ValidateString(address, ValidationOptions{
		FieldName: "address",
		MaxLength: 64,
	})
}
