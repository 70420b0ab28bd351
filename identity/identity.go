// Package identity normalizes chat-provider contact identifiers. Provider
// webhooks carry recipients both as opaque provider ids and as display phone
// numbers; admission filtering and delivery need the two compared on equal
// footing, and every log line that mentions a contact must mask the number.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrInvalidContactID = errors.New("identity: invalid contact id")

// NormalizeWaID reduces a provider contact id or MSISDN to its digit form.
// Leading "+", spaces, dashes, and parentheses are dropped; an empty digit
// string is an error.
func NormalizeWaID(value string) (string, error) {
	var digits strings.Builder
	for _, r := range strings.TrimSpace(value) {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
			continue
		}
		switch r {
		case '+', ' ', '-', '(', ')', '.':
			continue
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidContactID, value)
		}
	}
	if digits.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidContactID, value)
	}
	return digits.String(), nil
}

// SameContact reports whether two identifiers refer to the same contact
// after normalization. Unparseable identifiers never match.
func SameContact(a, b string) bool {
	na, err := NormalizeWaID(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeWaID(b)
	if err != nil {
		return false
	}
	return na == nb
}

// MatchesRecipient reports whether a change's recipient identity matches the
// configured identity, comparing the opaque provider id exactly and the
// display number in normalized form.
func MatchesRecipient(configuredID string, phoneNumberID string, displayNumber string) bool {
	configured := strings.TrimSpace(configuredID)
	if configured == "" {
		return true
	}
	if strings.TrimSpace(phoneNumberID) == configured {
		return true
	}
	return SameContact(configured, displayNumber)
}

// MaskPhone hides the middle of a contact identifier for log output, keeping
// enough shape to correlate entries: first three and last two digits.
func MaskPhone(value string) string {
	normalized, err := NormalizeWaID(value)
	if err != nil {
		return "***"
	}
	if len(normalized) <= 5 {
		return strings.Repeat("*", len(normalized))
	}
	return normalized[:3] + strings.Repeat("*", len(normalized)-5) + normalized[len(normalized)-2:]
}
