package purchase

import "strings"

const (
	msgInsufficient = "Insufficient wallet balance. Please fund your wallet and try again."
	msgWrongPin     = "Incorrect transaction PIN. Please try again."
	msgUnverified   = "Please verify your email address to continue."
)

// FriendlyMessage rewrites common settlement failures into text a
// customer understands. Anything else passes through unchanged.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "insufficient"):
		return msgInsufficient
	case isUnverified(lower):
		return msgUnverified
	case strings.Contains(lower, "pin"):
		return msgWrongPin
	default:
		return msg
	}
}

func isUnverified(lower string) bool {
	return strings.Contains(lower, "not verified") ||
		strings.Contains(lower, "unverified") ||
		strings.Contains(lower, "verify your email")
}
