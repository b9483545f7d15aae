package session

import (
	"strings"

	"github.com/vtu-pay/vtu_pay/internal/identity"
)

// Backends have shipped the session under several envelopes over time; the
// extraction below tries each known shape in order and keeps the first hit.
var (
	envelopeKeys = []string{"data", "result", "payload"}
	tokenKeys    = []string{"token", "access_token", "accessToken"}
	userKeys     = []string{"user", "profile"}
)

// containers lists the top-level object followed by any envelope objects.
func containers(raw map[string]any) []map[string]any {
	out := []map[string]any{raw}
	for _, k := range envelopeKeys {
		if m, ok := raw[k].(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// TryExtractToken returns the first non-empty token found at the top level
// or under data, result or payload, under any of the accepted key spellings.
func TryExtractToken(raw map[string]any) string {
	if raw == nil {
		return ""
	}
	for _, c := range containers(raw) {
		for _, k := range tokenKeys {
			if s, ok := c[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// extractUser finds user-shaped data in a response. It prefers an explicit
// user object, then an envelope that itself looks like a user.
func extractUser(raw map[string]any) (map[string]any, bool) {
	if raw == nil {
		return nil, false
	}
	cs := containers(raw)
	for _, c := range cs {
		for _, k := range userKeys {
			if m, ok := c[k].(map[string]any); ok && len(m) > 0 {
				return m, true
			}
		}
	}
	for _, c := range cs[1:] {
		if looksLikeUser(c) {
			return c, true
		}
	}
	if looksLikeUser(raw) {
		return raw, true
	}
	return nil, false
}

func looksLikeUser(m map[string]any) bool {
	for _, k := range []string{"email", "username", "phone", "phone_number", "phoneNumber"} {
		if s, ok := m[k].(string); ok && s != "" {
			return true
		}
	}
	return false
}

// placeholderUser is used when a login succeeds without any profile in the
// response. It claims a PIN so routing does not force the set-PIN screen
// before the real profile is fetched.
func placeholderUser(email string) identity.User {
	return identity.User{Email: email, HasTransactionPin: true}
}

var (
	successMarkers = []string{"success", "successful", "ok", "true"}
	failureMarkers = []string{"error", "failed", "fail", "failure", "false"}
)

// LooksSuccessful decides whether a 2xx response means the operation
// succeeded. An explicit status wins; when the backend omits it, any
// message that does not mention "fail" counts as success. The message
// heuristic is intentional: some endpoints only ever send a message.
func LooksSuccessful(raw map[string]any) bool {
	if status, ok := statusMarker(raw); ok {
		for _, m := range successMarkers {
			if status == m {
				return true
			}
		}
		for _, m := range failureMarkers {
			if status == m {
				return false
			}
		}
	}
	msg, _ := raw["message"].(string)
	return !strings.Contains(strings.ToLower(msg), "fail")
}

func statusMarker(raw map[string]any) (string, bool) {
	for _, k := range []string{"status", "success"} {
		switch v := raw[k].(type) {
		case string:
			return strings.ToLower(strings.TrimSpace(v)), true
		case bool:
			if v {
				return "true", true
			}
			return "false", true
		}
	}
	return "", false
}

// ResponseMessage returns the human readable message of a response, if any.
func ResponseMessage(raw map[string]any) string {
	for _, c := range containers(raw) {
		if s, ok := c["message"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
