package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign returns the hex HMAC-SHA256 of data keyed by secret.
func Sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeStatus lower-cases an exchange status and drops separators so that
// "PARTIALLY_FILLED" and "PartiallyFilled" compare equal.
func NormalizeStatus(s string) Status {
	return Status(strings.ToLower(strings.ReplaceAll(s, "_", "")))
}
