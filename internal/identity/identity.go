// Package identity normalizes and hashes customer identifiers. Raw
// identifiers never leave the process; only SHA-256 digests cross the
// destination boundary.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	disallowedLocal  = regexp.MustCompile(`[^a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]`)
	disallowedDomain = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	consecutiveDots  = regexp.MustCompile(`\.\.+`)
)

// NormalizeEmail lowercases and trims an address, strips characters outside
// the allowed local/domain sets, and collapses consecutive dots. An address
// without an @ is only trimmed and lowercased.
func NormalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))

	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at+1:]

	local = disallowedLocal.ReplaceAllString(local, "")
	local = consecutiveDots.ReplaceAllString(local, ".")
	local = strings.Trim(local, ".")

	domain = disallowedDomain.ReplaceAllString(domain, "")
	domain = strings.Trim(domain, ".")

	return local + "@" + domain
}

// NormalizePhone strips quote characters and whitespace from a phone number
// and lowercases it.
func NormalizePhone(phone string) string {
	phone = strings.ReplaceAll(phone, "'", "")
	return strings.ToLower(strings.TrimSpace(phone))
}

// Hash returns the lowercase hex SHA-256 of an already-normalized value.
func Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// HashEmail normalizes and hashes an email address. Empty input returns "",
// never the hash of the empty string.
func HashEmail(email string) string {
	if strings.TrimSpace(email) == "" {
		return ""
	}
	return Hash(NormalizeEmail(email))
}

// HashPhone normalizes and hashes a phone number. Empty input returns "".
func HashPhone(phone string) string {
	if strings.TrimSpace(strings.ReplaceAll(phone, "'", "")) == "" {
		return ""
	}
	return Hash(NormalizePhone(phone))
}
