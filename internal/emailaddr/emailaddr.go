package emailaddr

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	localPartRE     = regexp.MustCompile(`^[a-z0-9]([a-z0-9._+-]*[a-z0-9])?$`)
	validHostnameRE = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)
)

// Canonicalize parses and normalizes a sender/recipient email address.
//
// We intentionally keep validation conservative (ASCII local part, no
// display name, no quoted local part) to avoid edge cases in downstream
// channel adapters.
func Canonicalize(address string) (canonical string, localPart string, domain string, err error) {
	raw := strings.TrimSpace(address)
	if raw == "" {
		return "", "", "", fmt.Errorf("address is empty")
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return "", "", "", fmt.Errorf("address must not contain spaces")
	}

	raw = strings.ToLower(raw)

	parts := strings.Split(raw, "@")
	if len(parts) != 2 {
		return "", "", "", fmt.Errorf("invalid address: %q", address)
	}
	localPart = strings.TrimSpace(parts[0])
	domain = strings.TrimSpace(parts[1])
	if localPart == "" || domain == "" {
		return "", "", "", fmt.Errorf("invalid address: %q", address)
	}
	if !localPartRE.MatchString(localPart) {
		return "", "", "", fmt.Errorf("invalid local part: %q", localPart)
	}

	canonicalDomain, err := canonicalizeDomain(domain)
	if err != nil {
		return "", "", "", err
	}
	domain = canonicalDomain

	return localPart + "@" + domain, localPart, domain, nil
}

// canonicalizeDomain normalizes the domain half of an address: lowercase,
// trimmed, trailing dot stripped, validated as a bare hostname.
func canonicalizeDomain(domain string) (string, error) {
	d := strings.TrimSpace(domain)
	d = strings.ToLower(d)
	d = strings.TrimSuffix(d, ".")

	if d == "" {
		return "", fmt.Errorf("domain is empty")
	}
	if strings.Contains(d, "://") {
		return "", fmt.Errorf("domain must not contain protocol: %q", domain)
	}
	if strings.Contains(d, "/") {
		return "", fmt.Errorf("domain must not contain path: %q", domain)
	}
	if strings.Contains(d, " ") {
		return "", fmt.Errorf("domain must not contain spaces: %q", domain)
	}
	if !validHostnameRE.MatchString(d) {
		return "", fmt.Errorf("invalid domain: %q", domain)
	}
	return d, nil
}

// NormalizeMessageID applies Unicode NFC normalization and trims angle
// brackets/whitespace from a channel-native message identifier so the same
// logical message always produces the same idempotency-key input,
// regardless of which adapter delivered it (JMAP wraps ids in
// "<...>", vendor webhooks usually don't).
func NormalizeMessageID(id string) string {
	trimmed := strings.TrimSpace(id)
	trimmed = strings.TrimPrefix(trimmed, "<")
	trimmed = strings.TrimSuffix(trimmed, ">")
	return norm.NFC.String(trimmed)
}
