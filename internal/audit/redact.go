// Package audit implements spec.md §4.9/§8: append-only audit events with
// PII redaction applied before persistence. Grounded line-for-line on
// original_source/.../observability/redaction.py's mask_email/
// mask_telephone/mask_file_url/redact_dict.
package audit

import (
	"encoding/json"
	"net/url"
	"strings"
)

// sensitiveKeys are redacted outright regardless of value shape (spec.md
// §4.9).
var sensitiveKeys = map[string]bool{
	"unit_price": true,
	"amount":     true,
	"address":    true,
	"token":      true,
	"api_key":    true,
	"password":   true,
	"smtp_pass":  true,
}

// urlKeys name fields whose http(s) URL value gets truncated to
// scheme://host/.../lastSegment.
var urlKeys = map[string]bool{
	"file_url":  true,
	"url":       true,
	"order_url": true,
}

const redactedPlaceholder = "***REDACTED***"

// MaskEmail renders "a***@domain" from a local@domain address (a local part
// of at most one character, or one already masked to "***", becomes "***").
// Idempotent: MaskEmail(MaskEmail(e)) == MaskEmail(e) (spec.md §8
// round-trip law), since "a***" keeps its first character and "***" is
// left as it is.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return redactedPlaceholder
	}
	masked := "***"
	if len(local) > 1 && local != "***" {
		masked = string(local[0]) + "***"
	}
	return masked + "@" + domain
}

// MaskTelephone keeps the first two and last two digits visible, masking
// the rest; inputs of 4-6 characters keep only the first and last digit,
// and inputs shorter than 4 are redacted outright. Idempotent for any input
// of length >= 4 since the masked forms ("XX****XX", "X****X") re-mask to
// themselves.
func MaskTelephone(phone string) string {
	if len(phone) < 4 {
		return redactedPlaceholder
	}
	if len(phone) <= 6 {
		return string(phone[0]) + "****" + string(phone[len(phone)-1])
	}
	return phone[:2] + "****" + phone[len(phone)-2:]
}

// MaskFileURL collapses a URL's path to its last segment:
// scheme://host/.../lastSegment. Idempotent for URLs with a non-empty path,
// because the masked path ends in the same last segment. A URL with no path
// becomes scheme://host/***, which re-masks to scheme://host/.../***.
func MaskFileURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return redactedPlaceholder
	}
	segment := ""
	trimmed := strings.Trim(parsed.Path, "/")
	if trimmed != "" {
		parts := strings.Split(trimmed, "/")
		segment = parts[len(parts)-1]
	}
	if segment == "" {
		return parsed.Scheme + "://" + parsed.Host + "/***"
	}
	return parsed.Scheme + "://" + parsed.Host + "/.../" + segment
}

// Redact walks v (any JSON-marshalable value) via a round trip through
// map[string]any/[]any, applying the field-name-driven masking rules above
// recursively through nested maps and lists (spec.md §4.9). This mirrors
// the reference's dict-walking redact_dict; Go has no generic "walk any
// struct's fields by name" without reflection tricks uglier than the
// json round trip, so the round trip is the faithful translation.
func Redact(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return redactValue(generic), nil
}

func redactValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return redactMap(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}

func redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		lower := strings.ToLower(key)
		switch {
		case lower == "email":
			if s, ok := value.(string); ok {
				out[key] = MaskEmail(s)
				continue
			}
		case lower == "telephone":
			if s, ok := value.(string); ok {
				out[key] = MaskTelephone(s)
				continue
			}
		case urlKeys[lower]:
			if s, ok := value.(string); ok && (strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")) {
				out[key] = MaskFileURL(s)
				continue
			}
		case sensitiveKeys[lower]:
			out[key] = redactedPlaceholder
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}
