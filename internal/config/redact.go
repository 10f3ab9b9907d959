package config

import (
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// RedactURL hides credentials in a subscription URL before it is logged.
// Subscription providers commonly put the access token in the userinfo or
// the query string; the host and path stay visible.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		// Show the first 30 chars of whatever it was
		if len(raw) > 30 {
			return raw[:30] + "... " + redacted
		}
		return raw
	}

	if u.User != nil {
		u.User = url.User(redacted)
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			q[k] = []string{redacted}
		}
		u.RawQuery = q.Encode()
	}

	// url.URL escapes the brackets; keep the marker readable
	out := u.String()
	out = strings.ReplaceAll(out, url.QueryEscape(redacted), redacted)
	return strings.ReplaceAll(out, url.PathEscape(redacted), redacted)
}

// redactSecret shows at most the last two characters of a secret.
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 6 {
		return redacted
	}
	return redacted + secret[len(secret)-2:]
}
