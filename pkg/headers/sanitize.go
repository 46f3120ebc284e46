// Package headers normalizes upstream request headers before they are
// attached to a playback source.
package headers

import (
	"net/http"
	"strings"
)

// dropped are never forwarded; they break redirected CDN fetches.
var dropped = map[string]bool{
	"host":           true,
	"content-length": true,
}

// canonical maps known lowercase keys to their standard casing.
var canonical = map[string]string{
	"user-agent": "User-Agent",
	"referer":    "Referer",
	"origin":     "Origin",
}

// Sanitize filters and normalizes a header map.
//
// Host and Content-Length are removed, empty values are dropped, known keys
// (User-Agent, Referer, Origin, Accept*) are written under their canonical
// name and mirrored under a lowercase alias, and unknown keys pass through
// verbatim. It returns nil when nothing survives.
func Sanitize(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}

	out := make(map[string]string, len(in))
	for key, value := range in {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}

		lower := strings.ToLower(key)
		if dropped[lower] {
			continue
		}

		name, known := canonicalName(lower)
		if !known {
			out[key] = value
			continue
		}
		out[name] = value
		out[lower] = value
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func canonicalName(lower string) (string, bool) {
	if name, ok := canonical[lower]; ok {
		return name, true
	}
	if strings.HasPrefix(lower, "accept") {
		return http.CanonicalHeaderKey(lower), true
	}
	return "", false
}

// Apply sets sanitized headers on an outgoing request, skipping the
// lowercase mirrors since http.Header canonicalizes keys itself.
func Apply(req *http.Request, h map[string]string) {
	for key, value := range h {
		if _, known := canonicalName(key); known && key == strings.ToLower(key) {
			continue
		}
		req.Header.Set(key, value)
	}
}

// Canonical returns h without the lowercase mirrors Sanitize adds, for
// callers that hand headers to something other than an http.Request.
func Canonical(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for key, value := range h {
		if _, known := canonicalName(key); known && key == strings.ToLower(key) {
			if _, mirrored := h[http.CanonicalHeaderKey(key)]; mirrored {
				continue
			}
		}
		out[key] = value
	}
	return out
}
