// Package urlutil provides URL manipulation utilities that preserve original
// encoding, plus helpers that unwrap proxy-redirect URL shapes.
package urlutil

import (
	"net/url"
	"strings"
)

// ResolveURL resolves a potentially relative URL against a base URL.
// Uses string manipulation to preserve original URL encoding.
// Go's url.ResolveReference re-encodes special characters which breaks
// URLs for CDNs that use parentheses, brackets, or other special chars.
func ResolveURL(urlStr string, baseURL string) string {
	if IsHTTP(urlStr) {
		return urlStr
	}

	// Protocol-relative reference inherits the base scheme
	if strings.HasPrefix(urlStr, "//") {
		if parsed, err := url.Parse(baseURL); err == nil && parsed.Scheme != "" {
			return parsed.Scheme + ":" + urlStr
		}
		return "https:" + urlStr
	}

	base := GetBaseDirectory(baseURL)

	if strings.HasPrefix(urlStr, "/") {
		// Absolute path - combine with scheme+host from base
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return base + urlStr
		}
		return parsed.Scheme + "://" + parsed.Host + urlStr
	}

	// Handle parent directory references
	if strings.HasPrefix(urlStr, "../") {
		result := base
		remaining := urlStr
		for strings.HasPrefix(remaining, "../") {
			remaining = remaining[3:]
			// Remove trailing slash and last path component
			result = strings.TrimSuffix(result, "/")
			if lastSlash := strings.LastIndex(result, "/"); lastSlash > 0 {
				result = result[:lastSlash+1]
			}
		}
		return result + remaining
	}

	// Relative path - just append to base directory
	return base + urlStr
}

// GetBaseDirectory returns the directory portion of a URL (without the filename).
// Preserves original encoding.
func GetBaseDirectory(urlStr string) string {
	// Remove query string
	if idx := strings.Index(urlStr, "?"); idx > 0 {
		urlStr = urlStr[:idx]
	}
	// Get directory
	if lastSlash := strings.LastIndex(urlStr, "/"); lastSlash > 0 {
		return urlStr[:lastSlash+1]
	}
	return urlStr
}

// GetSchemeHost extracts scheme://host from a URL.
func GetSchemeHost(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// IsHTTP reports whether s is an absolute http(s) URL.
func IsHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
