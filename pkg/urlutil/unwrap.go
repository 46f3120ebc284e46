package urlutil

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
)

// maxUnwrapDepth bounds nested proxy wrappers.
const maxUnwrapDepth = 4

// proxyPathSuffixes are path endings of known proxy-redirect endpoints.
var proxyPathSuffixes = []string{
	"/proxy",
	"/m3u8-proxy",
	"/mp4-proxy",
	"/proxy/stream",
	"/proxy/hls/manifest.m3u8",
}

// UnwrapProxyURL strips known proxy-redirect wrappers from a stream URL and
// returns the real upstream URL plus any headers the wrapper carried.
//
// Recognized shapes:
//
//	https://host/proxy?url=<escaped or base64 url>
//	https://host/m3u8-proxy?url=<url>&headers=<json object>
//	https://host/proxy?url=<url>&h_Referer=...&h_User_Agent=...
//	<base64 url>
//
// Headers from outer wrappers are kept unless an inner wrapper sets the same key.
func UnwrapProxyURL(raw string) (string, map[string]string) {
	current := strings.TrimSpace(raw)
	var headers map[string]string

	for range maxUnwrapDepth {
		if !IsHTTP(current) {
			decoded := DecodeURL(current)
			if decoded == current {
				break
			}
			current = decoded
			continue
		}

		parsed, err := url.Parse(current)
		if err != nil || !isProxyPath(parsed.Path) {
			break
		}
		query := parsed.Query()
		inner := query.Get("url")
		if inner == "" {
			break
		}

		for k, v := range wrapperHeaders(query) {
			if headers == nil {
				headers = make(map[string]string)
			}
			headers[k] = v
		}
		if IsHTTP(inner) {
			current = inner
		} else {
			current = DecodeURL(inner)
		}
	}

	return current, headers
}

func isProxyPath(path string) bool {
	path = strings.TrimSuffix(strings.ToLower(path), "/")
	for _, suffix := range proxyPathSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// wrapperHeaders collects headers from a JSON "headers" param and h_ params.
func wrapperHeaders(query url.Values) map[string]string {
	headers := ParseHeaderParams(query)
	if raw := query.Get("headers"); raw != "" {
		var fromJSON map[string]string
		if err := json.Unmarshal([]byte(raw), &fromJSON); err == nil {
			for k, v := range fromJSON {
				headers[k] = v
			}
		}
	}
	return headers
}

// DecodeURL undoes query escaping and standard or URL-safe base64 encoding.
// Inputs that do not decode to an http(s) URL are returned unescaped.
func DecodeURL(urlStr string) string {
	if urlStr == "" {
		return urlStr
	}

	// Only unescape percent-encoded input; '+' is a valid base64 character
	if strings.Contains(urlStr, "%") {
		if decoded, err := url.QueryUnescape(urlStr); err == nil {
			urlStr = decoded
		}
	}

	if IsHTTP(urlStr) {
		return urlStr
	}

	// Add padding if needed
	padded := urlStr
	switch len(urlStr) % 4 {
	case 2:
		padded += "=="
	case 3:
		padded += "="
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		if decoded, err := enc.DecodeString(padded); err == nil {
			if decodedStr := strings.TrimSpace(string(decoded)); IsHTTP(decodedStr) {
				return decodedStr
			}
		}
	}

	return urlStr
}

// ParseHeaderParams extracts headers from query parameters with h_ prefix.
// It converts underscores to hyphens in header names (e.g., h_User_Agent -> User-Agent).
func ParseHeaderParams(query url.Values) map[string]string {
	headers := make(map[string]string)
	for key, values := range query {
		if strings.HasPrefix(key, "h_") && len(values) > 0 {
			headerName := strings.ReplaceAll(key[2:], "_", "-")
			headers[headerName] = values[0]
		}
	}
	return headers
}
