package manifest

import "strings"

// ParseAttributes splits an HLS attribute list (KEY=VALUE,KEY="a,b",...)
// on top-level commas only. Quoted values are unquoted. Pairs without '='
// or with an empty key are skipped. Keys are upper-cased.
func ParseAttributes(list string) map[string]string {
	attrs := make(map[string]string, 8)

	inQuotes := false
	start := 0
	for i := 0; i <= len(list); i++ {
		if i < len(list) {
			switch list[i] {
			case '"':
				inQuotes = !inQuotes
				continue
			case ',':
				if inQuotes {
					continue
				}
			default:
				continue
			}
		}
		addPair(attrs, list[start:i])
		start = i + 1
	}

	return attrs
}

func addPair(attrs map[string]string, pair string) {
	eq := strings.IndexByte(pair, '=')
	if eq <= 0 {
		return
	}
	key := strings.ToUpper(strings.TrimSpace(pair[:eq]))
	if key == "" {
		return
	}
	value := strings.TrimSpace(pair[eq+1:])
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
	}
	attrs[key] = value
}

// tagAttributes returns the attribute list following "#TAG:".
func tagAttributes(line, tag string) (string, bool) {
	if !strings.HasPrefix(line, tag) {
		return "", false
	}
	rest := line[len(tag):]
	if strings.HasPrefix(rest, ":") {
		return rest[1:], true
	}
	return rest, rest == ""
}
