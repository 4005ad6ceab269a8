package server

import "strings"

// validateStreamIDString reports whether a channel or key path segment
// is safe to use as a map key and in log lines: non-empty, within
// maxLength, and free of path separators.
func validateStreamIDString(s string, maxLength int) bool {
	if s == "" {
		return false
	}
	if maxLength > 0 && len(s) > maxLength {
		return false
	}
	if strings.ContainsAny(s, "/\\?#") {
		return false
	}
	return true
}

// parseQueryParams parses the simple "a=b&c=d" suffix RTMP clients
// append to a play/publish stream path (e.g. "mystream?cache=no").
func parseQueryParams(s string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			params[kv[0]] = kv[1]
		} else {
			params[kv[0]] = ""
		}
	}
	return params
}
