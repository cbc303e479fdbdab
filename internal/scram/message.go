package scram

import (
	"strconv"
	"strings"
)

// parseAttributes splits a comma-separated "key=value,key=value" message
// into a map, validating that every key is exactly one byte long and that
// no key appears with a malformed "key=value" pair. It does not know which
// keys are meaningful to the caller — that validation (recognized vs.
// unknown key, required-key presence) happens in session.go, per step.
func parseAttributes(msg string) (map[string]string, error) {
	attrs := make(map[string]string)
	if msg == "" {
		return attrs, nil
	}
	for _, part := range strings.Split(msg, ",") {
		eq := strings.IndexByte(part, '=')
		if eq < 1 {
			return nil, newErr(KindProtocol, "malformed attribute: "+part)
		}
		key := part[:eq]
		if len(key) != 1 {
			return nil, newErr(KindProtocol, "malformed attribute key: "+key)
		}
		attrs[key] = part[eq+1:]
	}
	return attrs, nil
}

// parseIterations parses a signed decimal iteration count, rejecting a
// negative value, trailing garbage, or a value below minIterations.
func parseIterations(s string, minIterations int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, wrapErr(KindProtocol, "invalid iteration count: "+s, err)
	}
	if n < 0 {
		return 0, newErr(KindProtocol, "negative iteration count: "+s)
	}
	if n < minIterations {
		return 0, newErr(KindProtocol, "iteration count below minimum: "+s)
	}
	return n, nil
}
