package queueproc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errNilResult         = errors.New("transport returned nil result")
	errJSONUnrecoverable = errors.New("json repair and retry exhausted")
)

// StripEcho removes a persona reply's echo of the user's final human
// message, if present, matching spec §4.4/§8: the prefix is stripped only
// when it appears verbatim (trimmed, or as the whole first line); any other
// occurrence of the human's text later in the reply is left untouched.
func StripEcho(raw, lastHuman string) string {
	trimmedLast := strings.TrimSpace(lastHuman)
	if trimmedLast == "" {
		return raw
	}
	trimmedRaw := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmedRaw, trimmedLast) {
		return strings.TrimSpace(trimmedRaw[len(trimmedLast):])
	}

	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(raw[:idx])
		if firstLine == trimmedLast {
			return strings.TrimSpace(raw[idx+1:])
		}
	}
	return raw
}

// IsNoMessage reports whether s is the literal silence token after
// trimming (spec §4.4: "exact match after trim").
func IsNoMessage(s string) bool {
	return strings.TrimSpace(s) == noMessageToken
}

// ExtractJSON finds the first balanced JSON value in raw, ignoring
// surrounding prose and ``` fences (spec §4.4).
func ExtractJSON(raw string) (string, error) {
	s := stripFences(raw)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", fmt.Errorf("no JSON value found")
	}
	open := s[start]
	closeCh := matchingClose(open)

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
		case c == open:
			depth++
		case c == closeCh:
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON value")
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	s = strings.Join(lines, "\n")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func matchingClose(open byte) byte {
	if open == '[' {
		return ']'
	}
	return '}'
}

// Repair applies the conservative, non-semantic recovery spec §9's Open
// Question decision calls for: trim to the last balanced bracket/brace
// already present, and if the cut lands mid-string, close that string
// first. It never invents missing keys or values.
func Repair(s string) string {
	if s == "" {
		return s
	}
	open := s[0]
	if open != '{' && open != '[' {
		return s
	}
	closeCh := matchingClose(open)

	depth := 0
	inString := false
	escape := false
	lastBalanced := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
		case c == open:
			depth++
		case c == closeCh:
			depth--
			if depth == 0 {
				lastBalanced = i
			}
		}
	}
	if lastBalanced >= 0 {
		return s[:lastBalanced+1]
	}

	cut := s
	if inString {
		cut += "\""
	}
	balance := 0
	for _, c := range cut {
		switch c {
		case rune(open):
			balance++
		case rune(closeCh):
			balance--
		}
	}
	for balance > 0 {
		cut += string(closeCh)
		balance--
	}
	return cut
}
