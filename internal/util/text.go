package util

import "strings"

// CollapseWhitespace lowercases s and folds every run of whitespace into a
// single space. It is the shared normalization applied before any name
// comparison.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokens splits s into lowercased whitespace-delimited tokens with
// surrounding punctuation trimmed.
func Tokens(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:()[]{}\"'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
