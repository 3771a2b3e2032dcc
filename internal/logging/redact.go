package logging

import (
	"regexp"
	"strings"
)

// secretPattern matches key=value or key: value pairs whose key names a credential.
var secretPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|api[_-]?secret|access[_-]?token|auth[_-]?token|token|bearer|password)(\s*[=:]\s*|\s+)["']?([^\s"'&,]+)["']?`)

// MaskCredential keeps the first and last four characters of long values.
func MaskCredential(value string) string {
	n := len(value)
	switch {
	case n == 0:
		return ""
	case n <= 4:
		return strings.Repeat("*", n)
	case n <= 8:
		return value[:2] + strings.Repeat("*", n-2)
	}
	return value[:4] + strings.Repeat("*", n-8) + value[n-4:]
}

// MaskSecrets masks credential values embedded in free text such as an
// upstream error message or a query string.
func MaskSecrets(s string) string {
	return secretPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := secretPattern.FindStringSubmatch(match)
		return m[1] + m[2] + MaskCredential(m[3])
	})
}
