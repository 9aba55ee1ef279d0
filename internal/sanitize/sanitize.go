// Package sanitize redacts secrets and PII from text and structured data
// before it can reach an LLM context or be logged.
package sanitize

import (
	"regexp"
	"strings"
)

const maxInputSize = 5 * 1024 // 5KB size guard against pathological inputs

type pattern struct {
	re          *regexp.Regexp
	replacement string
}

// ordering matters: longer/structural patterns (PEM blocks, JWTs, cloud
// keys) are matched before shorter generic key=value forms, which are in
// turn matched before the optional low-confidence PII patterns.
var patterns = []pattern{
	{regexp.MustCompile(`(?is)-----BEGIN (RSA|EC|OPENSSH|DSA|PGP) PRIVATE KEY-----.*?-----END (RSA|EC|OPENSSH|DSA|PGP) PRIVATE KEY-----`), "[PRIVATE_KEY_REDACTED]"},
	{regexp.MustCompile(`(?i)\bAKIA[0-9A-Z]{16}\b`), "[AWS_ACCESS_KEY_REDACTED]"},
	{regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]\s*['"]?[A-Za-z0-9/+=]{20,}['"]?`), "aws_secret_access_key=[AWS_SECRET_REDACTED]"},
	{regexp.MustCompile(`(?i)\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`), "[JWT_REDACTED]"},
	{regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._~+/-]+=*`), "Bearer [TOKEN_REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9._-]{8,}['"]?`), "$1=[API_KEY_REDACTED]"},
	{regexp.MustCompile(`(?i)(access[_-]?token|refresh[_-]?token|token)\s*[:=]\s*['"]?[A-Za-z0-9._-]{8,}['"]?`), "$1=[TOKEN_REDACTED]"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"]?\S+['"]?`), "$1=[PASSWORD_REDACTED]"},
	{regexp.MustCompile(`(?i)(secret)\s*[:=]\s*['"]?\S+['"]?`), "$1=[SECRET_REDACTED]"},
	{regexp.MustCompile(`(?i)(postgres(?:ql)?|mysql|mongodb(?:\+srv)?)://[^:/\s]+:[^@/\s]+@`), "$1://USER:[PASSWORD_REDACTED]@"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[EMAIL_REDACTED]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
	{regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), "[CC_REDACTED]"},
}

// ipPattern is optional and off by default: IPv4-shaped text is common
// enough in legitimate tool output that redacting it unconditionally would
// be noisier than useful.
var ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// Sanitizer redacts secrets. The zero value is ready to use.
type Sanitizer struct {
	RedactIPs bool
}

// New returns a Sanitizer with default settings (IP redaction off).
func New() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize applies the ordered pattern list to text, returning the redacted
// text and the number of redactions made. Idempotent: Sanitize(Sanitize(x))
// == Sanitize(x), since every replacement text itself never matches any
// pattern in the list.
func (s *Sanitizer) Sanitize(text string) (string, int) {
	truncated := false
	if len(text) > maxInputSize {
		text = text[:maxInputSize]
		truncated = true
	}

	count := 0
	for _, p := range patterns {
		matches := p.re.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		count += len(matches)
		text = p.re.ReplaceAllString(text, p.replacement)
	}
	if s.RedactIPs {
		matches := ipPattern.FindAllStringIndex(text, -1)
		if len(matches) > 0 {
			count += len(matches)
			text = ipPattern.ReplaceAllString(text, "[IP_REDACTED]")
		}
	}

	if truncated {
		text += "...[truncated]"
	}
	return text, count
}

// HasSecrets reports whether text contains anything Sanitize would redact,
// without allocating a redacted copy.
func (s *Sanitizer) HasSecrets(text string) bool {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	if s.RedactIPs && ipPattern.MatchString(text) {
		return true
	}
	return false
}

// keyHints are key-name substrings that force redaction of a map value
// regardless of its content, mirroring the reference implementation's
// recursive dict-key sanitization.
var keyHints = []string{"password", "secret", "token", "key", "api"}

// SanitizeMap recursively redacts map values, both by running Sanitize over
// string values and by key-name heuristics for exact-match secret fields.
func (s *Sanitizer) SanitizeMap(m map[string]interface{}) (map[string]interface{}, int) {
	out := make(map[string]interface{}, len(m))
	total := 0
	for k, v := range m {
		rv, n := s.sanitizeValue(k, v)
		out[k] = rv
		total += n
	}
	return out, total
}

func (s *Sanitizer) sanitizeValue(key string, v interface{}) (interface{}, int) {
	lk := strings.ToLower(key)
	forceRedact := false
	for _, hint := range keyHints {
		if strings.Contains(lk, hint) {
			forceRedact = true
			break
		}
	}

	switch val := v.(type) {
	case string:
		if forceRedact && val != "" {
			return "[REDACTED]", 1
		}
		redacted, n := s.Sanitize(val)
		return redacted, n
	case map[string]interface{}:
		return s.SanitizeMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		total := 0
		for i, item := range val {
			rv, n := s.sanitizeValue("", item)
			out[i] = rv
			total += n
		}
		return out, total
	default:
		return v, 0
	}
}
