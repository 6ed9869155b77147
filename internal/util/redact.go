package util

import "regexp"

var (
	keyValuePattern = regexp.MustCompile(`(?i)(api_key|apikey|secret|token|password|access_key|private_key)\s*[:=]\s*([^\s"']+)`)
	flagPattern     = regexp.MustCompile(`(?i)(--[a-z-]*(?:api-key|token|secret))(\s+|=)([^\s"']+)`)
	bearerPattern   = regexp.MustCompile(`(?i)(bearer)\s+[a-z0-9._~+/=-]{8,}`)
	privateKeyBlock = regexp.MustCompile(`(?is)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)
	jwtPattern      = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.?[a-zA-Z0-9_-]*`)
	skPattern       = regexp.MustCompile(`(?i)sk-(?:or-v1-)?[a-z0-9]{20,}`)
)

// RedactSecrets removes likely secrets from text before it is logged or shown.
func RedactSecrets(input string) string {
	out := keyValuePattern.ReplaceAllString(input, `$1=[REDACTED]`)
	out = flagPattern.ReplaceAllString(out, `$1$2[REDACTED]`)
	out = bearerPattern.ReplaceAllString(out, `$1 [REDACTED]`)
	out = privateKeyBlock.ReplaceAllString(out, "[REDACTED PRIVATE KEY]")
	out = jwtPattern.ReplaceAllString(out, "[REDACTED JWT]")
	out = skPattern.ReplaceAllString(out, "[REDACTED KEY]")
	return out
}
