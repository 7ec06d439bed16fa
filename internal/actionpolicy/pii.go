package actionpolicy

import "regexp"

// piiPatterns matches the PII shapes the mask-pii-response policy redacts
// from an outbound body: emails, raw IPv4 addresses, and bearer tokens.
// Kept deliberately narrow and dependency-free, mirroring the scope of
// internal/logging's RedactPII rather than a general-purpose DLP engine.
var piiPatterns = regexp.MustCompile(
	`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b` + // email
		`|\b(?:\d{1,3}\.){3}\d{1,3}\b` + // IPv4
		`|(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`, // bearer token
)
