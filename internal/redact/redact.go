// Package redact implements the credential masking contract used everywhere
// a secret could reach a transcript, log line, or audit record.
package redact

import "regexp"

// Masked is the fixed replacement for short or fully-hidden secrets.
const Masked = "********"

// Mask renders a credential for display: first four and last four
// characters of any value of at least nine characters, fixed asterisks
// otherwise. This exact shape is a security-visible contract.
func Mask(secret string) string {
	if len(secret) < 9 {
		return Masked
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}

// tokenPattern catches the common API key shapes that could leak into chat
// text: provider-prefixed keys and long unbroken secret-looking runs.
var tokenPattern = regexp.MustCompile(`(sk-[A-Za-z0-9_-]{8,}|AIza[A-Za-z0-9_-]{10,}|xoxb-[A-Za-z0-9-]{10,}|[A-Za-z0-9_-]{40,})`)

// Scrub best-effort masks secret-looking tokens inside free text before it
// is formatted into a transcript or prompt.
func Scrub(text string) string {
	return tokenPattern.ReplaceAllStringFunc(text, Mask)
}
