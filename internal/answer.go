package internal

import (
	"crypto/sha256"
	"strings"
)

// AnswerAlphabet is the challenge character set. Visually ambiguous
// characters (0/O, 1/I/L) are excluded so a principal transcribing from a
// distorted rendering is never penalized for a lookalike glyph.
const AnswerAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NormalizeAnswer maps candidate text into the comparison form: surrounding
// whitespace stripped, uppercased. Comparison is case-insensitive by
// contract.
func NormalizeAnswer(text string) string {
	return strings.ToUpper(strings.TrimSpace(text))
}

// HashAnswer digests normalized answer text. Only the digest is persisted;
// the plaintext secret never leaves the generating call path.
func HashAnswer(normalized string) [32]byte {
	return sha256.Sum256([]byte(normalized))
}
