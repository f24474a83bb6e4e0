// Package fingerprint derives stable content hashes used to detect the same
// article across providers and runs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// BodyPrefixRunes bounds how much of the body contributes to the hash, so
// trailing boilerplate appended by syndication partners does not matter.
const BodyPrefixRunes = 512

// A cases.Caser is stateful; Normalize builds one per call.
var stripPolicy = bluemonday.StrictPolicy()

// Compute returns the hex SHA-256 of the normalized title and body prefix.
// The provider id is deliberately left out so syndicated copies collide.
func Compute(title, body string) string {
	t := Normalize(title)
	b := truncateRunes(Normalize(body), BodyPrefixRunes)

	h := sha256.New()
	h.Write([]byte(t))
	h.Write([]byte{0})
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize strips markup and entities, applies NFKC and case folding, drops
// punctuation and collapses whitespace.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = stripPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)

	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if space && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
			sb.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			space = true
		}
	}
	return sb.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return strings.TrimSpace(s[:i])
		}
		count++
	}
	return s
}
