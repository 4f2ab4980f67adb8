package identity

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"unicode"
)

const (
	maxSlugBase      = 48
	slugSuffixBytes  = 3
	publicProfileDir = "/u/"
)

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SlugBase derives the deterministic part of a profile slug from name and email:
// lowercase ascii words of the display name followed by the email local part.
func SlugBase(name, email string) string {
	var parts []string
	if w := slugWords(name); w != "" {
		parts = append(parts, w)
	}
	local := NormalizeEmail(email)
	if i := strings.IndexByte(local, '@'); i >= 0 {
		local = local[:i]
	}
	if w := slugWords(local); w != "" && (len(parts) == 0 || parts[0] != w) {
		parts = append(parts, w)
	}
	base := strings.Join(parts, "-")
	if len(base) > maxSlugBase {
		base = strings.TrimRight(base[:maxSlugBase], "-")
	}
	if base == "" {
		base = "attendee"
	}
	return base
}

// NewSlug returns SlugBase plus a short random suffix so two buyers named alike
// do not collide on the slug constraint.
func NewSlug(name, email string) (string, error) {
	b := make([]byte, slugSuffixBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return SlugBase(name, email) + "-" + hex.EncodeToString(b), nil
}

// PublicProfileURL joins the site root and slug.
func PublicProfileURL(baseURL, slug string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + publicProfileDir + slug
}

func slugWords(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
