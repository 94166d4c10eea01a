// Package naming derives globally-unique physical database identifiers
// from tenant references.
package naming

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// DefaultToken substitutes for a requested name that sanitizes to nothing.
const DefaultToken = "site"

// maxSanitizedLen caps the sanitized portion of a website database name.
const maxSanitizedLen = 20

var (
	invalidChars      = regexp.MustCompile(`[^a-z0-9_]`)
	repeatUnderscores = regexp.MustCompile(`_+`)
)

// Allocator builds physical database names under a fixed platform prefix.
type Allocator struct {
	prefix string
}

// NewAllocator creates an Allocator. The prefix itself must already be a
// valid identifier fragment; it is used verbatim.
func NewAllocator(prefix string) *Allocator {
	return &Allocator{prefix: prefix}
}

// ForTemplate returns the deterministic name for a template database.
// Templates have at most one instance each, so no suffix is needed.
func (a *Allocator) ForTemplate(templateID string) string {
	return fmt.Sprintf("%s_template_%s", a.prefix, Sanitize(templateID))
}

// ForWebsite returns a name for a website database: the sanitized requested
// name plus a random 8-hex-character suffix. The suffix makes accidental
// collision negligible without a uniqueness query.
func (a *Allocator) ForWebsite(requestedName string) (string, error) {
	suffix, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s_%s", a.prefix, Sanitize(requestedName), suffix), nil
}

// Sanitize normalizes an arbitrary requested name into a safe identifier
// fragment. The result always matches ^[a-z0-9_]{1,20}$.
func Sanitize(name string) string {
	s := strings.ToLower(name)
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			return '_'
		}
		return r
	}, s)
	s = invalidChars.ReplaceAllString(s, "")
	s = repeatUnderscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > maxSanitizedLen {
		s = strings.Trim(s[:maxSanitizedLen], "_")
	}
	if s == "" {
		return DefaultToken
	}
	return s
}

// randomSuffix draws 4 bytes from a cryptographically strong source and
// renders them as 8 hex characters.
func randomSuffix() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate name suffix: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
