// Package refutil normalizes and validates source image references.
package refutil

import (
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrEmpty is returned for empty references.
	ErrEmpty = errors.New("refutil: empty reference")

	// ErrMalformed is returned for references that are neither absolute
	// http(s) URLs nor root-relative paths.
	ErrMalformed = errors.New("refutil: malformed reference")
)

// Normalize validates a source reference and returns its canonical form.
//
// Accepted forms are absolute http/https URLs and root-relative paths.
// Normalization lowercases the scheme and host and strips URL fragments so
// equivalent references produce identical cache keys.
func Normalize(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrEmpty
	}
	if strings.ContainsAny(ref, " \t\r\n") {
		return "", ErrMalformed
	}

	if strings.HasPrefix(ref, "/") {
		if strings.HasPrefix(ref, "//") {
			// Protocol-relative references are ambiguous; reject them.
			return "", ErrMalformed
		}
		u, err := url.Parse(ref)
		if err != nil {
			return "", ErrMalformed
		}
		u.Fragment = ""
		return u.String(), nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", ErrMalformed
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrMalformed
	}
	if u.Host == "" {
		return "", ErrMalformed
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}
