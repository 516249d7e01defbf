package rip

import (
	"fmt"
	"net/url"
	"strings"
)

// Locator is a normalized absolute URL identifying one item. Two locators are
// the same item exactly when their strings are equal.
type Locator string

// ParseLocator normalizes raw into a Locator. It lowercases the scheme and
// host, removes default ports, sorts query parameters and drops the fragment.
func ParseLocator(raw string) (Locator, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidLocator, raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w %q: scheme must be http or https", ErrInvalidLocator, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w %q: missing host", ErrInvalidLocator, raw)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return Locator(u.String()), nil
}

// MustLocator is like ParseLocator but panics on error. Intended for tests
// and constants.
func MustLocator(raw string) Locator {
	loc, err := ParseLocator(raw)
	if err != nil {
		panic(err)
	}
	return loc
}

// String returns the external form of the locator.
func (l Locator) String() string { return string(l) }

// Host returns the lowercase hostname, or "" if the locator does not parse.
func (l Locator) Host() string {
	u, err := url.Parse(string(l))
	if err != nil {
		return ""
	}
	return u.Hostname()
}
