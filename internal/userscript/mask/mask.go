package mask

import (
	"errors"
	"regexp"
	"strings"
	"sync"
)

// ErrEmptyMask is returned when compiling an empty mask.
var ErrEmptyMask = errors.New("mask: empty mask")

// Matcher tests URLs against one compiled mask.
type Matcher struct {
	mask string
	re   *regexp.Regexp
}

// Compile builds a Matcher for mask.
func Compile(mask string) (*Matcher, error) {
	if mask == "" {
		return nil, ErrEmptyMask
	}

	parts := strings.Split(mask, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}

	re, err := regexp.Compile(`(?is)^` + strings.Join(parts, ".*") + `$`)
	if err != nil {
		return nil, err
	}
	return &Matcher{mask: mask, re: re}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(mask string) *Matcher {
	m, err := Compile(mask)
	if err != nil {
		panic(err)
	}
	return m
}

// Test reports whether url matches the whole mask.
func (m *Matcher) Test(url string) bool {
	return m.re.MatchString(url)
}

// String returns the source mask.
func (m *Matcher) String() string {
	return m.mask
}

var cache sync.Map // mask string -> *Matcher

// Cached returns a memoized Matcher for mask. Matchers are immutable, so a
// single instance is shared by every rule set that uses the same mask.
func Cached(mask string) (*Matcher, error) {
	if m, ok := cache.Load(mask); ok {
		return m.(*Matcher), nil
	}
	m, err := Compile(mask)
	if err != nil {
		return nil, err
	}
	actual, _ := cache.LoadOrStore(mask, m)
	return actual.(*Matcher), nil
}

// Any reports whether any mask in masks matches url. Invalid masks never match.
func Any(masks []string, url string) bool {
	for _, s := range masks {
		m, err := Cached(s)
		if err != nil {
			continue
		}
		if m.Test(url) {
			return true
		}
	}
	return false
}
