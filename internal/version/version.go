// Package version parses and compares server release versions.
//
// Server versions look like "10.4", "10.2.1" or "10.3-SNAPSHOT". Capability
// thresholds compare numerically and ignore the qualifier, so "10.4-RC1"
// satisfies a 10.4 minimum.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed server version. The zero value is not valid; use Parse.
type Version struct {
	parts     []int
	qualifier string
	raw       string
}

// Parse parses a dotted version with an optional "-qualifier" suffix.
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, fmt.Errorf("empty version")
	}
	numeric := raw
	qualifier := ""
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		numeric, qualifier = raw[:i], raw[i+1:]
	}
	fields := strings.Split(numeric, ".")
	parts := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %v", s, err)
		}
		parts = append(parts, n)
	}
	return Version{parts: parts, qualifier: qualifier, raw: raw}, nil
}

// MustParse is Parse for package-level constants; it panics on bad input.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// AtLeast reports whether v >= min, comparing numeric parts only. Missing
// parts count as zero, so "10.4" and "10.4.0" compare equal.
func (v Version) AtLeast(min Version) bool {
	n := len(v.parts)
	if len(min.parts) > n {
		n = len(min.parts)
	}
	for i := 0; i < n; i++ {
		a, b := 0, 0
		if i < len(v.parts) {
			a = v.parts[i]
		}
		if i < len(min.parts) {
			b = min.parts[i]
		}
		if a != b {
			return a > b
		}
	}
	return true
}

func (v Version) String() string {
	return v.raw
}
