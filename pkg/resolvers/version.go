package resolvers

import (
	"regexp"
	"strings"

	"github.com/blang/semver/v4"
)

// versionPrefix matches the leading numeric part of a release string such as
// "3.2.0-4-amd64" or "7.8".
var (
	versionPrefix = regexp.MustCompile(`^\d+(?:\.\d+){0,2}`)
	versionAny    = regexp.MustCompile(`\d+(?:\.\d+){0,2}`)
)

// version is a release string split once. Segments keep their original
// spelling ("04" stays "04"); semver holds the numeric reading of the same
// prefix.
type version struct {
	raw      string
	numeric  string
	segments []string
	semver   semver.Version
}

// parseVersion extracts the numeric prefix of s. It returns false when s
// does not start with a number.
func parseVersion(s string) (version, bool) {
	s = strings.TrimSpace(s)
	prefix := versionPrefix.FindString(s)
	if prefix == "" {
		return version{}, false
	}
	sv, err := semver.ParseTolerant(prefix)
	if err != nil {
		return version{}, false
	}
	return version{
		raw:      s,
		numeric:  prefix,
		segments: strings.Split(prefix, "."),
		semver:   sv,
	}, true
}

// findVersion is parseVersion on the first number found anywhere in s, for
// strings like "CentOS Linux release 7.9.2009 (Core)".
func findVersion(s string) (version, bool) {
	loc := versionAny.FindStringIndex(s)
	if loc == nil {
		return version{}, false
	}
	return parseVersion(s[loc[0]:loc[1]])
}

func (v version) major() string {
	return v.segments[0]
}

func (v version) minor() (string, bool) {
	if len(v.segments) < 2 {
		return "", false
	}
	return v.segments[1], true
}
