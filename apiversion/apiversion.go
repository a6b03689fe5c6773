// Package apiversion compares server API versions such as "8", "9.6" or "12.3.1".
//
// Versions are padded to three components and compared as semantic versions.
package apiversion

import (
	"fmt"
	"strings"

	"github.com/coreos/go-semver/semver"
)

// Parse accepts one to three dot-separated numeric components.
func Parse(v string) (*semver.Version, error) {
	s := strings.TrimSpace(v)
	s = strings.TrimPrefix(s, "v")
	if s == "" {
		return nil, fmt.Errorf("empty API version")
	}
	switch strings.Count(s, ".") {
	case 0:
		s += ".0.0"
	case 1:
		s += ".0"
	}
	ver, err := semver.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid API version %q: %w", v, err)
	}
	return ver, nil
}

// Lowest returns the oldest version in vs, in its original spelling. It
// returns "" when vs is empty or any entry is missing or unparseable, since
// the oldest version is then unknown.
func Lowest(vs []string) string {
	var (
		lowest    string
		lowestVer *semver.Version
	)
	for _, v := range vs {
		parsed, err := Parse(v)
		if err != nil {
			return ""
		}
		if lowestVer == nil || parsed.LessThan(*lowestVer) {
			lowest, lowestVer = v, parsed
		}
	}
	return lowest
}
