package budgetkey

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a report format version of the form major.minor.
type Version struct {
	Major int
	Minor int
}

// ParseVersion parses "major.minor". A bare major ("1") is read as major.0.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	majorStr, minorStr, hasMinor := strings.Cut(s, ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil || major < 0 {
		return Version{}, fmt.Errorf("invalid report version %q", s)
	}
	minor := 0
	if hasMinor {
		minor, err = strconv.Atoi(minorStr)
		if err != nil || minor < 0 {
			return Version{}, fmt.Errorf("invalid report version %q", s)
		}
	}
	return Version{Major: major, Minor: minor}, nil
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		if v.Major < o.Major {
			return -1
		}
		return 1
	case v.Minor < o.Minor:
		return -1
	case v.Minor > o.Minor:
		return 1
	default:
		return 0
	}
}

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

var version1 = Version{Major: 1}
