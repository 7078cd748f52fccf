package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coreos/go-semver/semver"
)

// ParseVersion parses a manifest version from either a plain unsigned integer
// ("7", "0x10") or a semantic version ("1.4.2"). Semantic versions are packed as
//
//	major<<16 | minor<<8 | patch
//
// so that newer releases always compare greater on the device. Pre-release and
// build metadata are ignored.
func ParseVersion(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty version")
	}

	if !strings.Contains(s, ".") {
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid version %q: %w", s, err)
		}
		return uint32(v), nil
	}

	sv, err := semver.NewVersion(strings.TrimPrefix(s, "v"))
	if err != nil {
		return 0, fmt.Errorf("invalid semantic version %q: %w", s, err)
	}

	if sv.Major < 0 || sv.Major > maxMajor {
		return 0, fmt.Errorf("major version %d out of range 0-%d", sv.Major, maxMajor)
	}
	if sv.Minor < 0 || sv.Minor > maxMinorPatch {
		return 0, fmt.Errorf("minor version %d out of range 0-%d", sv.Minor, maxMinorPatch)
	}
	if sv.Patch < 0 || sv.Patch > maxMinorPatch {
		return 0, fmt.Errorf("patch version %d out of range 0-%d", sv.Patch, maxMinorPatch)
	}

	return uint32(sv.Major)<<16 | uint32(sv.Minor)<<8 | uint32(sv.Patch), nil
}

// FormatVersion renders a packed version the way ParseVersion accepts it.
func FormatVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>16, (v>>8)&0xFF, v&0xFF)
}
