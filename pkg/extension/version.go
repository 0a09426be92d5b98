package extension

import (
	"fmt"

	mm "github.com/Masterminds/semver/v3"
)

// VersionInWindow reports whether version lies inside [min, max]. An empty
// max means no upper bound.
func VersionInWindow(version, min, max string) (bool, error) {
	v, err := mm.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("parse version %q: %w", version, err)
	}
	if min != "" {
		lo, err := mm.NewVersion(min)
		if err != nil {
			return false, fmt.Errorf("parse minimum version %q: %w", min, err)
		}
		if v.LessThan(lo) {
			return false, nil
		}
	}
	if max != "" {
		hi, err := mm.NewVersion(max)
		if err != nil {
			return false, fmt.Errorf("parse maximum version %q: %w", max, err)
		}
		if v.GreaterThan(hi) {
			return false, nil
		}
	}
	return true, nil
}

// VersionSatisfies reports whether version satisfies the constraint
// expression (e.g. ">=1.2.0 <2.0.0", "^1.0.0"). An empty constraint is
// treated as "any version".
func VersionSatisfies(version, constraint string) (bool, error) {
	if constraint == "" {
		constraint = "*"
	}
	v, err := mm.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("parse version %q: %w", version, err)
	}
	c, err := mm.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("parse constraint %q: %w", constraint, err)
	}
	return c.Check(v), nil
}

// CompareVersions compares two semantic versions, returning -1, 0 or 1.
// Unparseable versions sort before parseable ones.
func CompareVersions(a, b string) int {
	va, errA := mm.NewVersion(a)
	vb, errB := mm.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// NearestVersion returns the candidate closest to target, preferring the
// highest candidate not above target and falling back to the lowest
// candidate above it. Used for "nearest compatible version" suggestions.
func NearestVersion(target string, candidates []string) (string, bool) {
	var below, above string
	for _, candidate := range candidates {
		if _, err := mm.NewVersion(candidate); err != nil {
			continue
		}
		if CompareVersions(candidate, target) <= 0 {
			if below == "" || CompareVersions(candidate, below) > 0 {
				below = candidate
			}
		} else {
			if above == "" || CompareVersions(candidate, above) < 0 {
				above = candidate
			}
		}
	}
	if below != "" {
		return below, true
	}
	if above != "" {
		return above, true
	}
	return "", false
}
