package migrator

import "strings"

// CompareVersions orders two migration versions.
// Purely numeric versions compare numerically regardless of zero padding,
// so "2" < "10" and "001" == "1". Anything else compares lexically.
// It returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	if isNumeric(a) && isNumeric(b) {
		a = strings.TrimLeft(a, "0")
		b = strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

// VersionAtOrBelow reports whether version is <= target. An empty target matches everything.
func VersionAtOrBelow(version, target string) bool {
	if target == "" {
		return true
	}
	return CompareVersions(version, target) <= 0
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
