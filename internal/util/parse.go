package util

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

func SafeAtoi(s string) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return i
}

var nonNumericRegex = regexp.MustCompile(`[^\d]`)

func CleanNumericString(s string) string {
	return nonNumericRegex.ReplaceAllString(s, "")
}

var compactCountRegex = regexp.MustCompile(`(?i)^(\d+(?:[.,]\d+)?)\s*([KMB])?$`)

// ParseCount turns a displayed counter such as "12", "1,234", "1.2K" or
// "3M" into an integer. ok is false when s holds no count at all, which the
// caller should treat as "absent" rather than zero.
func ParseCount(s string) (n int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	m := compactCountRegex.FindStringSubmatch(s)
	if m == nil {
		digits := CleanNumericString(s)
		if digits == "" {
			return 0, false
		}
		return SafeAtoi(digits), true
	}

	num := m[1]
	if m[2] == "" {
		// Without a suffix a comma is a thousands separator.
		return SafeAtoi(CleanNumericString(num)), true
	}

	f, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		f *= 1e3
	case "M":
		f *= 1e6
	case "B":
		f *= 1e9
	}
	return int(math.Round(f)), true
}
