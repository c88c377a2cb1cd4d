package mapping

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseCoordinate parses decimal degrees such as "N 47.290916°" or "-8.66". A cardinal letter
// decides the sign on its own: S and W negate the magnitude, N and E keep it positive, and an
// embedded minus sign is ignored when a letter is present.
func ParseCoordinate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	var direction rune
	if first := rune(s[0]); strings.ContainsRune("NSEWnsew", first) {
		direction = unicode.ToUpper(first)
		s = s[1:]
	} else if last := rune(s[len(s)-1]); strings.ContainsRune("NSEWnsew", last) {
		direction = unicode.ToUpper(last)
		s = s[:len(s)-1]
	}

	s = strings.Map(func(r rune) rune {
		switch {
		case r == '°' || r == 'º' || unicode.IsSpace(r):
			return -1
		case r == ',':
			return '.'
		}
		return r
	}, s)

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}

	switch direction {
	case 'S', 'W':
		value = -abs(value)
	case 'N', 'E':
		value = abs(value)
	}
	return value, true
}

// ValidLatitude and ValidLongitude bound parsed coordinates.
func ValidLatitude(v float64) bool {
	return v >= -90 && v <= 90
}

func ValidLongitude(v float64) bool {
	return v >= -180 && v <= 180
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
