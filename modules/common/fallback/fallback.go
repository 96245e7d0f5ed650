package fallback

import (
	"strconv"
	"strings"
)

// HexColor normalises "#RRGGBB" / "RRGGBB" input, returning fallback when invalid.
func HexColor(value string, fallback string) string {
	s := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(s) != 6 {
		return fallback
	}
	if _, err := strconv.ParseUint(s, 16, 32); err != nil {
		return fallback
	}
	return "#" + strings.ToLower(s)
}
