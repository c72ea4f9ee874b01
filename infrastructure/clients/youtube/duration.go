package youtube

import (
	"fmt"
	"strings"
)

// ParseISODuration converts an ISO-8601 duration as reported by the Data API
// (PT#H#M#S, optionally P#DT...) into whole seconds.
func ParseISODuration(s string) (int64, error) {
	rest, ok := strings.CutPrefix(s, "P")
	if !ok || rest == "" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}

	var total int64
	inTime := false
	value := int64(0)
	hasDigits := false
	components := 0
	for _, r := range rest {
		switch {
		case r >= '0' && r <= '9':
			value = value*10 + int64(r-'0')
			hasDigits = true
		case r == 'T':
			if inTime || hasDigits {
				return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
			}
			inTime = true
		default:
			if !hasDigits {
				return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
			}
			var unit int64
			switch {
			case r == 'D' && !inTime:
				unit = 86400
			case r == 'H' && inTime:
				unit = 3600
			case r == 'M' && inTime:
				unit = 60
			case r == 'S' && inTime:
				unit = 1
			default:
				return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
			}
			total += value * unit
			value = 0
			hasDigits = false
			components++
		}
	}
	if hasDigits || components == 0 {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}
	return total, nil
}
