package filter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var sizeUnits = map[string]int64{
	"":  1,
	"K": 1 << 10,
	"M": 1 << 20,
	"G": 1 << 30,
	"T": 1 << 40,
}

// ParseSize converts a byte count such as "128", "4K", "1.5G" or "10MiB"
// into bytes. Units are binary and case-insensitive; a trailing "B" or
// "iB" is accepted and ignored.
func ParseSize(s string) (int64, error) {
	str := strings.ToUpper(strings.TrimSpace(s))
	str = strings.TrimSuffix(str, "IB")
	str = strings.TrimSuffix(str, "B")

	unit := ""
	if n := len(str); n > 0 {
		if _, ok := sizeUnits[str[n-1:]]; ok {
			unit, str = str[n-1:], str[:n-1]
		}
	}
	if str == "" {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	mult := sizeUnits[unit]

	if n, err := strconv.ParseInt(str, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid size %q: must not be negative", s)
		}
		if n > math.MaxInt64/mult {
			return 0, fmt.Errorf("invalid size %q: too large", s)
		}
		return n * mult, nil
	}

	f, err := strconv.ParseFloat(str, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("invalid size %q: must not be negative", s)
	}
	bytes := f * float64(mult)
	if bytes >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid size %q: too large", s)
	}
	return int64(bytes), nil
}
