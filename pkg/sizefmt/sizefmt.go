package sizefmt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// The binary (1024-based) unit ladder used for displayed sizes.
var units = []string{"B", "KB", "MB", "GB", "TB"}

// Format renders a byte count on the 1024-based ladder, e.g. "9.8 KB".
// Whole-byte values print without a fraction.
func Format(n int64) string {
	value := float64(n)
	unit := 0
	for value >= 1024 && unit < len(units)-1 {
		value /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", n, units[0])
	}
	return fmt.Sprintf("%.1f %s", value, units[unit])
}

// Parse reads a human-entered size such as "512", "64KB" or "1.5 GB" back
// into a byte count.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, errors.New("empty size")
	}

	multiplier := int64(1)
	for i := len(units) - 1; i >= 0; i-- {
		if strings.HasSuffix(s, units[i]) {
			s = strings.TrimSpace(strings.TrimSuffix(s, units[i]))
			for j := 0; j < i; j++ {
				multiplier *= 1024
			}
			break
		}
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Errorf("invalid size: %q", s)
	}
	if value < 0 {
		return 0, errors.Errorf("negative size: %q", s)
	}
	return int64(value * float64(multiplier)), nil
}
