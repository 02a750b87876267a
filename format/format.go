package format

import (
	"fmt"
	"strconv"
	"strings"
)

// HumanNumber abbreviates a count, e.g. 60_500_000 becomes "60.5M".
func HumanNumber(n int64) string {
	const (
		Thousand = 1000
		Million  = Thousand * 1000
		Billion  = Million * 1000
	)

	switch {
	case n >= Billion:
		return decimalPlace(float64(n)/Billion) + "B"
	case n >= Million:
		return decimalPlace(float64(n)/Million) + "M"
	case n >= Thousand:
		return decimalPlace(float64(n)/Thousand) + "K"
	default:
		return strconv.FormatInt(n, 10)
	}
}

func decimalPlace(number float64) string {
	switch {
	case number >= 100:
		return fmt.Sprintf("%.0f", number)
	case number >= 10:
		return fmt.Sprintf("%.1f", number)
	default:
		return fmt.Sprintf("%.2f", number)
	}
}

// Shape renders tensor dimensions as "[512 32000]".
func Shape(dims []int) string {
	parts := make([]string, len(dims))
	for i, dim := range dims {
		parts[i] = strconv.Itoa(dim)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Elements returns the number of elements of a tensor with the given
// dimensions.
func Elements(dims []int) int64 {
	n := int64(1)
	for _, dim := range dims {
		n *= int64(dim)
	}
	return n
}
