package util

import (
	"fmt"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatSize renders a byte count in binary units with at most three
// decimals. All arithmetic is integral so values are truncated, never
// rounded up; a size never displays as more than it is.
func FormatSize(size int64) string {
	if size < 1024 {
		return fmt.Sprintf("%d %s", size, sizeUnits[0])
	}

	div := int64(1)
	exp := 0
	for n := size; n >= 1024 && exp < len(sizeUnits)-1; n /= 1024 {
		div *= 1024
		exp++
	}

	value := size / div
	if size%div == 0 {
		return fmt.Sprintf("%d %s", value, sizeUnits[exp])
	}

	// Three truncated decimal digits, with trailing zeros trimmed but at
	// least one decimal kept to signal the truncation.
	decimal := (size % div) * 1000 / div
	switch {
	case decimal%10 != 0:
		return fmt.Sprintf("%d.%03d %s", value, decimal, sizeUnits[exp])
	case decimal%100 != 0:
		return fmt.Sprintf("%d.%02d %s", value, decimal/10, sizeUnits[exp])
	default:
		return fmt.Sprintf("%d.%d %s", value, decimal/100, sizeUnits[exp])
	}
}
