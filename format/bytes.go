package format

import "fmt"

// WeightSize is the number of bytes a converted weight takes on disk.
const WeightSize = 4

var byteUnits = []struct {
	size int64
	name string
}{
	{1_000_000_000, "GB"},
	{1_000_000, "MB"},
	{1_000, "KB"},
}

// HumanBytes renders b in the largest decimal unit it reaches, e.g. 1536
// becomes "1.5 KB".
func HumanBytes(b int64) string {
	for _, u := range byteUnits {
		if b >= u.size {
			return fmt.Sprintf("%.1f %s", float64(b)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%d B", b)
}

// WeightBytes returns the size of n converted weights.
func WeightBytes(n int64) int64 {
	return n * WeightSize
}
