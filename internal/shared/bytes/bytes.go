package bytes

import "fmt"

const (
	KB = 1024
	MB = KB * 1024
	GB = MB * 1024
	TB = GB * 1024
)

// FmtMem renders a byte count with its two most significant units, e.g. "10MB 512KB".
func FmtMem(bytes uint64) string {
	switch {
	case bytes >= TB:
		return fmt.Sprintf("%dTB %dGB", bytes/TB, bytes%TB/GB)
	case bytes >= GB:
		return fmt.Sprintf("%dGB %dMB", bytes/GB, bytes%GB/MB)
	case bytes >= MB:
		return fmt.Sprintf("%dMB %dKB", bytes/MB, bytes%MB/KB)
	case bytes >= KB:
		return fmt.Sprintf("%dKB %dB", bytes/KB, bytes%KB)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

// FmtDelta renders a signed byte change, e.g. "+2MB 0KB" or "-512B".
func FmtDelta(delta int64) string {
	if delta < 0 {
		return "-" + FmtMem(uint64(-delta))
	}
	return "+" + FmtMem(uint64(delta))
}

// FmtPct renders part as a percentage of whole.
func FmtPct(part, whole uint64) string {
	if whole == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", float64(part)*100/float64(whole))
}
