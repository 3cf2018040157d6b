package common

import (
	"fmt"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// MegabytesToBytes converts a user-supplied size in MB (the unit the CLI
// speaks) into bytes.
func MegabytesToBytes(mb uint64) uint64 {
	return mb * MiB
}

// FormatSize renders a byte count for human consumption, picking the
// largest binary unit that keeps the value above one.
func FormatSize(size uint64) string {
	switch {
	case size >= GiB:
		return fmt.Sprintf("%.1f GiB", float64(size)/float64(GiB))
	case size >= MiB:
		return fmt.Sprintf("%.1f MiB", float64(size)/float64(MiB))
	case size >= KiB:
		return fmt.Sprintf("%.1f KiB", float64(size)/float64(KiB))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
