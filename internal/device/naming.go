package device

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// NamingSchemeError is returned when a device name does not belong to any
// known partition naming family. Guessing a partition suffix for an
// unknown scheme risks addressing the wrong device node.
type NamingSchemeError struct {
	Device string
}

func (e *NamingSchemeError) Error() string {
	return fmt.Sprintf("unknown partition naming scheme for device %q", e.Device)
}

var (
	// /dev/sdb -> /dev/sdb1, same for vd and hd disks
	plainNameRe = regexp.MustCompile(`^[svh]d[a-z]+$`)
	// /dev/nvme0n1 -> /dev/nvme0n1p1, /dev/mmcblk0 -> /dev/mmcblk0p1,
	// /dev/loop0 -> /dev/loop0p1; names ending in a digit take a "p" infix
	infixNameRe = regexp.MustCompile(`^(nvme\d+n\d+|mmcblk\d+|loop\d+)$`)
)

// PartitionPath derives the device path of the index-th partition (1-based)
// of the given whole-disk device.
func PartitionPath(devicePath string, index int) (string, error) {
	if index < 1 {
		return "", fmt.Errorf("partition index must be positive, got %d", index)
	}

	name := filepath.Base(devicePath)
	switch {
	case plainNameRe.MatchString(name):
		return fmt.Sprintf("%s%d", devicePath, index), nil
	case infixNameRe.MatchString(name):
		return fmt.Sprintf("%sp%d", devicePath, index), nil
	default:
		return "", &NamingSchemeError{Device: devicePath}
	}
}
