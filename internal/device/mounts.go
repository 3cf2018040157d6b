package device

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

// MountsPath is the mount table consulted by MountedPartitions. Tests
// point it at a fixture file.
var MountsPath = "/proc/self/mounts"

// MountedPartition is one row of the mount table belonging to a device.
type MountedPartition struct {
	Device     string
	Mountpoint string
}

// MountedPartitions returns all mount table entries whose source device is
// the given whole-disk device or one of its partitions.
func MountedPartitions(devicePath string) ([]MountedPartition, error) {
	f, err := os.Open(MountsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var mounted []MountedPartition
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if belongsToDevice(fields[0], devicePath) {
			mounted = append(mounted, MountedPartition{
				Device:     fields[0],
				Mountpoint: unescapeMountPath(fields[1]),
			})
		}
	}
	return mounted, scanner.Err()
}

// A bare prefix match is not enough: /dev/sdab1 starts with /dev/sda but
// belongs to a different disk.
var partitionSuffixRe = regexp.MustCompile(`^p?[0-9]+$`)

func belongsToDevice(entry, devicePath string) bool {
	if entry == devicePath {
		return true
	}
	if !strings.HasPrefix(entry, devicePath) {
		return false
	}
	return partitionSuffixRe.MatchString(entry[len(devicePath):])
}

// The kernel octal-escapes spaces, tabs and backslashes in mount paths.
func unescapeMountPath(path string) string {
	replacer := strings.NewReplacer(
		`\040`, " ",
		`\011`, "\t",
		`\012`, "\n",
		`\134`, `\`,
	)
	return replacer.Replace(path)
}
