// Package device discovers candidate USB block devices and derives
// partition device paths across the kernel's naming conventions.
package device

import (
	"fmt"
)

// Info is a read-only snapshot of one block device. It is re-queried on
// every listing and never cached across a flash operation.
type Info struct {
	Path      string
	SizeBytes uint64
	Vendor    string
	Model     string
	Removable bool
}

// SizeGB returns the device capacity in gigabytes.
func (i Info) SizeGB() float64 {
	return float64(i.SizeBytes) / (1024 * 1024 * 1024)
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%.1fGB) - %s %s", i.Path, i.SizeGB(), i.Vendor, i.Model)
}
