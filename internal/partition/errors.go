package partition

import (
	"fmt"
	"strings"
)

// ValidationError means the target failed a pre-flight check. It is
// always raised before any destructive action.
type ValidationError struct {
	Device string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("device %s failed validation: %s", e.Device, e.Reason)
}

// DeviceBusyError means the target still has mounted partitions.
type DeviceBusyError struct {
	Device      string
	Mountpoints []string
}

func (e *DeviceBusyError) Error() string {
	return fmt.Sprintf("device %s is busy, mounted at: %s", e.Device, strings.Join(e.Mountpoints, ", "))
}

// PartitionOperationError wraps a backend failure with the pipeline step
// that triggered it.
type PartitionOperationError struct {
	Step Step
	Err  error
}

func (e *PartitionOperationError) Error() string {
	return fmt.Sprintf("partition operation %q failed: %v", e.Step, e.Err)
}

func (e *PartitionOperationError) Unwrap() error {
	return e.Err
}

// FormatError wraps a mkfs failure for one partition.
type FormatError struct {
	Partition string
	Err       error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("formatting %s failed: %v", e.Partition, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
