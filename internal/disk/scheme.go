package disk

import (
	"fmt"

	"github.com/Jacobcdsmith/USBFREEDOM/internal/common"
)

// PersistenceRequest is a requested persistence partition size in MB, or
// the PersistenceRemainder sentinel asking for all remaining capacity.
type PersistenceRequest int64

// PersistenceRemainder requests a persistence partition spanning all
// capacity left after the boot partition and the alignment reserve.
const PersistenceRemainder PersistenceRequest = -1

// InsufficientSpaceError is returned when the requested layout does not
// fit on the device.
type InsufficientSpaceError struct {
	DeviceBytes uint64
	NeededBytes uint64
	Detail      string
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space: need %d bytes, device holds %d bytes (%s)",
		e.NeededBytes, e.DeviceBytes, e.Detail)
}

// Scheme is the computed dual-partition layout for one device. It is a
// pure function result: no side effects, identical inputs always yield
// identical output.
type Scheme struct {
	BootBytes             uint64
	PersistenceBytes      uint64
	AlignmentReserveBytes uint64
}

// TotalBytes returns the capacity the scheme consumes, reserve included.
func (s Scheme) TotalBytes() uint64 {
	return s.BootBytes + s.PersistenceBytes + s.AlignmentReserveBytes
}

// CalculateScheme turns device capacity, image size and a persistence
// request into concrete partition sizes.
//
// The boot partition is the image size rounded up to the alignment grain.
// A remainder request receives everything left after the boot partition
// and the alignment reserve, and fails if that is below
// MinPersistenceBytes. An explicit request fails if it does not fit.
func CalculateScheme(deviceSizeBytes, imageSizeBytes uint64, request PersistenceRequest) (Scheme, error) {
	bootBytes := AlignUp(imageSizeBytes)

	if request == PersistenceRemainder {
		needed := bootBytes + AlignmentReserveBytes + MinPersistenceBytes
		if needed > deviceSizeBytes {
			return Scheme{}, &InsufficientSpaceError{
				DeviceBytes: deviceSizeBytes,
				NeededBytes: needed,
				Detail:      fmt.Sprintf("remaining capacity is below the %d byte persistence minimum", MinPersistenceBytes),
			}
		}
		return Scheme{
			BootBytes:             bootBytes,
			PersistenceBytes:      deviceSizeBytes - bootBytes - AlignmentReserveBytes,
			AlignmentReserveBytes: AlignmentReserveBytes,
		}, nil
	}

	if request < 0 {
		return Scheme{}, fmt.Errorf("invalid persistence request: %d MB", request)
	}

	persistenceBytes := common.MegabytesToBytes(uint64(request))
	needed := bootBytes + persistenceBytes + AlignmentReserveBytes
	if needed > deviceSizeBytes {
		return Scheme{}, &InsufficientSpaceError{
			DeviceBytes: deviceSizeBytes,
			NeededBytes: needed,
			Detail:      fmt.Sprintf("requested %d MB persistence partition does not fit", request),
		}
	}

	return Scheme{
		BootBytes:             bootBytes,
		PersistenceBytes:      persistenceBytes,
		AlignmentReserveBytes: AlignmentReserveBytes,
	}, nil
}

// NewLayout expands a scheme into the concrete two-partition GPT table:
// partition 1 is the FAT32 boot partition, partition 2 the ext4
// persistence partition. UUIDs are left empty; call GenerateUUIDs.
func NewLayout(deviceSizeBytes uint64, scheme Scheme) PartitionTable {
	bootStart := HeaderReserveBytes
	persistenceStart := bootStart + scheme.BootBytes

	return PartitionTable{
		Size: deviceSizeBytes,
		Type: "gpt",
		Partitions: []Partition{
			{
				Start:    bootStart,
				Size:     scheme.BootBytes,
				Type:     EFISystemPartitionGUID,
				Bootable: true,
				Filesystem: &Filesystem{
					Type:  "vfat",
					Label: BootLabel,
				},
			},
			{
				Start: persistenceStart,
				Size:  scheme.PersistenceBytes,
				Type:  FilesystemDataGUID,
				Filesystem: &Filesystem{
					Type:       "ext4",
					Label:      PersistenceLabel,
					Mountpoint: "/persistence",
				},
			},
		},
	}
}
