// Package disk contains abstract data-types to define disk-related entities.
//
// Scheme, PartitionTable, Partition and Filesystem are value types; nothing
// in this package touches hardware. The partition manager turns these
// values into tool invocations.
package disk

import (
	"math/rand"

	"github.com/google/uuid"
)

const (
	// DefaultGrainBytes is the alignment unit: partition starts and sizes
	// are rounded up to multiples of this.
	DefaultGrainBytes = uint64(1024 * 1024) // 1 MiB

	// HeaderReserveBytes is kept free at the front of the device for the
	// protective MBR and primary GPT header.
	HeaderReserveBytes = uint64(1024 * 1024)

	// FooterReserveBytes is kept free at the end of the device for the
	// secondary GPT header.
	FooterReserveBytes = uint64(1024 * 1024)

	// AlignmentReserveBytes is the total capacity withheld from the
	// partitions for alignment and GPT bookkeeping.
	AlignmentReserveBytes = HeaderReserveBytes + FooterReserveBytes

	// MinPersistenceBytes is the smallest persistence partition worth
	// creating. Below this the overlay upper layer fills up almost
	// immediately and the live system degrades confusingly.
	MinPersistenceBytes = uint64(64 * 1024 * 1024)
)

const (
	// GPT partition type GUIDs.
	EFISystemPartitionGUID = "C12A7328-F81F-11D2-BA4B-00A0C8E3914B"
	FilesystemDataGUID     = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
)

const (
	// BootLabel is the FAT32 label of the bootable partition.
	BootLabel = "USBBOOT"
	// PersistenceLabel is the ext4 label the live system scans for.
	PersistenceLabel = "persistence"
)

type PartitionTable struct {
	Size       uint64 // Size of the disk (in bytes).
	UUID       string // Unique identifier of the partition table (GPT only).
	Type       string // Partition table type, e.g. dos, gpt.
	Partitions []Partition
}

type Partition struct {
	Start    uint64 // Start of the partition in bytes
	Size     uint64 // Size of the partition in bytes
	Type     string // Partition type, e.g. 0x83 for MBR or a UUID for gpt
	Bootable bool   // `Legacy BIOS bootable` (GPT) or `active` (DOS) flag
	// ID of the partition, dos doesn't use traditional UUIDs, therefore this
	// is just a string.
	UUID string
	// If nil, the partition is raw; It doesn't contain a filesystem.
	Filesystem *Filesystem
}

type Filesystem struct {
	Type string
	// ID of the filesystem, vfat doesn't use traditional UUIDs, therefore this
	// is just a string.
	UUID       string
	Label      string
	Mountpoint string
}

// AlignUp rounds size up to the next alignment grain if it is not already
// aligned.
func AlignUp(size uint64) uint64 {
	grain := DefaultGrainBytes
	if size%grain == 0 {
		return size
	}
	return ((size + grain) / grain) * grain
}

// End returns the first byte after the partition.
func (p *Partition) End() uint64 {
	return p.Start + p.Size
}

// FindPartitionForLabel returns the partition whose filesystem carries the
// given label, or nil.
func (pt *PartitionTable) FindPartitionForLabel(label string) *Partition {
	for idx, p := range pt.Partitions {
		if p.Filesystem == nil {
			continue
		}
		if p.Filesystem.Label == label {
			return &pt.Partitions[idx]
		}
	}
	return nil
}

// BootPartition returns the bootable partition of the table, or nil.
func (pt *PartitionTable) BootPartition() *Partition {
	for idx, p := range pt.Partitions {
		if p.Bootable {
			return &pt.Partitions[idx]
		}
	}
	return nil
}

// GenerateUUIDs fills in all missing identifiers of the table, its
// partitions and filesystems.
//
// Will not overwrite existing UUIDs and only generate UUIDs for
// partitions if the layout is GPT.
func (pt *PartitionTable) GenerateUUIDs(rng *rand.Rand) {
	if pt.UUID == "" {
		pt.UUID = uuid.Must(newRandomUUIDFromReader(rng)).String()
	}

	for idx := range pt.Partitions {
		part := &pt.Partitions[idx]
		if pt.Type == "gpt" && part.UUID == "" {
			part.UUID = uuid.Must(newRandomUUIDFromReader(rng)).String()
		}
		if part.Filesystem != nil && part.Filesystem.UUID == "" {
			part.Filesystem.UUID = uuid.Must(newRandomUUIDFromReader(rng)).String()
		}
	}
}

func newRandomUUIDFromReader(r *rand.Rand) (uuid.UUID, error) {
	var id uuid.UUID
	_, err := r.Read(id[:])
	if err != nil {
		return uuid.Nil, err
	}
	id[6] = (id[6] & 0x0f) | 0x40 // version 4
	id[8] = (id[8] & 0x3f) | 0x80 // variant 10
	return id, nil
}
