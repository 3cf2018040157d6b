// Package partition executes destructive partition table creation and
// filesystem formatting through an injected backend, so everything above
// the tool invocations can be tested against an in-memory fake.
package partition

import (
	"context"
	"fmt"

	"github.com/Jacobcdsmith/USBFREEDOM/internal/command"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/disk"
)

// Backend is the capability set the manager needs from the partitioning
// tools. Labels are applied during Format, matching how mkfs.vfat -n and
// mkfs.ext4 -L work.
type Backend interface {
	// WipeTable removes any existing partition table and filesystem
	// signatures from the whole device.
	WipeTable(ctx context.Context, device string) error
	// CreateTable writes a fresh empty partition table of the given type.
	CreateTable(ctx context.Context, device string, tableType string) error
	// CreatePartition appends the 1-based index-th partition as described.
	CreatePartition(ctx context.Context, device string, index int, p disk.Partition) error
	// Format creates a filesystem with the given label on a partition
	// device node.
	Format(ctx context.Context, partitionDevice string, fsType string, label string) error
}

// ExecBackend drives the standard Linux partitioning tools (wipefs,
// parted, mkfs.vfat, mkfs.ext4, partprobe).
type ExecBackend struct {
	Runner command.Runner
}

func (b *ExecBackend) WipeTable(ctx context.Context, device string) error {
	_, err := b.Runner.Run(ctx, "wipefs", "-a", device)
	return err
}

func (b *ExecBackend) CreateTable(ctx context.Context, device string, tableType string) error {
	_, err := b.Runner.Run(ctx, "parted", "-s", device, "mklabel", tableType)
	return err
}

func (b *ExecBackend) CreatePartition(ctx context.Context, device string, index int, p disk.Partition) error {
	fsHint := ""
	if p.Filesystem != nil {
		fsHint = partedFSName(p.Filesystem.Type)
	}

	// Byte offsets with an explicit B suffix keep parted from rounding on
	// devices whose capacity is not a MiB multiple.
	args := []string{"-s", device, "mkpart", "primary"}
	if fsHint != "" {
		args = append(args, fsHint)
	}
	args = append(args, fmt.Sprintf("%dB", p.Start), fmt.Sprintf("%dB", p.End()-1))

	if _, err := b.Runner.Run(ctx, "parted", args...); err != nil {
		return err
	}

	if p.Bootable {
		if _, err := b.Runner.Run(ctx, "parted", "-s", device, "set", fmt.Sprintf("%d", index), "boot", "on"); err != nil {
			return err
		}
	}

	// Nudge the kernel to pick up the new partition node.
	if _, err := b.Runner.Run(ctx, "partprobe", device); err != nil {
		return err
	}
	return nil
}

func (b *ExecBackend) Format(ctx context.Context, partitionDevice string, fsType string, label string) error {
	switch fsType {
	case "vfat":
		if _, err := b.Runner.Run(ctx, "mkfs.vfat", "-F", "32", "-n", label, partitionDevice); err != nil {
			return err
		}
	case "ext4":
		if _, err := b.Runner.Run(ctx, "mkfs.ext4", "-F", "-L", label, partitionDevice); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported filesystem type %q", fsType)
	}

	_, err := b.Runner.Run(ctx, "sync")
	return err
}

func partedFSName(fsType string) string {
	if fsType == "vfat" {
		return "fat32"
	}
	return fsType
}
