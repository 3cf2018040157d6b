package partition

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jacobcdsmith/USBFREEDOM/internal/device"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/disk"
)

const (
	mib = uint64(1024 * 1024)
	gib = 1024 * mib
)

// fakeBackend records calls in order and can be told to fail a given
// call by name.
type fakeBackend struct {
	calls    []string
	failCall string
}

var errInjected = errors.New("injected backend failure")

func (b *fakeBackend) record(call string) error {
	b.calls = append(b.calls, call)
	if call == b.failCall {
		return errInjected
	}
	return nil
}

func (b *fakeBackend) WipeTable(ctx context.Context, dev string) error {
	return b.record("wipe " + dev)
}

func (b *fakeBackend) CreateTable(ctx context.Context, dev string, tableType string) error {
	return b.record(fmt.Sprintf("mklabel %s %s", tableType, dev))
}

func (b *fakeBackend) CreatePartition(ctx context.Context, dev string, index int, p disk.Partition) error {
	return b.record(fmt.Sprintf("mkpart %d %s", index, dev))
}

func (b *fakeBackend) Format(ctx context.Context, partDev string, fsType string, label string) error {
	return b.record(fmt.Sprintf("mkfs.%s %s %s", fsType, label, partDev))
}

func testManager(backend Backend) *Manager {
	return &Manager{
		Device:  "/dev/sdb",
		Backend: backend,
		IsBlockDevice: func(string) (bool, error) {
			return true, nil
		},
		MountedPartitions: func(string) ([]device.MountedPartition, error) {
			return nil, nil
		},
	}
}

func testTable(t *testing.T) disk.PartitionTable {
	t.Helper()
	scheme, err := disk.CalculateScheme(8*gib, 2*gib, disk.PersistenceRemainder)
	require.NoError(t, err)
	return disk.NewLayout(8*gib, scheme)
}

func TestApplyHappyPath(t *testing.T) {
	backend := &fakeBackend{}
	mgr := testManager(backend)

	report, err := mgr.Apply(context.Background(), testTable(t))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"wipe /dev/sdb",
		"mklabel gpt /dev/sdb",
		"mkpart 1 /dev/sdb",
		"mkpart 2 /dev/sdb",
		"mkfs.vfat USBBOOT /dev/sdb1",
		"mkfs.ext4 persistence /dev/sdb2",
	}, backend.calls)

	assert.Equal(t, []Step{
		StepValidate,
		StepWipe,
		StepCreateTable,
		StepCreateBootPartition,
		StepCreatePersistencePartition,
		StepFormatBoot,
		StepFormatPersistence,
	}, report.Completed)
	assert.Equal(t, "table created, partitions created and formatted", report.DiskState)
}

// A mounted device must fail with DeviceBusyError before any call reaches
// the backend.
func TestApplyMountedDeviceZeroBackendCalls(t *testing.T) {
	backend := &fakeBackend{}
	mgr := testManager(backend)
	mgr.MountedPartitions = func(string) ([]device.MountedPartition, error) {
		return []device.MountedPartition{
			{Device: "/dev/sdb1", Mountpoint: "/media/usb"},
		}, nil
	}

	report, err := mgr.Apply(context.Background(), testTable(t))
	require.Error(t, err)

	var busy *DeviceBusyError
	assert.ErrorAs(t, err, &busy)
	assert.Equal(t, []string{"/media/usb"}, busy.Mountpoints)

	assert.Empty(t, backend.calls, "no backend call may happen for a busy device")
	assert.Equal(t, "device untouched", report.DiskState)
}

func TestApplyNotABlockDevice(t *testing.T) {
	backend := &fakeBackend{}
	mgr := testManager(backend)
	mgr.IsBlockDevice = func(string) (bool, error) { return false, nil }

	_, err := mgr.Apply(context.Background(), testTable(t))
	require.Error(t, err)

	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Empty(t, backend.calls)
}

func TestApplyUnknownNamingScheme(t *testing.T) {
	backend := &fakeBackend{}
	mgr := testManager(backend)
	mgr.Device = "/dev/md0"

	_, err := mgr.Apply(context.Background(), testTable(t))
	require.Error(t, err)

	var nse *device.NamingSchemeError
	assert.ErrorAs(t, err, &nse)
	assert.Empty(t, backend.calls)
}

func TestApplyStopsAtFailedStep(t *testing.T) {
	cases := []struct {
		failCall      string
		wantFailed    Step
		wantDiskState string
		wantCalls     int
	}{
		{"wipe /dev/sdb", StepWipe, "device untouched", 1},
		{"mklabel gpt /dev/sdb", StepCreateTable, "signatures wiped, no partition table", 2},
		{"mkpart 1 /dev/sdb", StepCreateBootPartition, "empty partition table created, no partitions", 3},
		{"mkpart 2 /dev/sdb", StepCreatePersistencePartition, "boot partition created, persistence partition missing", 4},
		{"mkfs.vfat USBBOOT /dev/sdb1", StepFormatBoot, "table and partitions created, partitions not yet formatted", 5},
		{"mkfs.ext4 persistence /dev/sdb2", StepFormatPersistence, "boot partition formatted, persistence partition unformatted", 6},
	}

	for _, c := range cases {
		t.Run(c.failCall, func(t *testing.T) {
			backend := &fakeBackend{failCall: c.failCall}
			mgr := testManager(backend)

			report, err := mgr.Apply(context.Background(), testTable(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, errInjected)

			assert.Equal(t, c.wantFailed, report.Failed)
			assert.Equal(t, c.wantDiskState, report.DiskState)
			assert.Len(t, backend.calls, c.wantCalls, "no calls after the failing one")
		})
	}
}

func TestApplyFailureErrorTypes(t *testing.T) {
	backend := &fakeBackend{failCall: "mkpart 1 /dev/sdb"}
	mgr := testManager(backend)

	_, err := mgr.Apply(context.Background(), testTable(t))
	var poe *PartitionOperationError
	require.ErrorAs(t, err, &poe)
	assert.Equal(t, StepCreateBootPartition, poe.Step)

	backend = &fakeBackend{failCall: "mkfs.ext4 persistence /dev/sdb2"}
	mgr = testManager(backend)

	_, err = mgr.Apply(context.Background(), testTable(t))
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "/dev/sdb2", fe.Partition)
}

func TestPlanIsNonDestructive(t *testing.T) {
	backend := &fakeBackend{}
	mgr := testManager(backend)

	scheme, err := mgr.Plan(8*gib, 2*gib, disk.PersistenceRemainder)
	require.NoError(t, err)
	assert.Equal(t, 2*gib, scheme.BootBytes)
	assert.Empty(t, backend.calls)
}
