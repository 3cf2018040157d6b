package partition

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Jacobcdsmith/USBFREEDOM/internal/device"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/disk"
)

// Step identifies one tool-invocation-level operation of the partitioning
// pipeline. Steps are atomic only at that level; there is no rollback.
type Step int

const (
	StepValidate Step = iota
	StepWipe
	StepCreateTable
	StepCreateBootPartition
	StepCreatePersistencePartition
	StepFormatBoot
	StepFormatPersistence
)

var stepNames = []string{
	"validate",
	"wipe",
	"create-table",
	"create-boot-partition",
	"create-persistence-partition",
	"format-boot",
	"format-persistence",
}

func (s Step) String() string {
	if int(s) < len(stepNames) {
		return stepNames[s]
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// diskStateAfter describes the on-disk state reached when the named step
// is the last one that completed. A caller uses this to decide whether a
// retry can resume or must restart from a full wipe.
var diskStateAfter = map[Step]string{
	StepValidate:                   "device untouched",
	StepWipe:                       "signatures wiped, no partition table",
	StepCreateTable:                "empty partition table created, no partitions",
	StepCreateBootPartition:        "boot partition created, persistence partition missing",
	StepCreatePersistencePartition: "table and partitions created, partitions not yet formatted",
	StepFormatBoot:                 "boot partition formatted, persistence partition unformatted",
	StepFormatPersistence:          "table created, partitions created and formatted",
}

// StepReport records how far an Apply run progressed and what is on disk
// as a result.
type StepReport struct {
	Completed []Step
	Failed    Step
	DiskState string
}

// Manager validates a target device and executes the destructive
// partitioning pipeline against it. It never prompts; callers are trusted
// to have obtained confirmation, and Plan exposes the layout so a CLI can
// gate execution on it.
type Manager struct {
	Device  string
	Backend Backend

	// Probes are injectable for tests; nil means the real host probes.
	IsBlockDevice     func(path string) (bool, error)
	MountedPartitions func(devicePath string) ([]device.MountedPartition, error)
}

func NewManager(devicePath string, backend Backend) *Manager {
	return &Manager{
		Device:            devicePath,
		Backend:           backend,
		IsBlockDevice:     device.IsBlockDevice,
		MountedPartitions: device.MountedPartitions,
	}
}

// Plan computes the partition scheme without executing anything.
func (m *Manager) Plan(deviceSizeBytes, imageSizeBytes uint64, request disk.PersistenceRequest) (disk.Scheme, error) {
	return disk.CalculateScheme(deviceSizeBytes, imageSizeBytes, request)
}

// Validate runs every pre-flight check without touching the device: the
// target must be a block device, its partitions must derive cleanly from
// the naming scheme, and nothing may be mounted.
func (m *Manager) Validate() error {
	isBlock, err := m.IsBlockDevice(m.Device)
	if err != nil {
		return &ValidationError{Device: m.Device, Reason: err.Error()}
	}
	if !isBlock {
		return &ValidationError{Device: m.Device, Reason: "not a block device"}
	}

	// Derive partition paths now so an unknown naming scheme aborts
	// before the first destructive call.
	for _, idx := range []int{1, 2} {
		if _, err := device.PartitionPath(m.Device, idx); err != nil {
			return err
		}
	}

	mounted, err := m.MountedPartitions(m.Device)
	if err != nil {
		return &ValidationError{Device: m.Device, Reason: fmt.Sprintf("cannot read mount table: %v", err)}
	}
	if len(mounted) > 0 {
		busy := &DeviceBusyError{Device: m.Device}
		for _, mp := range mounted {
			busy.Mountpoints = append(busy.Mountpoints, mp.Mountpoint)
		}
		return busy
	}

	return nil
}

// Apply executes the destructive pipeline for the given table: wipe,
// create GPT, create both partitions, format both. It stops at the first
// failure and reports the step that failed together with the resulting
// on-disk state. The returned report is non-nil in both outcomes.
func (m *Manager) Apply(ctx context.Context, table disk.PartitionTable) (*StepReport, error) {
	report := &StepReport{}

	fail := func(failed Step, err error) (*StepReport, error) {
		report.Failed = failed
		if len(report.Completed) > 0 {
			report.DiskState = diskStateAfter[report.Completed[len(report.Completed)-1]]
		} else {
			report.DiskState = diskStateAfter[StepValidate]
		}
		return report, err
	}
	complete := func(s Step) {
		report.Completed = append(report.Completed, s)
		report.DiskState = diskStateAfter[s]
	}

	if err := m.Validate(); err != nil {
		return fail(StepValidate, err)
	}
	complete(StepValidate)

	if len(table.Partitions) != 2 {
		return fail(StepValidate, &ValidationError{
			Device: m.Device,
			Reason: fmt.Sprintf("expected a two-partition layout, got %d", len(table.Partitions)),
		})
	}

	logrus.WithField("device", m.Device).Info("wiping existing partition table")
	if err := m.Backend.WipeTable(ctx, m.Device); err != nil {
		return fail(StepWipe, &PartitionOperationError{Step: StepWipe, Err: err})
	}
	complete(StepWipe)

	logrus.WithField("device", m.Device).Infof("creating %s partition table", table.Type)
	if err := m.Backend.CreateTable(ctx, m.Device, table.Type); err != nil {
		return fail(StepCreateTable, &PartitionOperationError{Step: StepCreateTable, Err: err})
	}
	complete(StepCreateTable)

	createSteps := []Step{StepCreateBootPartition, StepCreatePersistencePartition}
	for i, part := range table.Partitions {
		step := createSteps[i]
		logrus.WithField("device", m.Device).Infof("creating partition %d (%d bytes)", i+1, part.Size)
		if err := m.Backend.CreatePartition(ctx, m.Device, i+1, part); err != nil {
			return fail(step, &PartitionOperationError{Step: step, Err: err})
		}
		complete(step)
	}

	formatSteps := []Step{StepFormatBoot, StepFormatPersistence}
	for i, part := range table.Partitions {
		step := formatSteps[i]
		partPath, err := device.PartitionPath(m.Device, i+1)
		if err != nil {
			return fail(step, err)
		}
		logrus.WithField("device", m.Device).Infof("formatting %s as %s (label %q)",
			partPath, part.Filesystem.Type, part.Filesystem.Label)
		if err := m.Backend.Format(ctx, partPath, part.Filesystem.Type, part.Filesystem.Label); err != nil {
			return fail(step, &FormatError{Partition: partPath, Err: err})
		}
		complete(step)
	}

	return report, nil
}
