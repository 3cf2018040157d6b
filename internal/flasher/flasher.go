// Package flasher orchestrates complete flash operations: the simple
// raw-copy flow and the persistent flow that partitions the device,
// lays down the image content, builds the persistence structure and
// configures the bootloader.
package flasher

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jacobcdsmith/USBFREEDOM/internal/bootloader"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/command"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/common"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/device"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/disk"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/imagebuild"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/partition"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/persistence"
)

// Mounter mounts and unmounts filesystems at scratch paths.
type Mounter interface {
	Mount(ctx context.Context, devicePath, target string) error
	Unmount(ctx context.Context, target string) error
}

// ExecMounter shells out to mount(8) and umount(8).
type ExecMounter struct {
	Runner command.Runner
}

func (m *ExecMounter) Mount(ctx context.Context, devicePath, target string) error {
	out, err := m.Runner.Run(ctx, "mount", devicePath, target)
	if err != nil {
		return fmt.Errorf("mounting %s at %s: %w: %s", devicePath, target, err, out)
	}
	return nil
}

func (m *ExecMounter) Unmount(ctx context.Context, target string) error {
	out, err := m.Runner.Run(ctx, "umount", target)
	if err != nil {
		return fmt.Errorf("unmounting %s: %w: %s", target, err, out)
	}
	return nil
}

// ContentExtractor unpacks image content into a mounted filesystem.
type ContentExtractor func(imagePath, destDir string) error

// LabelReader returns the filesystem label of a partition device.
type LabelReader func(ctx context.Context, partitionDevice string) (string, error)

func execLabelReader(runner command.Runner) LabelReader {
	return func(ctx context.Context, partitionDevice string) (string, error) {
		out, err := runner.Run(ctx, "blkid", "-s", "LABEL", "-o", "value", partitionDevice)
		if err != nil {
			return "", fmt.Errorf("reading label of %s: %w", partitionDevice, err)
		}
		return strings.TrimSpace(string(out)), nil
	}
}

// Options select the target, image and flow for one flash operation.
type Options struct {
	ImagePath  string
	DevicePath string

	// Persistence selects the partitioned flow; false means a plain raw
	// copy of the image onto the device.
	Persistence bool

	// PersistenceSizeMB is the requested persistence partition size.
	// Zero or negative requests all remaining capacity.
	PersistenceSizeMB int64

	// PersistedPaths overrides the default set of directories the
	// persistence partition carries anchors for.
	PersistedPaths []string
}

func (o Options) persistenceRequest() disk.PersistenceRequest {
	if o.PersistenceSizeMB <= 0 {
		return disk.PersistenceRemainder
	}
	return disk.PersistenceRequest(o.PersistenceSizeMB)
}

// Plan is the non-destructive preview of a flash operation, shown to the
// user before the confirmation gate.
type Plan struct {
	DevicePath      string
	DeviceSizeBytes uint64
	ImagePath       string
	ImageSizeBytes  uint64
	Persistence     bool

	// Scheme and Table are nil for the simple flow.
	Scheme *disk.Scheme
	Table  *disk.PartitionTable
}

// StepError records which pipeline step failed and the last one that
// completed, so the operator knows what state the device was left in.
type StepError struct {
	Step          string
	LastCompleted string
	Err           error
}

func (e *StepError) Error() string {
	if e.LastCompleted == "" {
		return fmt.Sprintf("flash step %q failed before any step completed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("flash step %q failed (last completed step: %q): %v", e.Step, e.LastCompleted, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Report summarizes one flash operation.
type Report struct {
	OperationID string            `json:"operation_id"`
	Device      string            `json:"device"`
	Image       string            `json:"image"`
	State       common.FlashState `json:"state"`
	Completed   []string          `json:"completed_steps"`

	BytesWritten int64        `json:"bytes_written,omitempty"`
	Scheme       *disk.Scheme `json:"scheme,omitempty"`
	Warnings     []string     `json:"warnings,omitempty"`
}

// Flasher runs flash operations. Every collaborator is injectable; the
// zero value is not usable, construct with New.
type Flasher struct {
	Backend partition.Backend
	Writer  RawWriter
	Mounter Mounter
	Extract ContentExtractor
	Locks   *LockManager

	// ReadLabel probes the filesystem label of a formatted partition for
	// the final verification.
	ReadLabel LabelReader

	// Bootloaders are tried in order; at least one must find a config
	// location on the boot partition.
	Bootloaders []bootloader.Configurator

	// Host probes, injectable for tests.
	DeviceSize        func(path string) (uint64, error)
	IsBlockDevice     func(path string) (bool, error)
	MountedPartitions func(devicePath string) ([]device.MountedPartition, error)

	// Progress receives raw write progress; nil disables reporting.
	Progress ProgressFunc

	// ScratchDir is where temporary mountpoints are created. Empty means
	// the system temp directory.
	ScratchDir string

	// Rand seeds partition UUID generation. Nil means time-seeded.
	Rand *rand.Rand
}

// New builds a Flasher wired to the real host: parted/mkfs backend,
// mount(8), raw device writes and ISO content extraction.
func New(runner command.Runner) *Flasher {
	return &Flasher{
		Backend:           &partition.ExecBackend{Runner: runner},
		Writer:            &FileRawWriter{},
		Mounter:           &ExecMounter{Runner: runner},
		Extract:           imagebuild.ExtractISO,
		Locks:             &LockManager{},
		ReadLabel:         execLabelReader(runner),
		Bootloaders:       []bootloader.Configurator{bootloader.Grub{}, bootloader.Syslinux{}},
		DeviceSize:        device.SizeBytes,
		IsBlockDevice:     device.IsBlockDevice,
		MountedPartitions: device.MountedPartitions,
	}
}

// Plan computes the preview for an operation without touching the
// device.
func (f *Flasher) Plan(opts Options) (*Plan, error) {
	info, err := os.Stat(opts.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("image not found: %w", err)
	}
	imageSize := uint64(info.Size())

	deviceSize, err := f.DeviceSize(opts.DevicePath)
	if err != nil {
		return nil, fmt.Errorf("reading device size: %w", err)
	}

	plan := &Plan{
		DevicePath:      opts.DevicePath,
		DeviceSizeBytes: deviceSize,
		ImagePath:       opts.ImagePath,
		ImageSizeBytes:  imageSize,
		Persistence:     opts.Persistence,
	}

	if !opts.Persistence {
		if imageSize > deviceSize {
			return nil, &disk.InsufficientSpaceError{
				DeviceBytes: deviceSize,
				NeededBytes: imageSize,
				Detail:      "image larger than device",
			}
		}
		return plan, nil
	}

	scheme, err := disk.CalculateScheme(deviceSize, imageSize, opts.persistenceRequest())
	if err != nil {
		return nil, err
	}
	table := disk.NewLayout(deviceSize, scheme)

	rng := f.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	table.GenerateUUIDs(rng)

	plan.Scheme = &scheme
	plan.Table = &table
	return plan, nil
}

// Flash executes the operation. The device lock is held for the whole
// run. On failure the returned report carries state FSFailed and the
// error names the failed step; there is no rollback.
func (f *Flasher) Flash(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{
		OperationID: common.GenerateOperationID(),
		Device:      opts.DevicePath,
		Image:       opts.ImagePath,
		State:       common.FSIdle,
	}

	log := logrus.WithFields(logrus.Fields{
		"operation": report.OperationID,
		"device":    opts.DevicePath,
	})
	log.Info("starting flash operation")

	lock, err := f.Locks.Acquire(opts.DevicePath, report.OperationID)
	if err != nil {
		report.State = common.FSFailed
		return report, err
	}
	defer lock.Release()

	if opts.Persistence {
		err = f.flashPersistent(ctx, opts, report, log)
	} else {
		err = f.flashSimple(ctx, opts, report, log)
	}
	if err != nil {
		report.State = common.FSFailed
		return report, err
	}

	report.State = common.FSDone
	log.Info("flash operation complete")
	return report, nil
}

// step runs one named pipeline stage, handles context cancellation
// between stages and wraps failures with the progress made so far.
func (f *Flasher) step(ctx context.Context, report *Report, name string, state common.FlashState, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return f.fail(report, name, err)
	}
	if err := fn(); err != nil {
		return f.fail(report, name, err)
	}
	report.Completed = append(report.Completed, name)
	if state > report.State {
		report.State = state
	}
	return nil
}

func (f *Flasher) fail(report *Report, step string, err error) error {
	last := ""
	if len(report.Completed) > 0 {
		last = report.Completed[len(report.Completed)-1]
	}
	return &StepError{Step: step, LastCompleted: last, Err: err}
}

func (f *Flasher) flashSimple(ctx context.Context, opts Options, report *Report, log *logrus.Entry) error {
	plan, err := f.validate(ctx, opts, report, log)
	if err != nil {
		return err
	}

	if err := f.step(ctx, report, "write-image", common.FSImageWritten, func() error {
		log.Infof("writing %d bytes to %s", plan.ImageSizeBytes, opts.DevicePath)
		n, err := f.Writer.Write(ctx, opts.ImagePath, opts.DevicePath, f.Progress)
		report.BytesWritten = n
		return err
	}); err != nil {
		return err
	}

	return f.step(ctx, report, "verify", common.FSVerified, func() error {
		return VerifyWrite(ctx, opts.ImagePath, opts.DevicePath)
	})
}

// validate is the shared first stage: device checks, unmounting anything
// mounted, and plan computation.
func (f *Flasher) validate(ctx context.Context, opts Options, report *Report, log *logrus.Entry) (*Plan, error) {
	var plan *Plan
	err := f.step(ctx, report, "validate", common.FSValidated, func() error {
		isBlock, err := f.IsBlockDevice(opts.DevicePath)
		if err != nil {
			return &partition.ValidationError{Device: opts.DevicePath, Reason: err.Error()}
		}
		if !isBlock {
			return &partition.ValidationError{Device: opts.DevicePath, Reason: "not a block device"}
		}

		mounted, err := f.MountedPartitions(opts.DevicePath)
		if err != nil {
			return &partition.ValidationError{Device: opts.DevicePath, Reason: fmt.Sprintf("cannot read mount table: %v", err)}
		}
		for _, mp := range mounted {
			log.Infof("unmounting %s from %s", mp.Device, mp.Mountpoint)
			if err := f.Mounter.Unmount(ctx, mp.Mountpoint); err != nil {
				return err
			}
		}

		plan, err = f.Plan(opts)
		return err
	})
	return plan, err
}

func (f *Flasher) flashPersistent(ctx context.Context, opts Options, report *Report, log *logrus.Entry) error {
	plan, err := f.validate(ctx, opts, report, log)
	if err != nil {
		return err
	}
	report.Scheme = plan.Scheme

	// The partition manager covers wipe, table creation, partition
	// creation and formatting. Its own step report is folded into ours.
	mgr := &partition.Manager{
		Device:            opts.DevicePath,
		Backend:           f.Backend,
		IsBlockDevice:     f.IsBlockDevice,
		MountedPartitions: f.MountedPartitions,
	}
	stepReport, err := mgr.Apply(ctx, *plan.Table)
	for _, s := range stepReport.Completed {
		if s == partition.StepValidate {
			continue
		}
		report.Completed = append(report.Completed, s.String())
		switch s {
		case partition.StepCreateTable:
			report.State = common.FSTableCreated
		case partition.StepFormatPersistence:
			report.State = common.FSPartitionsFormatted
		}
	}
	if err != nil {
		log.WithField("disk_state", stepReport.DiskState).Error("partitioning failed")
		return f.fail(report, stepReport.Failed.String(), err)
	}

	bootDev, err := device.PartitionPath(opts.DevicePath, 1)
	if err != nil {
		return f.fail(report, "resolve-partitions", err)
	}
	persistDev, err := device.PartitionPath(opts.DevicePath, 2)
	if err != nil {
		return f.fail(report, "resolve-partitions", err)
	}

	scratch, err := os.MkdirTemp(f.ScratchDir, "usbfreedom-flash-")
	if err != nil {
		return f.fail(report, "write-boot-content", err)
	}
	defer os.RemoveAll(scratch)
	bootMount := filepath.Join(scratch, "boot")
	persistMount := filepath.Join(scratch, "persistence")
	for _, dir := range []string{bootMount, persistMount} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return f.fail(report, "write-boot-content", err)
		}
	}

	if err := f.step(ctx, report, "write-boot-content", common.FSImageWritten, func() error {
		log.Infof("extracting image content onto %s", bootDev)
		if err := f.Mounter.Mount(ctx, bootDev, bootMount); err != nil {
			return err
		}
		return f.Extract(opts.ImagePath, bootMount)
	}); err != nil {
		return err
	}

	builder := &persistence.Builder{Root: persistMount, Paths: opts.PersistedPaths}
	if err := f.step(ctx, report, "build-persistence", common.FSPersistenceBuilt, func() error {
		if err := f.Mounter.Mount(ctx, persistDev, persistMount); err != nil {
			return err
		}
		return builder.Build()
	}); err != nil {
		return err
	}

	if err := f.step(ctx, report, "configure-bootloader", common.FSBootloaderConfigured, func() error {
		return f.configureBootloaders(bootMount, log)
	}); err != nil {
		return err
	}

	// Verification walks the mounted persistence structure, so it runs
	// before the final unmount. Missing items are warnings, not errors.
	for _, w := range builder.Verify() {
		log.Warn(w.String())
		report.Warnings = append(report.Warnings, w.String())
	}

	if err := f.step(ctx, report, "unmount", common.FSBootloaderConfigured, func() error {
		if err := f.Mounter.Unmount(ctx, bootMount); err != nil {
			return err
		}
		return f.Mounter.Unmount(ctx, persistMount)
	}); err != nil {
		return err
	}

	return f.step(ctx, report, "verify", common.FSVerified, func() error {
		for _, dev := range []string{bootDev, persistDev} {
			if _, err := os.Stat(dev); err != nil {
				return fmt.Errorf("partition device missing after flash: %w", err)
			}
		}

		// The labels are what the live system boots by, so they are read
		// back from the device rather than trusted from the format step.
		checks := []struct {
			dev  string
			part *disk.Partition
		}{
			{bootDev, plan.Table.BootPartition()},
			{persistDev, plan.Table.FindPartitionForLabel(disk.PersistenceLabel)},
		}
		for _, check := range checks {
			if check.part == nil || check.part.Filesystem == nil {
				continue
			}
			label, err := f.ReadLabel(ctx, check.dev)
			if err != nil {
				return err
			}
			if label != check.part.Filesystem.Label {
				return fmt.Errorf("label mismatch on %s: got %q, want %q", check.dev, label, check.part.Filesystem.Label)
			}
		}
		return nil
	})
}

// configureBootloaders tries every known variant. Success means at least
// one variant found a config location; variants that do not apply to
// this image are logged and skipped.
func (f *Flasher) configureBootloaders(bootMount string, log *logrus.Entry) error {
	opts := bootloader.Options{
		Label:       disk.PersistenceLabel,
		Persistence: true,
	}

	var firstErr error
	configured := 0
	for _, bl := range f.Bootloaders {
		if err := bl.Inject(bootMount, opts); err != nil {
			log.WithField("variant", bl.Name()).Debugf("bootloader variant skipped: %v", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		log.WithField("variant", bl.Name()).Info("bootloader configured")
		configured++
	}

	if configured == 0 {
		return firstErr
	}
	return nil
}
