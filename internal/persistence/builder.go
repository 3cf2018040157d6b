package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// ConfFileName is the config file the live system reads from the
	// persistence partition root.
	ConfFileName = "persistence.conf"

	// MountPoint is where the live system mounts the partition at boot.
	MountPoint = "/persistence"

	// UpperDirName and WorkDirName are the overlayfs directories.
	UpperDirName = "upper"
	WorkDirName  = "work"
)

// DefaultPersistedPaths are the directories a freshly built persistence
// partition carries anchors and conf entries for.
var DefaultPersistedPaths = []string{
	"/home",
	"/var/log",
	"/etc",
	"/root",
	"/usr/local",
}

// Builder creates the canonical persistence structure on a partition that
// is already formatted and mounted at Root.
type Builder struct {
	// Root is the scratch path the persistence partition is mounted at.
	Root string

	// Paths overrides DefaultPersistedPaths when non-nil.
	Paths []string
}

func (b *Builder) persistedPaths() []string {
	if b.Paths != nil {
		return b.Paths
	}
	return DefaultPersistedPaths
}

// Build creates upper/, work/, one anchor directory per persisted path,
// and persistence.conf.
//
// Re-running on an already initialized partition is safe: an existing
// persistence.conf is left untouched (the live system appends to it at
// runtime), only missing directories are created, and upper/ and work/
// contents are never modified.
func (b *Builder) Build() error {
	existingConf, err := b.hasConf()
	if err != nil {
		return err
	}
	if existingConf {
		logrus.WithField("root", b.Root).Info("persistence.conf already present, completing directories only")
	}

	dirs := []string{UpperDirName, WorkDirName}
	for _, p := range b.persistedPaths() {
		dirs = append(dirs, strings.TrimPrefix(p, "/"))
	}

	for _, dir := range dirs {
		full := filepath.Join(b.Root, dir)
		if err := os.MkdirAll(full, 0o755); err != nil {
			return fmt.Errorf("creating persistence directory %s: %w", full, err)
		}
	}

	if existingConf {
		return nil
	}

	f := &File{}
	f.AppendComment("# Persistence configuration for USBFREEDOM")
	f.AppendComment("# Each line specifies a directory to persist: <absolute_path> <mode>")
	f.AppendBlank()
	for _, p := range b.persistedPaths() {
		f.AppendEntry(Entry{Path: p, Mode: ModeUnion})
	}

	confPath := filepath.Join(b.Root, ConfFileName)
	out, err := os.OpenFile(confPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", confPath, err)
	}
	defer out.Close()

	if err := f.Write(out); err != nil {
		return fmt.Errorf("writing %s: %w", confPath, err)
	}
	return out.Sync()
}

func (b *Builder) hasConf() (bool, error) {
	_, err := os.Stat(filepath.Join(b.Root, ConfFileName))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// VerifyWarning reports one missing required item of the persistence
// structure. Warnings are collected, never raised: a partially built or
// externally modified partition must stay diagnosable.
type VerifyWarning struct {
	Missing string
}

func (w VerifyWarning) String() string {
	return fmt.Sprintf("missing required persistence item: %s", w.Missing)
}

// Verify re-reads the structure under Root and returns a warning per
// missing required entry. It never returns an error.
func (b *Builder) Verify() []VerifyWarning {
	var warnings []VerifyWarning
	for _, required := range []string{ConfFileName, UpperDirName, WorkDirName} {
		if _, err := os.Stat(filepath.Join(b.Root, required)); err != nil {
			warnings = append(warnings, VerifyWarning{Missing: required})
		}
	}
	return warnings
}
