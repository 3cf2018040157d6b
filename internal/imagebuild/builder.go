// Package imagebuild produces bootable toolkit images from base
// installer media: extract the base ISO, apply the overlay tree, add the
// toolkit's install script, repack.
package imagebuild

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Jacobcdsmith/USBFREEDOM/internal/command"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/toolkit"
)

// Builder turns a toolkit definition and a base ISO into a bootable
// image blob. The flasher treats the result as opaque bytes.
type Builder struct {
	Runner  command.Runner
	Fetcher *Fetcher

	// BaseISODir is where plain (non-URL) base ISO references resolve.
	BaseISODir string
	// OverlayDir is an optional tree copied over the extracted ISO.
	OverlayDir string
}

// Build produces the image for one ready-made toolkit.
func (b *Builder) Build(ctx context.Context, tk toolkit.Toolkit, outputPath string) error {
	logrus.WithField("toolkit", tk.ID).Infof("building toolkit image: %s", tk.Name)
	return b.build(ctx, tk.BaseISO, outputPath, nil)
}

// BuildCustom produces a custom kit image carrying an installer script
// for the selected modules.
func (b *Builder) BuildCustom(ctx context.Context, cat toolkit.Category, modules []toolkit.Module, outputPath string) error {
	logrus.WithField("category", cat.ID).Infof("building custom kit with %d modules", len(modules))
	return b.build(ctx, cat.BaseISO, outputPath, modules)
}

func (b *Builder) build(ctx context.Context, baseISO, outputPath string, modules []toolkit.Module) error {
	source := baseISO
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		source = filepath.Join(b.BaseISODir, baseISO)
	}
	isoPath, err := b.Fetcher.EnsureLocal(ctx, source)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "usbfreedom-build-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	extractDir := filepath.Join(workDir, "extract")
	logrus.Info("extracting base ISO")
	if err := ExtractISO(isoPath, extractDir); err != nil {
		return err
	}

	if b.OverlayDir != "" {
		if _, err := os.Stat(b.OverlayDir); err == nil {
			logrus.Info("applying overlay")
			if err := copyTree(b.OverlayDir, extractDir); err != nil {
				return fmt.Errorf("applying overlay: %w", err)
			}
		}
	}

	if len(modules) > 0 {
		scriptPath := filepath.Join(extractDir, "install_modules.sh")
		if err := os.WriteFile(scriptPath, []byte(InstallScript(modules)), 0o755); err != nil {
			return fmt.Errorf("writing module install script: %w", err)
		}
	}

	logrus.Info("creating bootable image")
	_, err = b.Runner.Run(ctx, "mkisofs",
		"-o", outputPath,
		"-b", "isolinux/isolinux.bin",
		"-c", "isolinux/boot.cat",
		"-no-emul-boot",
		"-boot-load-size", "4",
		"-boot-info-table",
		"-R", "-J", "-v", "-T",
		extractDir,
	)
	if err != nil {
		return fmt.Errorf("repacking image: %w", err)
	}

	logrus.WithField("output", outputPath).Info("image created")
	return nil
}

// InstallScript renders the shell script the live system runs to install
// the selected modules.
func InstallScript(modules []toolkit.Module) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	b.WriteString("set -e\n\n")
	b.WriteString("echo 'Installing selected modules...'\n")

	for _, m := range modules {
		fmt.Fprintf(&b, "\n# %s\n", m.Name)
		fmt.Fprintf(&b, "echo 'Installing %s...'\n", m.Name)
		fmt.Fprintf(&b, "apt-get update && apt-get install -y %s\n", strings.Join(m.Packages, " "))
	}
	return b.String()
}

// copyTree copies src over dst, creating directories as needed and
// overwriting existing files.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
