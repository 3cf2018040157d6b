package imagebuild

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kdomanski/iso9660"
)

// ExtractISO unpacks the contents of an ISO9660 image into destDir. It
// is used both when rebuilding toolkit images and when populating the
// boot partition of a persistent flash.
func ExtractISO(isoPath, destDir string) error {
	f, err := os.Open(isoPath)
	if err != nil {
		return fmt.Errorf("opening image %s: %w", isoPath, err)
	}
	defer f.Close()

	img, err := iso9660.OpenImage(f)
	if err != nil {
		return fmt.Errorf("reading ISO9660 image %s: %w", isoPath, err)
	}

	root, err := img.RootDir()
	if err != nil {
		return fmt.Errorf("reading ISO root directory: %w", err)
	}

	return extractDir(root, destDir)
}

func extractDir(dir *iso9660.File, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	children, err := dir.GetChildren()
	if err != nil {
		return fmt.Errorf("listing ISO directory: %w", err)
	}

	for _, child := range children {
		target := filepath.Join(destDir, child.Name())
		if child.IsDir() {
			if err := extractDir(child, target); err != nil {
				return err
			}
			continue
		}

		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, child.Reader()); err != nil {
			out.Close()
			return fmt.Errorf("extracting %s: %w", target, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
	return nil
}
