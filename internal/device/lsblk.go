package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"github.com/Jacobcdsmith/USBFREEDOM/internal/command"
)

// lsblk's --pairs output quotes every value, so vendor and model strings
// containing spaces survive parsing.
var lsblkArgs = []string{"--pairs", "--bytes", "--nodeps", "--output", "NAME,SIZE,VENDOR,MODEL,RM,TYPE"}

// Lister enumerates removable block devices.
type Lister struct {
	Runner command.Runner

	// Ignore holds glob patterns for device paths that must never be
	// offered as flash targets, e.g. "/dev/mmcblk*" on appliances whose
	// root disk is an SD card.
	Ignore []string
}

// List returns a fresh snapshot of all removable disks, filtered by the
// ignore patterns. Non-removable devices and partitions are skipped.
func (l *Lister) List(ctx context.Context) ([]Info, error) {
	out, err := l.Runner.Run(ctx, "lsblk", lsblkArgs...)
	if err != nil {
		return nil, fmt.Errorf("listing block devices: %w", err)
	}

	ignore := make([]glob.Glob, 0, len(l.Ignore))
	for _, pattern := range l.Ignore {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid device ignore pattern %q: %w", pattern, err)
		}
		ignore = append(ignore, g)
	}

	var devices []Info
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		info, devType, err := parseLsblkPairs(line)
		if err != nil {
			logrus.WithField("line", line).Warnf("skipping unparsable lsblk row: %v", err)
			continue
		}
		if devType != "disk" || !info.Removable {
			continue
		}
		if matchesAny(ignore, info.Path) {
			logrus.Debugf("device %s matches ignore pattern, skipping", info.Path)
			continue
		}
		devices = append(devices, info)
	}

	return devices, nil
}

func matchesAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// parseLsblkPairs decodes one NAME="..." SIZE="..." row.
func parseLsblkPairs(line string) (Info, string, error) {
	fields := map[string]string{}
	for len(line) > 0 {
		line = strings.TrimLeft(line, " ")
		eq := strings.Index(line, "=\"")
		if eq < 0 {
			break
		}
		key := line[:eq]
		rest := line[eq+2:]
		end := strings.Index(rest, "\"")
		if end < 0 {
			return Info{}, "", fmt.Errorf("unterminated value for key %q", key)
		}
		fields[key] = rest[:end]
		line = rest[end+1:]
	}

	name := fields["NAME"]
	if name == "" {
		return Info{}, "", fmt.Errorf("missing NAME field")
	}

	size, err := strconv.ParseUint(fields["SIZE"], 10, 64)
	if err != nil {
		return Info{}, "", fmt.Errorf("bad SIZE %q: %w", fields["SIZE"], err)
	}

	info := Info{
		Path:      "/dev/" + name,
		SizeBytes: size,
		Vendor:    strings.TrimSpace(fields["VENDOR"]),
		Model:     strings.TrimSpace(fields["MODEL"]),
		Removable: fields["RM"] == "1",
	}
	return info, fields["TYPE"], nil
}
