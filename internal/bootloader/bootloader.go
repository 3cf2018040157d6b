// Package bootloader writes boot-menu fragments referencing the
// persistence label. Grub and Syslinux are variants over one capability:
// inject the persistence kernel parameters plus menu entries for booting
// with and without persistence.
package bootloader

import (
	"fmt"
	"strings"
)

// Entries written by this tool live between these markers so a
// re-injection replaces only its own block and never touches unrelated
// menu entries.
const (
	beginMarker = "# BEGIN USBFREEDOM persistence entries"
	endMarker   = "# END USBFREEDOM persistence entries"
)

// Options parameterize the generated menu entries.
type Options struct {
	// Label is the filesystem label of the persistence partition,
	// referenced by the persistence-label kernel parameter.
	Label string
	// Persistence selects the entry set: with-persistence entries plus a
	// fresh-boot entry, or plain live entries only.
	Persistence bool
	// KernelPath and InitrdPath locate the live kernel inside the boot
	// partition. Defaults: /live/vmlinuz and /live/initrd.img.
	KernelPath string
	InitrdPath string
}

func (o Options) kernel() string {
	if o.KernelPath != "" {
		return o.KernelPath
	}
	return "/live/vmlinuz"
}

func (o Options) initrd() string {
	if o.InitrdPath != "" {
		return o.InitrdPath
	}
	return "/live/initrd.img"
}

// persistenceParams are the kernel parameters that make the live system
// attach the persistence partition.
func (o Options) persistenceParams() string {
	return fmt.Sprintf("persistence persistence-label=%s", o.Label)
}

// Configurator is one bootloader variant.
type Configurator interface {
	Name() string
	// Inject merges this tool's menu entries into the bootloader config
	// on the mounted boot partition. Pre-existing unrelated entries
	// survive unchanged.
	Inject(bootMount string, opts Options) error
}

// ConfigError wraps a bootloader configuration failure.
type ConfigError struct {
	Variant string
	Reason  string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s configuration failed: %s: %v", e.Variant, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s configuration failed: %s", e.Variant, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// mergeBlock inserts block into config between the markers. An existing
// marked block is replaced in place; otherwise the block is appended at
// the end. Everything outside the markers is reproduced unchanged.
func mergeBlock(config, block string) string {
	marked := beginMarker + "\n" + block + endMarker + "\n"

	begin := strings.Index(config, beginMarker)
	end := strings.Index(config, endMarker)
	if begin >= 0 && end > begin {
		after := config[end+len(endMarker):]
		after = strings.TrimPrefix(after, "\n")
		return config[:begin] + marked + after
	}

	if config != "" && !strings.HasSuffix(config, "\n") {
		config += "\n"
	}
	if config != "" {
		config += "\n"
	}
	return config + marked
}
