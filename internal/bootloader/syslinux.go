package bootloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Syslinux injects menu entries into the syslinux/isolinux config of the
// boot partition. The config location varies between images, so the
// known candidates are probed in order.
type Syslinux struct{}

var syslinuxCandidates = []string{
	"isolinux/isolinux.cfg",
	"syslinux/syslinux.cfg",
	"boot/syslinux/syslinux.cfg",
}

func (Syslinux) Name() string {
	return "syslinux"
}

func (s Syslinux) Inject(bootMount string, opts Options) error {
	cfgPath := s.locateConfig(bootMount)
	if cfgPath == "" {
		return &ConfigError{
			Variant: s.Name(),
			Reason:  "no syslinux or isolinux configuration directory on boot partition",
		}
	}

	existing, err := os.ReadFile(cfgPath)
	if err != nil && !os.IsNotExist(err) {
		return &ConfigError{Variant: s.Name(), Reason: "reading existing config", Err: err}
	}

	config := string(existing)
	if config == "" {
		defaultLabel := "live"
		if opts.Persistence {
			defaultLabel = "live-persistence"
		}
		config = fmt.Sprintf("DEFAULT %s\nTIMEOUT 100\nPROMPT 1\n", defaultLabel)
	}
	config = mergeBlock(config, s.entries(opts))

	if err := os.WriteFile(cfgPath, []byte(config), 0o644); err != nil {
		return &ConfigError{Variant: s.Name(), Reason: "writing config", Err: err}
	}

	logrus.WithField("path", cfgPath).Info("syslinux configuration written")
	return nil
}

// locateConfig returns the first candidate whose directory exists on the
// boot partition; the config file itself may not exist yet.
func (s Syslinux) locateConfig(bootMount string) string {
	for _, candidate := range syslinuxCandidates {
		full := filepath.Join(bootMount, candidate)
		if st, err := os.Stat(filepath.Dir(full)); err == nil && st.IsDir() {
			return full
		}
	}
	return ""
}

func (s Syslinux) entries(opts Options) string {
	var b strings.Builder

	entry := func(label, title, params string) {
		fmt.Fprintf(&b, "LABEL %s\n", label)
		fmt.Fprintf(&b, "    MENU LABEL %s\n", title)
		fmt.Fprintf(&b, "    KERNEL %s\n", opts.kernel())
		fmt.Fprintf(&b, "    APPEND initrd=%s boot=live %s\n", opts.initrd(), params)
	}

	if opts.Persistence {
		entry("live-persistence", "USBFREEDOM with Persistence", opts.persistenceParams()+" quiet splash")
		entry("live-no-persist", "USBFREEDOM (No Persistence)", "nopersistence quiet splash")
		entry("live-failsafe", "USBFREEDOM (Failsafe)", opts.persistenceParams()+" nomodeset")
	} else {
		entry("live", "USBFREEDOM", "quiet splash")
		entry("live-failsafe", "USBFREEDOM (Failsafe)", "nomodeset")
	}

	return b.String()
}
