package bootloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Grub injects menu entries into boot/grub/grub.cfg on the boot
// partition.
type Grub struct{}

func (Grub) Name() string {
	return "grub"
}

func (g Grub) Inject(bootMount string, opts Options) error {
	cfgPath := filepath.Join(bootMount, "boot", "grub", "grub.cfg")
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return &ConfigError{Variant: g.Name(), Reason: "creating grub directory", Err: err}
	}

	existing, err := os.ReadFile(cfgPath)
	if err != nil && !os.IsNotExist(err) {
		return &ConfigError{Variant: g.Name(), Reason: "reading existing grub.cfg", Err: err}
	}

	config := string(existing)
	if config == "" {
		config = "set timeout=10\nset default=0\n"
	}
	config = mergeBlock(config, g.entries(opts))

	if err := os.WriteFile(cfgPath, []byte(config), 0o644); err != nil {
		return &ConfigError{Variant: g.Name(), Reason: "writing grub.cfg", Err: err}
	}

	logrus.WithField("path", cfgPath).Info("grub configuration written")
	return nil
}

func (g Grub) entries(opts Options) string {
	var b strings.Builder

	entry := func(title, params string) {
		fmt.Fprintf(&b, "menuentry \"%s\" {\n", title)
		b.WriteString("    set gfxpayload=keep\n")
		fmt.Fprintf(&b, "    linux %s boot=live %s\n", opts.kernel(), params)
		fmt.Fprintf(&b, "    initrd %s\n", opts.initrd())
		b.WriteString("}\n")
	}

	if opts.Persistence {
		entry("USBFREEDOM with Persistence", opts.persistenceParams()+" quiet splash")
		entry("USBFREEDOM (No Persistence)", "nopersistence quiet splash")
		entry("USBFREEDOM (Failsafe)", opts.persistenceParams()+" nomodeset")
	} else {
		entry("USBFREEDOM", "quiet splash")
		entry("USBFREEDOM (Failsafe)", "nomodeset")
	}

	return b.String()
}
