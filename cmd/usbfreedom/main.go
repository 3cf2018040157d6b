package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Jacobcdsmith/USBFREEDOM/internal/command"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/common"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/device"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/flasher"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/imagebuild"
	"github.com/Jacobcdsmith/USBFREEDOM/internal/toolkit"
)

var (
	configFile string
	config     *cliConfig

	outputPath        string
	moduleIDs         []string
	persistence       bool
	persistenceSizeMB int64
	assumeYes         bool
)

var rootCmd = &cobra.Command{
	Use:          "usbfreedom",
	Short:        "Build bootable USB images and flash them with optional persistence",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = parseConfig(configFile)
		if err != nil {
			return fmt.Errorf("could not load config file %q: %v", configFile, err)
		}

		level, err := logrus.ParseLevel(config.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %v", config.LogLevel, err)
		}
		logrus.SetLevel(level)
		if config.LogJournal {
			logrus.AddHook(&common.JournalHook{})
			logrus.SetOutput(os.Stderr)
		}
		return nil
	},
}

var listDevicesCmd = &cobra.Command{
	Use:   "list-devices",
	Short: "List removable devices available as flash targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		lister := &device.Lister{
			Runner: &command.ExecRunner{},
			Ignore: config.IgnoreDevices,
		}
		devices, err := lister.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No removable devices found.")
			return nil
		}
		for _, d := range devices {
			fmt.Println(d.String())
		}
		return nil
	},
}

var listToolkitsCmd = &cobra.Command{
	Use:   "list-toolkits",
	Short: "List the ready-made toolkit definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		toolkits, err := loadToolkits()
		if err != nil {
			return err
		}
		for _, tk := range toolkits {
			fmt.Printf("%-20s %s\n", tk.ID, tk.Name)
			if tk.Description != "" {
				fmt.Printf("%-20s %s\n", "", tk.Description)
			}
		}
		return nil
	},
}

var listCategoriesCmd = &cobra.Command{
	Use:   "list-categories",
	Short: "List the module categories available for custom kits",
	RunE: func(cmd *cobra.Command, args []string) error {
		categories, err := loadCategories()
		if err != nil {
			return err
		}
		for _, cat := range categories {
			fmt.Printf("%s: %s\n", cat.ID, cat.Name)
			for _, m := range cat.Modules {
				fmt.Printf("    %-16s %s\n", m.ID, m.Name)
			}
		}
		return nil
	},
}

var buildCmd = &cobra.Command{
	Use:   "build TOOLKIT-ID",
	Short: "Build the bootable image for a ready-made toolkit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolkits, err := loadToolkits()
		if err != nil {
			return err
		}
		tk, err := toolkit.FindToolkit(toolkits, args[0])
		if err != nil {
			return err
		}
		return newBuilder().Build(cmd.Context(), tk, outputPath)
	},
}

var buildCustomCmd = &cobra.Command{
	Use:   "build-custom CATEGORY-ID",
	Short: "Build a custom kit from selected modules of a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		categories, err := loadCategories()
		if err != nil {
			return err
		}
		cat, err := toolkit.FindCategory(categories, args[0])
		if err != nil {
			return err
		}

		ids := moduleIDs
		if len(ids) == 0 {
			ids, err = promptModuleSelection(cat)
			if err != nil {
				return err
			}
		}
		modules, err := cat.SelectModules(ids)
		if err != nil {
			return err
		}
		if len(modules) == 0 {
			return fmt.Errorf("no modules selected")
		}
		return newBuilder().BuildCustom(cmd.Context(), cat, modules, outputPath)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan IMAGE DEVICE",
	Short: "Show what a flash operation would do, without touching the device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := newFlasher()
		plan, err := f.Plan(flashOptions(args[0], args[1]))
		if err != nil {
			return err
		}
		printPlan(plan)
		return nil
	},
}

var flashCmd = &cobra.Command{
	Use:   "flash IMAGE DEVICE",
	Short: "Write an image to a device, destroying all data on it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := flashOptions(args[0], args[1])

		f := newFlasher()
		plan, err := f.Plan(opts)
		if err != nil {
			return err
		}
		printPlan(plan)

		if !assumeYes {
			if !confirmDevice(opts.DevicePath) {
				fmt.Println("Aborted.")
				return nil
			}
		}

		f.Progress = printProgress
		report, err := f.Flash(cmd.Context(), opts)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("flash failed (operation %s): %w", report.OperationID, err)
		}

		fmt.Printf("Flash complete (operation %s).\n", report.OperationID)
		for _, w := range report.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		return nil
	},
}

// loadToolkits and loadCategories tell a missing registry apart from a
// broken one, so the error points at the config instead of a TOML parse
// failure on a nonexistent file.
func loadToolkits() ([]toolkit.Toolkit, error) {
	if !toolkit.Exists(config.ToolkitsFile) {
		return nil, fmt.Errorf("no toolkit registry at %s", config.ToolkitsFile)
	}
	return toolkit.LoadToolkits(config.ToolkitsFile)
}

func loadCategories() ([]toolkit.Category, error) {
	if !toolkit.Exists(config.CategoriesFile) {
		return nil, fmt.Errorf("no module catalog at %s", config.CategoriesFile)
	}
	return toolkit.LoadCategories(config.CategoriesFile)
}

func newBuilder() *imagebuild.Builder {
	return &imagebuild.Builder{
		Runner:     &command.ExecRunner{},
		Fetcher:    imagebuild.NewFetcher(config.CacheDir),
		BaseISODir: config.BaseISODir,
		OverlayDir: config.OverlayDir,
	}
}

func newFlasher() *flasher.Flasher {
	f := flasher.New(&command.ExecRunner{})
	f.Locks = &flasher.LockManager{Dir: config.LockDir}
	return f
}

func flashOptions(imagePath, devicePath string) flasher.Options {
	return flasher.Options{
		ImagePath:         imagePath,
		DevicePath:        devicePath,
		Persistence:       persistence,
		PersistenceSizeMB: persistenceSizeMB,
	}
}

func printPlan(plan *flasher.Plan) {
	fmt.Printf("Image:  %s (%s)\n", plan.ImagePath, common.FormatSize(plan.ImageSizeBytes))
	fmt.Printf("Device: %s (%s)\n", plan.DevicePath, common.FormatSize(plan.DeviceSizeBytes))
	if plan.Scheme == nil {
		fmt.Println("Layout: raw copy, no partitioning")
		return
	}
	fmt.Println("Layout: GPT")
	fmt.Printf("    1: boot        %s (FAT32, bootable)\n", common.FormatSize(plan.Scheme.BootBytes))
	fmt.Printf("    2: persistence %s (ext4)\n", common.FormatSize(plan.Scheme.PersistenceBytes))
}

func printProgress(written, total int64) {
	if total <= 0 {
		return
	}
	fmt.Printf("\rwriting: %3d%%", written*100/total)
}

// confirmDevice requires the user to type the device path back. A plain
// y/N prompt is too easy to blow through for an operation that destroys
// the device contents.
func confirmDevice(devicePath string) bool {
	fmt.Printf("This will DESTROY ALL DATA on %s.\n", devicePath)
	fmt.Printf("Type the device path to continue: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	return strings.TrimSpace(scanner.Text()) == devicePath
}

// promptModuleSelection lists the modules of a category and reads a
// space- or comma-separated list of module IDs from stdin.
func promptModuleSelection(cat toolkit.Category) ([]string, error) {
	fmt.Printf("Modules in category %q:\n", cat.ID)
	for _, m := range cat.Modules {
		fmt.Printf("    %-16s %s\n", m.ID, m.Name)
	}
	fmt.Printf("Select modules (IDs, separated by spaces): ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return nil, fmt.Errorf("no selection read: %v", scanner.Err())
	}
	fields := strings.FieldsFunc(scanner.Text(), func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("no modules selected")
	}
	return fields, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/usbfreedom/usbfreedom.toml", "configuration file")

	buildCmd.Flags().StringVarP(&outputPath, "output", "o", "usbfreedom.iso", "output image path")
	buildCustomCmd.Flags().StringVarP(&outputPath, "output", "o", "usbfreedom.iso", "output image path")
	buildCustomCmd.Flags().StringSliceVarP(&moduleIDs, "modules", "m", nil, "module IDs to include; prompts when omitted")

	for _, cmd := range []*cobra.Command{planCmd, flashCmd} {
		cmd.Flags().BoolVarP(&persistence, "persistence", "p", false, "create a persistent partition alongside the boot partition")
		cmd.Flags().Int64Var(&persistenceSizeMB, "persistence-size", 0, "persistence partition size in MB; 0 uses all remaining space")
	}
	flashCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")

	rootCmd.AddCommand(listDevicesCmd, listToolkitsCmd, listCategoriesCmd, buildCmd, buildCustomCmd, planCmd, flashCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
