package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/cham"
)

var (
	scanSysfsRoot string
	scanTablesDir string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Enumerate chameleon controllers on the PCI bus",
	Long: `Find chameleon FPGAs through sysfs, decode each through the table
description <tables>/<address>.cham and print the units.

Examples:
  chamtool scan
  chamtool scan --tables /etc/chamtool/tables
  chamtool scan --sysfs-root /tmp/sys/bus/pci/devices --tables testdata`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanSysfsRoot, "sysfs-root", "", "PCI devices directory (default from config)")
	scanCmd.Flags().StringVar(&scanTablesDir, "tables", "", "table description directory (default from config)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if scanSysfsRoot != "" {
		cfg.Bus.SysfsRoot = scanSysfsRoot
	}
	if scanTablesDir != "" {
		cfg.Bus.TablesDir = scanTablesDir
	}
	logger := newLogger(cfg)

	ctls, err := sysfsControllers(cfg, logger)
	if err != nil {
		return err
	}

	reg := cham.NewRegistry(
		cham.WithIRQPolicy(cfg.IRQPolicy()),
		cham.WithLogger(logger.With("component", "registry")),
	)
	defer reg.Close()

	failed := 0
	attachAll(cmd.Context(), reg, ctls, func(dev bus.Device, err error) {
		failed++
		fmt.Printf("%s: %v\n", dev.Address(), err)
	})

	fpgas := reg.FPGAs()
	fmt.Printf("Found %d chameleon controller(s)\n\n", len(fpgas))
	for _, f := range fpgas {
		if m, ok := bus.Lookup(f.Device.ID()); ok {
			fmt.Printf("%s: %s [%s]\n", f.Device.Address(), m.Description, f.Device.ID())
		}
		if err := f.WriteTable(os.Stdout); err != nil {
			return err
		}
		fmt.Println()
	}
	if failed > 0 {
		return fmt.Errorf("%d controller(s) failed to attach", failed)
	}
	return nil
}
