package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceCham/internal/config"
	"github.com/OpenTraceLab/OpenTraceCham/internal/logging"
)

// Version is reported by --version and attached to every log line.
var Version = "0.3.0"

var (
	// Global flags
	configPath string
	verbose    bool
	useBusIRQ  bool
)

var rootCmd = &cobra.Command{
	Use:   "chamtool",
	Short: "Chameleon FPGA unit registry tool",
	Long: `Enumerate chameleon FPGAs, decode their unit tables and bind units to
client drivers.

Examples:
  chamtool parse testdata/em04a.cham                 # Show a table description
  chamtool sim --config testdata/sim.yaml            # Run a simulated system
  chamtool find --config testdata/sim.yaml --id 0x22 # Look a unit up
  chamtool scan --tables /etc/chamtool/tables        # Enumerate the PCI bus
  chamtool serve --sim --config testdata/sim.yaml    # Export metrics and events`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&useBusIRQ, "use-bus-irq", true,
		"give every unit the controller's bus interrupt instead of the table value")
}

// loadConfig reads the configuration and applies the global flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("use-bus-irq") {
		cfg.Interrupts.UseBusIRQ = useBusIRQ
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(cfg.Logging, Version)
}
