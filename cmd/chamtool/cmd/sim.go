package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceCham/internal/config"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/cham"
)

var attachFirst bool

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the simulated controllers and drivers from the configuration",
	Long: `Build the simulated controllers and drivers listed in the configuration,
register the drivers, attach the controllers and print the resulting tables
and claims.

Examples:
  chamtool sim --config testdata/sim.yaml
  chamtool sim --config testdata/sim.yaml --attach-first --use-bus-irq=false`,
	Args: cobra.NoArgs,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)

	simCmd.Flags().BoolVar(&attachFirst, "attach-first", false,
		"attach controllers before registering drivers")
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reg, err := buildSim(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer reg.Close()

	fmt.Printf("Interrupt source: %s\n\n", reg.IRQPolicy())
	for _, f := range reg.FPGAs() {
		if err := f.WriteTable(os.Stdout); err != nil {
			return err
		}
		fmt.Println()
	}
	writeClaims(os.Stdout, reg)
	return nil
}

// buildSim returns a registry populated from the simulation section. Attach
// failures go to onError and the remaining controllers are still attached;
// with a nil onError the first failure closes the registry and is returned.
func buildSim(ctx context.Context, cfg *config.Config, onError func(bus.Device, error), opts ...cham.Option) (*cham.Registry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cfg)

	ctls, err := simControllers(cfg)
	if err != nil {
		return nil, err
	}
	drivers, err := simDrivers(cfg)
	if err != nil {
		return nil, err
	}

	opts = append([]cham.Option{
		cham.WithIRQPolicy(cfg.IRQPolicy()),
		cham.WithLogger(logger.With("component", "registry")),
	}, opts...)
	reg := cham.NewRegistry(opts...)

	var attachErr error
	attach := func() {
		attachAll(ctx, reg, ctls, func(dev bus.Device, err error) {
			if onError != nil {
				onError(dev, err)
			} else if attachErr == nil {
				attachErr = err
			}
		})
	}

	if attachFirst {
		attach()
	}
	if err := registerAll(reg, drivers); err != nil {
		reg.Close()
		return nil, err
	}
	if !attachFirst {
		attach()
	}
	if attachErr != nil {
		reg.Close()
		return nil, attachErr
	}
	return reg, nil
}
