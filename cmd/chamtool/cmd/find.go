package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/cham"
)

var (
	findSpace    string
	findID       string
	findIndex    int
	findInstance int
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Look a unit up in the simulated system",
	Long: `Run the simulation from the configuration and look a unit up by id.
Without --instance, --index selects the n-th match counting controllers in
attach order and units in table order. With --instance, the first unit with
that instance number is returned.

Examples:
  chamtool find --config testdata/sim.yaml --id 0x22 --index 2
  chamtool find --config testdata/sim.yaml --space v0 --id 0x0a --instance 4`,
	Args: cobra.NoArgs,
	RunE: runFind,
}

func init() {
	rootCmd.AddCommand(findCmd)

	findCmd.Flags().StringVar(&findSpace, "space", "v2", "id space: v0 (module code) or v2 (device id)")
	findCmd.Flags().StringVar(&findID, "id", "", "module code or device id")
	findCmd.Flags().IntVar(&findIndex, "index", 0, "occurrence to return, from 0")
	findCmd.Flags().IntVar(&findInstance, "instance", cham.Any, "instance number (-1 for the n-th match)")
	findCmd.MarkFlagRequired("id")
}

func runFind(cmd *cobra.Command, args []string) error {
	space, err := cham.ParseSpace(findSpace)
	if err != nil {
		return err
	}
	id, err := strconv.ParseUint(findID, 0, 16)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", findID, err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reg, err := buildSim(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer reg.Close()

	var s cham.Snapshot
	if findInstance != cham.Any {
		s, err = reg.FindInstance(space, int(id), findInstance)
	} else {
		s, err = reg.Find(space, uint16(id), findIndex)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Unit:      %s\n", s.Name)
	fmt.Printf("Location:  fpga%d unit %02d on %s\n", s.FPGA, s.Index, s.Device.Address())
	fmt.Printf("Id:        %s 0x%04x (module code 0x%02x, device id 0x%04x)\n", s.Space, s.ID, s.ModCode, s.DevID)
	fmt.Printf("Revision:  %d  Variant: %d  Instance: %d  Group: %d\n", s.Revision, s.Variant, s.Instance, s.Group)
	fmt.Printf("Address:   0x%08x (BAR%d + 0x%x, size 0x%x)\n", s.Addr, s.BAR, s.Offset, s.Size)
	fmt.Printf("Interrupt: %d\n", s.Interrupt)
	if s.Driver != nil {
		fmt.Printf("Driver:    %s\n", s.Driver.Name)
	} else {
		fmt.Printf("Driver:    (none)\n")
	}
	return nil
}
