package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/cham"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/chamdesc"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/table"
)

var parseBase uint64

var parseCmd = &cobra.Command{
	Use:   "parse <file.cham>",
	Short: "Parse a table description and show its units",
	Long: `Parse a chameleon table description and print the unit listing as it
would appear for a controller with BAR0 at --base.

Examples:
  chamtool parse testdata/em04a.cham
  chamtool parse --base 0xfe000000 testdata/f206.cham`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().Uint64Var(&parseBase, "base", 0, "base address of every BAR")
}

func runParse(cmd *cobra.Command, args []string) error {
	filename := args[0]

	if verbose {
		fmt.Printf("Parsing table description: %s\n\n", filename)
	}

	tbl, err := chamdesc.LoadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to parse file: %w", err)
	}

	dev := &bus.SimDevice{DeviceID: bus.DeviceID{Vendor: bus.VendorMEN, Device: 0x4d45}}
	for i := 0; i < bus.NumBARs; i++ {
		dev.Bars = append(dev.Bars, bus.BAR{Index: i, Base: parseBase})
	}

	reg := cham.NewRegistry(cham.WithIRQPolicy(cham.IRQFromTable))
	f, err := reg.Attach(context.Background(), dev, table.NewSimReader(tbl))
	if err != nil {
		return fmt.Errorf("failed to decode table: %w", err)
	}
	defer reg.Close()

	if err := f.WriteTable(os.Stdout); err != nil {
		return err
	}
	fmt.Printf("\n%d unit(s)\n", f.NumUnits())
	return nil
}
