package cham

import (
	"fmt"
	"io"
	"strings"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/table"
)

// FPGA is one attached chameleon controller.
type FPGA struct {
	// Seq numbers controllers in attach order, starting at 0.
	Seq     int
	Device  bus.Device
	Info    table.Info
	Mapping table.Mapping

	units []*Unit

	// detached is guarded by the registry's probe lock.
	detached bool
}

// Units returns the units in table order.
func (f *FPGA) Units() []*Unit {
	out := make([]*Unit, len(f.units))
	copy(out, f.units)
	return out
}

// NumUnits returns the number of valid table entries.
func (f *FPGA) NumUnits() int { return len(f.units) }

// Unit returns the unit at table index i.
func (f *FPGA) Unit(i int) (*Unit, bool) {
	if i < 0 || i >= len(f.units) {
		return nil, false
	}
	return f.units[i], true
}

func (f *FPGA) String() string {
	return fmt.Sprintf("fpga%d %s", f.Seq, f.Device.Address())
}

// WriteTable prints the table header and one line per unit.
func (f *FPGA) WriteTable(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "FPGA %d at %s: File='%s' table model=0x%02x('%c') Revision %d Magic 0x%04X (%s mapped)\n",
		f.Seq, f.Device.Address(), f.Info.PaddedFile(), f.Info.Model, printable(f.Info.Model),
		f.Info.Revision, f.Info.Magic, f.Mapping)
	fmt.Fprintf(&b, " Unit                 devId  modC Grp Rev Var Inst IRQ  BAR Offset     Addr\n")
	b.WriteString(strings.Repeat("-", 86) + "\n")
	for _, u := range f.units {
		fmt.Fprintf(&b, " %02d %-17s 0x%04x 0x%02x %3d %3d %3d 0x%02x 0x%02x %3d 0x%08x 0x%08x\n",
			u.Index, u.Name, u.DevID, u.ModCode, u.Group, u.Revision, u.Variant,
			u.Instance, u.Interrupt, u.BAR, u.Offset, u.Addr)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func printable(c byte) byte {
	if c < 0x20 || c > 0x7e {
		return '.'
	}
	return c
}
