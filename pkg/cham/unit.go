package cham

import (
	"fmt"
	"strings"
	"sync"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
)

// Space selects the legacy (module code) or extended (device id) view.
type Space uint8

const (
	Legacy Space = iota
	Extended
)

// Spaces lists both id spaces in announce order.
var Spaces = [...]Space{Legacy, Extended}

func (s Space) String() string {
	switch s {
	case Legacy:
		return "v0"
	case Extended:
		return "v2"
	default:
		return fmt.Sprintf("space(%d)", uint8(s))
	}
}

func (s Space) valid() bool { return s == Legacy || s == Extended }

// ParseSpace accepts "v0"/"legacy" and "v2"/"extended".
func ParseSpace(s string) (Space, error) {
	switch strings.ToLower(s) {
	case "v0", "legacy":
		return Legacy, nil
	case "v2", "extended":
		return Extended, nil
	default:
		return 0, fmt.Errorf("cham: unknown id space %q", s)
	}
}

// Identity names the IP core.
type Identity struct {
	ModCode  uint16
	DevID    uint16
	Group    uint8
	Revision uint8
	Variant  uint8
	Instance uint8
}

// Placement locates the core's registers and interrupt.
type Placement struct {
	BAR    int
	Offset uint32
	Size   uint32
	// Addr is the BAR base plus Offset.
	Addr      uint64
	Interrupt int
}

// Unit is one core listed in a chameleon table. All fields are fixed once
// Attach returns; only the claim slots of its descriptors change.
type Unit struct {
	Identity
	Placement
	Index int
	Name  string

	fpga  *FPGA
	views [len(Spaces)]Descriptor
}

func newUnit(f *FPGA, idx int) *Unit {
	u := &Unit{Index: idx, fpga: f}
	for _, s := range Spaces {
		u.views[s].unit = u
		u.views[s].space = s
	}
	return u
}

// FPGA returns the controller the unit belongs to.
func (u *Unit) FPGA() *FPGA { return u.fpga }

// Device returns the physical function of the owning controller.
func (u *Unit) Device() bus.Device { return u.fpga.Device }

// View returns the unit as seen by drivers of space s.
func (u *Unit) View(s Space) *Descriptor { return &u.views[s] }

// ID returns the unit's id in space s.
func (u *Unit) ID(s Space) uint16 {
	if s == Legacy {
		return u.ModCode
	}
	return u.DevID
}

func (u *Unit) String() string {
	return fmt.Sprintf("fpga%d/%02d %s", u.fpga.Seq, u.Index, u.Name)
}

// Descriptor is a unit projected into one id space. It holds that space's
// claim slot: the bound driver and its private data.
type Descriptor struct {
	unit  *Unit
	space Space

	mu     sync.Mutex
	driver *Driver
	data   any
}

func (d *Descriptor) Unit() *Unit  { return d.unit }
func (d *Descriptor) Space() Space { return d.space }

// ID is the module code for Legacy descriptors and the device id for
// Extended ones.
func (d *Descriptor) ID() uint16 { return d.unit.ID(d.space) }

// Driver returns the bound driver, or nil.
func (d *Descriptor) Driver() *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driver
}

// DriverData returns the value stored by the bound driver.
func (d *Descriptor) DriverData() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data
}

// SetDriverData stores driver private state. It is meant to be called from
// Probe; data set by a probe that fails is dropped.
func (d *Descriptor) SetDriverData(v any) {
	d.mu.Lock()
	d.data = v
	d.mu.Unlock()
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s %s id=0x%04x", d.unit, d.space, d.ID())
}

func (d *Descriptor) bind(drv *Driver) {
	d.mu.Lock()
	d.driver = drv
	d.mu.Unlock()
}

// clear empties the claim slot and the private data together.
func (d *Descriptor) clear() {
	d.mu.Lock()
	d.driver = nil
	d.data = nil
	d.mu.Unlock()
}
