package cham

import (
	"fmt"
	"slices"
)

// EndOfIDs terminates an id list early. It never names a real unit.
const EndOfIDs uint16 = 0xffff

// Driver is a client driver for chameleon units of one id space.
//
// The Driver must not be modified while it is registered. IDs are copied at
// registration, so changes to the slice have no effect until the driver is
// registered again.
type Driver struct {
	Name  string
	Space Space

	// IDs lists the module codes (Legacy) or device ids (Extended) the driver
	// handles, in the order they are tried.
	IDs []uint16

	// Probe is offered every unit with a matching id. A nil return claims the
	// unit; an error declines it.
	Probe func(d *Descriptor) error

	// Remove is called once for every claimed unit when the driver is
	// unregistered or its FPGA goes away. Optional.
	Remove func(d *Descriptor)
}

// Supports reports whether id appears in the driver's list before EndOfIDs.
func (drv *Driver) Supports(id uint16) bool {
	return slices.Contains(activeIDs(drv.IDs), id)
}

func (drv *Driver) String() string {
	return fmt.Sprintf("%s(%s)", drv.Name, drv.Space)
}

func (drv *Driver) validate() error {
	switch {
	case drv == nil:
		return fmt.Errorf("%w: nil driver", ErrInvalidDriver)
	case drv.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidDriver)
	case drv.Probe == nil:
		return fmt.Errorf("%w: %s has no probe function", ErrInvalidDriver, drv.Name)
	case !drv.Space.valid():
		return fmt.Errorf("%w: %s has unknown id space %d", ErrInvalidDriver, drv.Name, drv.Space)
	}
	return nil
}

// activeIDs returns ids up to, not including, the first EndOfIDs.
func activeIDs(ids []uint16) []uint16 {
	if i := slices.Index(ids, EndOfIDs); i >= 0 {
		return ids[:i]
	}
	return ids
}

// driverEntry is a registered driver with the id list frozen at registration.
type driverEntry struct {
	drv   *Driver
	space Space
	ids   []uint16

	// removed is set under the probe lock once the driver is unregistered.
	removed bool
}

func newDriverEntry(drv *Driver) *driverEntry {
	return &driverEntry{
		drv:   drv,
		space: drv.Space,
		ids:   slices.Clone(activeIDs(drv.IDs)),
	}
}
