// Package bus is the host side of chameleon enumeration: the physical PCI
// function that carries a chameleon table, its BARs and its interrupt line.
package bus

import (
	"errors"
	"fmt"
)

// BusAddress is a PCI function address.
type BusAddress struct {
	Domain        uint16
	Bus, Slot, Fn uint8
}

func (a BusAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%01x", a.Domain, a.Bus, a.Slot, a.Fn)
}

// ParseAddress parses the dddd:bb:ss.f form used by sysfs.
func ParseAddress(s string) (BusAddress, error) {
	var a BusAddress
	if _, err := fmt.Sscanf(s, "%x:%x:%x.%x", &a.Domain, &a.Bus, &a.Slot, &a.Fn); err != nil {
		return BusAddress{}, fmt.Errorf("bus: invalid address %q: %w", s, err)
	}
	return a, nil
}

// BAR is one base address register window.
type BAR struct {
	Index int
	IO    bool
	Base  uint64
	Size  uint64
}

func (b BAR) String() string {
	tp := "mem"
	if b.IO {
		tp = "i/o"
	}
	if b.Size == 0 {
		return fmt.Sprintf("{%d: %s unassigned}", b.Index, tp)
	}
	return fmt.Sprintf("{%d: %s 0x%x-0x%x}", b.Index, tp, b.Base, b.Base+b.Size-1)
}

// NumBARs is the number of BARs of a type 0 header.
const NumBARs = 6

// ErrNoBAR is returned for a BAR index outside the header.
var ErrNoBAR = errors.New("bus: no such BAR")

// Device is a physical function hosting a chameleon table.
type Device interface {
	Address() BusAddress
	ID() DeviceID
	BAR(index int) (BAR, error)
	// IRQ is the interrupt assigned by the bus.
	IRQ() int
	// Enable finishes bringing the function up once its units are matched.
	Enable() error
	// Release gives back the resources mapped for the function.
	Release() error
}
