package bus

import (
	"fmt"
	"sync"
)

// SimDevice is an in-memory Device for tests and simulations.
type SimDevice struct {
	Addr      BusAddress
	DeviceID  DeviceID
	Bars      []BAR
	Interrupt int

	// EnableErr is returned from Enable when set.
	EnableErr error

	mu       sync.Mutex
	enables  int
	releases int
}

// NewSimDevice returns a chameleon function at addr with a single memory
// BAR0 at base.
func NewSimDevice(addr BusAddress, irq int, base uint64) *SimDevice {
	return &SimDevice{
		Addr:      addr,
		DeviceID:  DeviceID{Vendor: VendorMEN, Device: 0x4d45, SubVendor: VendorMEN, SubDevice: 0},
		Bars:      []BAR{{Index: 0, Base: base, Size: 0x2000}},
		Interrupt: irq,
	}
}

// Counts reports how often Enable and Release were called.
func (s *SimDevice) Counts() (enables, releases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enables, s.releases
}

func (s *SimDevice) Address() BusAddress { return s.Addr }
func (s *SimDevice) ID() DeviceID        { return s.DeviceID }
func (s *SimDevice) IRQ() int            { return s.Interrupt }

func (s *SimDevice) BAR(index int) (BAR, error) {
	if index < 0 || index >= NumBARs {
		return BAR{}, fmt.Errorf("%w: %d on %s", ErrNoBAR, index, s.Addr)
	}
	for _, b := range s.Bars {
		if b.Index == index {
			return b, nil
		}
	}
	return BAR{Index: index}, nil
}

func (s *SimDevice) Enable() error {
	s.mu.Lock()
	s.enables++
	s.mu.Unlock()
	return s.EnableErr
}

func (s *SimDevice) Release() error {
	s.mu.Lock()
	s.releases++
	s.mu.Unlock()
	return nil
}
