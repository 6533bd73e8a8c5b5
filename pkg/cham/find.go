package cham

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
)

// Any matches every id or instance in FindInstance.
const Any = -1

// Snapshot is a copy of a unit taken at lookup time. Changing it has no
// effect on the registry.
type Snapshot struct {
	Identity
	Placement
	Space Space
	ID    uint16
	Index int
	Name  string

	// FPGA is the sequence number of the owning controller.
	FPGA   int
	Device bus.Device

	Driver     *Driver
	DriverData any
}

func (s Snapshot) String() string {
	return fmt.Sprintf("fpga%d/%02d %s %s id=0x%04x", s.FPGA, s.Index, s.Name, s.Space, s.ID)
}

func snapshot(d *Descriptor) Snapshot {
	u := d.unit
	d.mu.Lock()
	drv, data := d.driver, d.data
	d.mu.Unlock()
	return Snapshot{
		Identity:   u.Identity,
		Placement:  u.Placement,
		Space:      d.space,
		ID:         d.ID(),
		Index:      u.Index,
		Name:       u.Name,
		FPGA:       u.fpga.Seq,
		Device:     u.fpga.Device,
		Driver:     drv,
		DriverData: data,
	}
}

// Find returns the n-th unit (from 0) whose id in space s equals id,
// counting controllers in attach order and units in table order.
func (r *Registry) Find(s Space, id uint16, n int) (Snapshot, error) {
	if n < 0 {
		return Snapshot{}, fmt.Errorf("%w: negative index %d", ErrNotFound, n)
	}
	return r.find(s, n, func(d *Descriptor) bool { return d.ID() == id },
		func() string { return fmt.Sprintf("%s id 0x%04x index %d", s, id, n) })
}

// FindInstance returns the first unit matching id and instance in space s.
// Either may be Any.
func (r *Registry) FindInstance(s Space, id, instance int) (Snapshot, error) {
	return r.find(s, 0, func(d *Descriptor) bool {
		return (id == Any || int(d.ID()) == id) &&
			(instance == Any || int(d.unit.Instance) == instance)
	}, func() string { return fmt.Sprintf("%s id %d instance %d", s, id, instance) })
}

func (r *Registry) find(s Space, n int, match func(*Descriptor) bool, what func() string) (Snapshot, error) {
	if !s.valid() {
		return Snapshot{}, fmt.Errorf("cham: unknown id space %d", s)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.fpgas {
		for _, u := range f.units {
			d := u.View(s)
			if !match(d) {
				continue
			}
			if n == 0 {
				return snapshot(d), nil
			}
			n--
		}
	}
	return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, what())
}
