// Package cham keeps track of chameleon FPGAs and the client drivers bound
// to their units.
//
// A chameleon FPGA carries a table listing its IP cores ("units"). When the
// host bus finds such a controller, Registry.Attach walks the table through a
// table.Reader and records every unit. Client drivers register with a list
// of ids they handle; the registry offers every unit whose id matches to the
// driver's Probe function and binds the first driver that accepts it.
//
// # Id spaces
//
// Two table generations exist. Legacy (V0) drivers match units by module
// code, extended (V2) drivers by device id. Every unit is visible in both
// spaces at the same time: Unit.View returns the Descriptor for one space,
// and each Descriptor carries its own claim slot.
//
// # Ordering
//
// Drivers are tried in registration order, so the driver registered first
// gets first refusal on a unit. A Probe error means "not for me" and the
// next candidate is tried. At most one Probe runs at any time per Registry.
//
// # Usage
//
//	reg := cham.NewRegistry(cham.WithIRQPolicy(cham.IRQFromBus))
//
//	n, err := reg.Register(&cham.Driver{
//		Name:  "z034-gpio",
//		Space: cham.Extended,
//		IDs:   []uint16{0x22},
//		Probe: func(d *cham.Descriptor) error {
//			d.SetDriverData(newGPIO(d.Unit().Addr))
//			return nil
//		},
//	})
//
//	fpga, err := reg.Attach(ctx, dev, reader)
//
//	unit, err := reg.Find(cham.Extended, 0x22, 0)
package cham
