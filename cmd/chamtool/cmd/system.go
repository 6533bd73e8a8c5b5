package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/OpenTraceLab/OpenTraceCham/internal/config"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/cham"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/chamdesc"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/table"
)

// controller is a bus function paired with the reader for its table.
type controller struct {
	dev    bus.Device
	reader table.Reader
}

// simControllers builds simulated functions from the configuration.
func simControllers(cfg *config.Config) ([]controller, error) {
	var out []controller
	for _, c := range cfg.Simulation.Controllers {
		addr, err := bus.ParseAddress(c.Address)
		if err != nil {
			return nil, err
		}
		tbl, err := chamdesc.LoadFile(c.Table)
		if err != nil {
			return nil, fmt.Errorf("controller %s: %w", addr, err)
		}

		dev := &bus.SimDevice{
			Addr:      addr,
			DeviceID:  bus.DeviceID{Vendor: c.Vendor, Device: c.Device},
			Interrupt: c.IRQ,
		}
		if dev.DeviceID.Vendor == 0 {
			dev.DeviceID.Vendor = bus.VendorMEN
		}
		for _, b := range c.BARs {
			dev.Bars = append(dev.Bars, bus.BAR{Index: b.Index, IO: b.IO, Base: b.Base, Size: b.Size})
		}
		out = append(out, controller{dev: dev, reader: table.NewSimReader(tbl)})
	}
	return out, nil
}

// sysfsControllers enumerates chameleon functions under the sysfs root and
// pairs each with <tables dir>/<address>.cham. Functions without a
// description are skipped.
func sysfsControllers(cfg *config.Config, logger cham.Logger) ([]controller, error) {
	devs, err := bus.NewSysfs(cfg.Bus.SysfsRoot).Discover()
	if err != nil {
		return nil, err
	}
	tables, err := chamdesc.LoadDir(cfg.Bus.TablesDir)
	if err != nil {
		return nil, err
	}

	var out []controller
	for _, dev := range devs {
		tbl, ok := tables[dev.Address().String()]
		if !ok {
			logger.Warn("no table description for controller", "device", dev.Address().String(), "tables", cfg.Bus.TablesDir)
			continue
		}
		out = append(out, controller{dev: dev, reader: table.NewSimReader(tbl)})
	}
	return out, nil
}

// simDrivers builds the drivers listed in the configuration. Their probe
// declines the configured instances and stores the driver name as private
// data.
func simDrivers(cfg *config.Config) ([]*cham.Driver, error) {
	var out []*cham.Driver
	for _, d := range cfg.Simulation.Drivers {
		space, err := cham.ParseSpace(d.Space)
		if err != nil {
			return nil, err
		}
		refuse := slices.Clone(d.RefuseInstances)
		name := d.Name
		out = append(out, &cham.Driver{
			Name:  name,
			Space: space,
			IDs:   slices.Clone(d.IDs),
			Probe: func(desc *cham.Descriptor) error {
				if slices.Contains(refuse, desc.Unit().Instance) {
					return fmt.Errorf("%s: instance %d not supported", name, desc.Unit().Instance)
				}
				desc.SetDriverData(name)
				return nil
			},
		})
	}
	return out, nil
}

// attachAll attaches every controller. Failures are reported through
// onError and do not stop the others.
func attachAll(ctx context.Context, reg *cham.Registry, ctls []controller, onError func(bus.Device, error)) int {
	n := 0
	for _, c := range ctls {
		if _, err := reg.Attach(ctx, c.dev, c.reader); err != nil {
			if onError != nil {
				onError(c.dev, err)
			}
			continue
		}
		n++
	}
	return n
}

func registerAll(reg *cham.Registry, drivers []*cham.Driver) error {
	var errs []error
	for _, d := range drivers {
		if _, err := reg.Register(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeClaims lists every bound descriptor grouped by driver.
func writeClaims(w io.Writer, reg *cham.Registry) {
	for _, s := range cham.Spaces {
		for _, drv := range reg.Drivers(s) {
			var units []string
			for _, f := range reg.FPGAs() {
				for _, u := range f.Units() {
					if u.View(s).Driver() == drv {
						units = append(units, fmt.Sprintf("fpga%d/%02d", f.Seq, u.Index))
					}
				}
			}
			fmt.Fprintf(w, "Driver %s (%s): %d unit(s)", drv.Name, s, len(units))
			if len(units) > 0 {
				fmt.Fprintf(w, " %s", strings.Join(units, " "))
			}
			fmt.Fprintln(w)
		}
	}
}
