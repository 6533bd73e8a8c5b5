package cham

import (
	"context"
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/table"
)

// Attach decodes the chameleon table of dev through rd, records the
// controller and offers its units to every registered driver. The device is
// enabled after matching.
//
// On any failure the table handle is closed and no controller stays
// registered. dev is released unless another controller already owns it or a
// concurrent Detach released it.
func (r *Registry) Attach(ctx context.Context, dev bus.Device, rd table.Reader) (f *FPGA, err error) {
	addr := dev.Address()

	r.mu.RLock()
	dup := r.indexFPGA(addr) >= 0
	r.mu.RUnlock()
	if dup {
		return nil, fmt.Errorf("%w: %s", ErrDeviceAttached, addr)
	}

	// owned is cleared once dev is no longer ours to release.
	owned := true
	defer func() {
		if err == nil {
			return
		}
		r.logger.Error("attach failed", "device", addr.String(), "err", err)
		if !owned || errors.Is(err, ErrDeviceAttached) {
			return
		}
		if rerr := dev.Release(); rerr != nil {
			r.logger.Warn("release after failed attach", "device", addr.String(), "err", rerr)
		}
	}()

	f, err = r.decode(ctx, dev, rd)
	if err != nil {
		return nil, err
	}

	// Registration waits on the probe lock, so every driver gets its turn
	// in registration order: the ones linked with f here first, later ones
	// through Register once the initial match is done.
	r.probeMu.Lock()
	drivers, err := r.link(f)
	if err != nil {
		r.probeMu.Unlock()
		return nil, err
	}
	n := r.matchFPGA(f, drivers)
	r.probeMu.Unlock()

	r.logger.Info("fpga attached", "fpga", f.Seq, "device", addr.String(),
		"file", f.Info.File, "model", string(f.Info.Model), "revision", f.Info.Revision,
		"magic", fmt.Sprintf("0x%04X", f.Info.Magic), "mapping", f.Mapping.String(),
		"units", len(f.units), "claimed", n)
	r.observers.FPGAAttached(f)

	if eerr := dev.Enable(); eerr != nil {
		if r.unlink(f) {
			r.observers.FPGADetached(f)
		} else {
			// A concurrent Detach got there first and released dev.
			owned = false
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrEnable, addr, eerr)
	}
	return f, nil
}

// decode opens the table with the mapping BAR0 calls for and walks it.
func (r *Registry) decode(ctx context.Context, dev bus.Device, rd table.Reader) (*FPGA, error) {
	addr := dev.Address()

	bar0, err := dev.BAR(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTableInit, addr, err)
	}
	mapping := table.MappingMem
	if bar0.IO {
		mapping = table.MappingIO
	}

	h, err := rd.Open(mapping)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s mapped): %w", ErrTableInit, addr, mapping, err)
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			r.logger.Warn("closing table", "device", addr.String(), "err", cerr)
		}
	}()

	f := &FPGA{Device: dev, Mapping: mapping}
	if f.Info, err = h.IdentifyTable(); err != nil {
		return nil, fmt.Errorf("%w: %s header: %w", ErrDecode, addr, err)
	}
	if !table.ValidMagic(f.Info.Magic) {
		return nil, fmt.Errorf("%w: 0x%04X on %s", ErrBadMagic, f.Info.Magic, addr)
	}
	if err := r.walk(ctx, f, h); err != nil {
		return nil, err
	}
	return f, nil
}

// walk reads entries from index 0 until the end marker. Exactly MaxUnits
// entries are accepted; an entry past that means the marker is missing.
func (r *Registry) walk(ctx context.Context, f *FPGA, h table.Handle) error {
	addr := f.Device.Address()
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := h.IdentifyUnit(idx)
		if errors.Is(err, table.ErrEndOfTable) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s unit %d: %w", ErrDecode, addr, idx, err)
		}
		if idx >= table.MaxUnits {
			return fmt.Errorf("%w: %s has more than %d units", ErrNoEndMarker, addr, table.MaxUnits)
		}
		u, err := r.buildUnit(f, idx, info)
		if err != nil {
			return err
		}
		f.units = append(f.units, u)
	}
}

// buildUnit fills both views of one table entry and applies the interrupt
// policy.
func (r *Registry) buildUnit(f *FPGA, idx int, info table.UnitInfo) (*Unit, error) {
	bar, err := f.Device.BAR(info.BAR)
	if err != nil {
		return nil, fmt.Errorf("%w: %s unit %d: %w", ErrDecode, f.Device.Address(), idx, err)
	}

	u := newUnit(f, idx)
	u.Name = info.Name
	u.Identity = Identity{
		ModCode:  info.ModCode,
		DevID:    info.DevID,
		Group:    info.Group,
		Revision: info.Revision,
		Variant:  info.Variant,
		Instance: info.Instance,
	}
	u.Placement = Placement{
		BAR:       info.BAR,
		Offset:    info.Offset,
		Size:      info.Size,
		Addr:      bar.Base + uint64(info.Offset),
		Interrupt: info.Interrupt,
	}
	if r.policy == IRQFromBus {
		u.Interrupt = f.Device.IRQ()
	}
	return u, nil
}
