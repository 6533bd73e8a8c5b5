package cham

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/table"
)

// simTable builds a terminated V2 table with one unit per device id. Module
// codes are the device id plus 0x100 so the two spaces can be told apart.
func simTable(devIDs ...uint16) table.Table {
	t := table.Table{Info: table.Info{Model: 'A', Revision: 1, Magic: table.MagicCDEF, File: "TEST"}}
	for i, id := range devIDs {
		t.Units = append(t.Units, table.UnitInfo{
			Name:      fmt.Sprintf("unit%02d", i),
			DevID:     id,
			ModCode:   id + 0x100,
			Instance:  uint8(i),
			Interrupt: 10 + i,
			Offset:    uint32(i) * 0x100,
			Size:      0x100,
		})
	}
	return t
}

func simDevice(n int) *bus.SimDevice {
	addr := bus.BusAddress{Bus: uint8(n + 1)}
	return bus.NewSimDevice(addr, 5, 0xe000_0000+uint64(n)*0x10_0000)
}

func mustAttach(t *testing.T, r *Registry, dev bus.Device, tbl table.Table) *FPGA {
	t.Helper()
	f, err := r.Attach(context.Background(), dev, table.NewSimReader(tbl))
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	return f
}

func mustRegister(t *testing.T, r *Registry, drv *Driver) int {
	t.Helper()
	n, err := r.Register(drv)
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", drv.Name, err)
	}
	return n
}

// recorder is a driver whose probe accepts or refuses according to accept
// and which records every probe and remove call.
type recorder struct {
	mu      sync.Mutex
	accept  func(d *Descriptor) bool
	probed  []*Descriptor
	removed []*Descriptor
}

func (rec *recorder) driver(name string, s Space, ids ...uint16) *Driver {
	return &Driver{
		Name:  name,
		Space: s,
		IDs:   ids,
		Probe: func(d *Descriptor) error {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.probed = append(rec.probed, d)
			if rec.accept != nil && !rec.accept(d) {
				return fmt.Errorf("%s: not mine", name)
			}
			d.SetDriverData(name)
			return nil
		},
		Remove: func(d *Descriptor) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.removed = append(rec.removed, d)
		},
	}
}

func (rec *recorder) counts() (probes, removes int) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.probed), len(rec.removed)
}

// eventLog records observer events as strings.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *eventLog) FPGAAttached(f *FPGA) { l.add("attached %d", f.Seq) }
func (l *eventLog) FPGADetached(f *FPGA) { l.add("detached %d", f.Seq) }
func (l *eventLog) UnitClaimed(d *Descriptor, drv *Driver) {
	l.add("claimed %d/%d %s", d.Unit().FPGA().Seq, d.Unit().Index, drv.Name)
}
func (l *eventLog) UnitReleased(d *Descriptor, drv *Driver) {
	l.add("released %d/%d %s", d.Unit().FPGA().Seq, d.Unit().Index, drv.Name)
}
func (l *eventLog) ProbeRefused(d *Descriptor, drv *Driver, err error) {
	l.add("refused %d/%d %s", d.Unit().FPGA().Seq, d.Unit().Index, drv.Name)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}
