package cham

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/table"
)

func TestAttachBuildsUnits(t *testing.T) {
	r := NewRegistry(WithIRQPolicy(IRQFromTable))
	dev := simDevice(0)
	rd := table.NewSimReader(simTable(idA, idB))

	f, err := r.Attach(context.Background(), dev, rd)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if f.Seq != 0 || f.NumUnits() != 2 {
		t.Fatalf("fpga seq=%d units=%d, want 0 and 2", f.Seq, f.NumUnits())
	}
	if f.Info.Magic != table.MagicCDEF || f.Info.Model != 'A' {
		t.Fatalf("table info = %s", f.Info)
	}

	u, ok := f.Unit(1)
	if !ok {
		t.Fatal("Unit(1) missing")
	}
	if want := dev.Bars[0].Base + 0x100; u.Addr != want {
		t.Fatalf("unit address = 0x%x, want 0x%x", u.Addr, want)
	}
	if u.Interrupt != 11 {
		t.Fatalf("unit interrupt = %d, want table value 11", u.Interrupt)
	}
	if u.FPGA() != f || u.Device() != bus.Device(dev) {
		t.Fatal("unit not stamped with its controller")
	}
	if _, ok := f.Unit(2); ok {
		t.Fatal("Unit(2) exists past the end marker")
	}

	if enables, releases := dev.Counts(); enables != 1 || releases != 0 {
		t.Fatalf("device enables=%d releases=%d, want 1 and 0", enables, releases)
	}
	if opens, closes := rd.OpenCounts(); opens != 1 || closes != 1 {
		t.Fatalf("table opens=%d closes=%d, want 1 and 1", opens, closes)
	}
}

func TestAttachSequenceNumbers(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		if f := mustAttach(t, r, simDevice(i), simTable(idA)); f.Seq != i {
			t.Fatalf("controller %d got seq %d", i, f.Seq)
		}
	}
	if err := r.Detach(simDevice(1)); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if f := mustAttach(t, r, simDevice(1), simTable(idA)); f.Seq != 3 {
		t.Fatalf("reattached controller got seq %d, want 3", f.Seq)
	}
}

func TestIRQPolicy(t *testing.T) {
	tests := []struct {
		policy IRQPolicy
		want   []int
	}{
		{IRQFromBus, []int{5, 5, 5}},
		{IRQFromTable, []int{10, 11, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			r := NewRegistry(WithIRQPolicy(tt.policy))
			f := mustAttach(t, r, simDevice(0), simTable(idA, idB, idA))
			for i, u := range f.Units() {
				if u.Interrupt != tt.want[i] {
					t.Fatalf("unit %d interrupt = %d, want %d", i, u.Interrupt, tt.want[i])
				}
			}
		})
	}
	if PolicyFromFlag(true) != IRQFromBus || PolicyFromFlag(false) != IRQFromTable {
		t.Fatal("PolicyFromFlag mapping wrong")
	}
	if NewRegistry().IRQPolicy() != IRQFromBus {
		t.Fatal("default policy is not IRQFromBus")
	}
}

func TestAttachMappingSelection(t *testing.T) {
	tests := []struct {
		name string
		io   bool
		want table.Mapping
	}{
		{"memory", false, table.MappingMem},
		{"io", true, table.MappingIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := simDevice(0)
			dev.Bars[0].IO = tt.io
			rd := table.NewSimReader(simTable(idA))
			f, err := NewRegistry().Attach(context.Background(), dev, rd)
			if err != nil {
				t.Fatalf("Attach failed: %v", err)
			}
			if f.Mapping != tt.want {
				t.Fatalf("fpga mapping = %s, want %s", f.Mapping, tt.want)
			}
			if got := rd.Mappings(); len(got) != 1 || got[0] != tt.want {
				t.Fatalf("reader opened with %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestAttachTableCapacity(t *testing.T) {
	full := simTable()
	for i := 0; i < table.MaxUnits; i++ {
		full.Units = append(full.Units, table.UnitInfo{Name: "u", DevID: idA})
	}
	r := NewRegistry()
	f := mustAttach(t, r, simDevice(0), full)
	if f.NumUnits() != table.MaxUnits {
		t.Fatalf("got %d units, want %d", f.NumUnits(), table.MaxUnits)
	}

	broken := simTable(idA, idB)
	broken.Unterminated = true
	dev := simDevice(1)
	rd := table.NewSimReader(broken)
	if _, err := r.Attach(context.Background(), dev, rd); !errors.Is(err, ErrNoEndMarker) {
		t.Fatalf("Attach error = %v, want ErrNoEndMarker", err)
	}
	assertRejected(t, r, dev, rd, 1)
}

func TestAttachFailures(t *testing.T) {
	badMagic := simTable(idA)
	badMagic.Info.Magic = 0x1234

	tests := []struct {
		name  string
		tbl   table.Table
		setup func(dev *bus.SimDevice, rd *table.SimReader)
		want  error
		opens int
	}{
		{
			name:  "bad magic",
			tbl:   badMagic,
			want:  ErrBadMagic,
			opens: 1,
		},
		{
			name: "init failure",
			tbl:  simTable(idA),
			setup: func(_ *bus.SimDevice, rd *table.SimReader) {
				rd.OnOpen = func(table.Mapping) error { return errors.New("map failed") }
			},
			want:  ErrTableInit,
			opens: 0,
		},
		{
			name: "unit on missing BAR",
			tbl: table.Table{
				Info:  table.Info{Magic: table.MagicCDEF},
				Units: []table.UnitInfo{{Name: "bad", BAR: 9}},
			},
			want:  ErrDecode,
			opens: 1,
		},
		{
			name: "enable failure",
			tbl:  simTable(idA),
			setup: func(dev *bus.SimDevice, _ *table.SimReader) {
				dev.EnableErr = errors.New("no power")
			},
			want:  ErrEnable,
			opens: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log eventLog
			r := NewRegistry(WithObserver(&log))
			var rec recorder
			mustRegister(t, r, rec.driver("drv", Extended, idA))

			dev := simDevice(0)
			rd := table.NewSimReader(tt.tbl)
			if tt.setup != nil {
				tt.setup(dev, rd)
			}
			f, err := r.Attach(context.Background(), dev, rd)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Attach error = %v, want %v", err, tt.want)
			}
			if f != nil {
				t.Fatal("Attach returned a controller on failure")
			}
			assertRejected(t, r, dev, rd, tt.opens)

			// Claims made before a failed enable are handed back.
			probes, removes := rec.counts()
			if probes != removes {
				t.Fatalf("probes=%d removes=%d after failed attach", probes, removes)
			}
		})
	}
}

func assertRejected(t *testing.T, r *Registry, dev *bus.SimDevice, rd *table.SimReader, opens int) {
	t.Helper()
	for _, f := range r.FPGAs() {
		if f.Device == bus.Device(dev) {
			t.Fatal("failed controller left registered")
		}
	}
	if _, releases := dev.Counts(); releases != 1 {
		t.Fatalf("device released %d times, want 1", releases)
	}
	if o, c := rd.OpenCounts(); o != opens || c != opens {
		t.Fatalf("table opens=%d closes=%d, want %d each", o, c, opens)
	}
}

func TestAttachTwice(t *testing.T) {
	r := NewRegistry()
	dev := simDevice(0)
	mustAttach(t, r, dev, simTable(idA))
	if _, err := r.Attach(context.Background(), dev, table.NewSimReader(simTable(idA))); !errors.Is(err, ErrDeviceAttached) {
		t.Fatalf("second Attach error = %v, want ErrDeviceAttached", err)
	}
	if _, releases := dev.Counts(); releases != 0 {
		t.Fatal("duplicate attach released the attached device")
	}
}

func TestConcurrentAttachSameDevice(t *testing.T) {
	r := NewRegistry()
	dev := simDevice(0)

	// Neither call leaves Open until both have passed the duplicate check.
	var arrived sync.WaitGroup
	arrived.Add(2)
	readers := make([]*table.SimReader, 2)
	for i := range readers {
		readers[i] = table.NewSimReader(simTable(idA))
		readers[i].OnOpen = func(table.Mapping) error {
			arrived.Done()
			arrived.Wait()
			return nil
		}
	}

	errs := make([]error, len(readers))
	var wg sync.WaitGroup
	for i, rd := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = r.Attach(context.Background(), dev, rd)
		}()
	}
	wg.Wait()

	ok, dup := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDeviceAttached):
			dup++
		default:
			t.Fatalf("Attach failed: %v", err)
		}
	}
	if ok != 1 || dup != 1 {
		t.Fatalf("errs = %v, want one success and one ErrDeviceAttached", errs)
	}
	if n := len(r.FPGAs()); n != 1 {
		t.Fatalf("%d controllers registered, want 1", n)
	}
	if enables, releases := dev.Counts(); enables != 1 || releases != 0 {
		t.Fatalf("enables=%d releases=%d, want 1 and 0", enables, releases)
	}
	for i, rd := range readers {
		if o, c := rd.OpenCounts(); o != 1 || c != 1 {
			t.Fatalf("reader %d opens=%d closes=%d, want 1 each", i, o, c)
		}
	}
}

// detachOnAttach detaches every controller as soon as it is announced.
type detachOnAttach struct {
	eventLog
	r *Registry
}

func (o *detachOnAttach) FPGAAttached(f *FPGA) {
	o.eventLog.FPGAAttached(f)
	if err := o.r.Detach(f.Device); err != nil {
		o.add("detach failed: %v", err)
	}
}

func TestEnableFailureAfterDetach(t *testing.T) {
	obs := &detachOnAttach{}
	r := NewRegistry(WithObserver(obs))
	obs.r = r
	var rec recorder
	mustRegister(t, r, rec.driver("drv", Extended, idA))

	dev := simDevice(0)
	dev.EnableErr = errors.New("no power")
	if _, err := r.Attach(context.Background(), dev, table.NewSimReader(simTable(idA))); !errors.Is(err, ErrEnable) {
		t.Fatalf("Attach error = %v, want ErrEnable", err)
	}

	want := []string{
		"claimed 0/0 drv",
		"attached 0",
		"released 0/0 drv",
		"detached 0",
	}
	if got := obs.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("events = %q, want %q", got, want)
	}
	if _, releases := dev.Counts(); releases != 1 {
		t.Fatalf("device released %d times, want 1", releases)
	}
	if probes, removes := rec.counts(); probes != 1 || removes != 1 {
		t.Fatalf("probes=%d removes=%d, want 1 each", probes, removes)
	}
}

func TestAttachCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev := simDevice(0)
	if _, err := NewRegistry().Attach(ctx, dev, table.NewSimReader(simTable(idA))); !errors.Is(err, context.Canceled) {
		t.Fatalf("Attach error = %v, want context.Canceled", err)
	}
	if _, releases := dev.Counts(); releases != 1 {
		t.Fatal("canceled attach did not release the device")
	}
}

func TestDetachCallsRemove(t *testing.T) {
	r := NewRegistry()
	dev0, dev1 := simDevice(0), simDevice(1)
	mustAttach(t, r, dev0, simTable(idA, idB))
	f1 := mustAttach(t, r, dev1, simTable(idA))

	var rec recorder
	drv := rec.driver("drv", Extended, idA, idB)
	if n := mustRegister(t, r, drv); n != 3 {
		t.Fatalf("claimed %d, want 3", n)
	}

	if err := r.Detach(dev0); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if _, removes := rec.counts(); removes != 2 {
		t.Fatalf("remove called %d times, want 2", removes)
	}
	if _, releases := dev0.Counts(); releases != 1 {
		t.Fatalf("device released %d times, want 1", releases)
	}
	if got := r.FPGAs(); len(got) != 1 || got[0] != f1 {
		t.Fatalf("remaining controllers = %v", got)
	}
	if err := r.Detach(dev0); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("second Detach error = %v, want ErrUnknownDevice", err)
	}

	// Unregistering afterwards must not call Remove for detached units.
	if err := r.Unregister(drv); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if _, removes := rec.counts(); removes != 3 {
		t.Fatalf("remove called %d times in total, want 3", removes)
	}
}

func TestCloseDetachesAll(t *testing.T) {
	r := NewRegistry()
	devs := []*bus.SimDevice{simDevice(0), simDevice(1)}
	for _, dev := range devs {
		mustAttach(t, r, dev, simTable(idA))
	}
	var rec recorder
	drv := rec.driver("drv", Legacy, idA+0x100)
	mustRegister(t, r, drv)

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(r.FPGAs()) != 0 {
		t.Fatal("controllers left after Close")
	}
	for i, dev := range devs {
		if _, releases := dev.Counts(); releases != 1 {
			t.Fatalf("device %d released %d times", i, releases)
		}
	}
	if _, removes := rec.counts(); removes != 2 {
		t.Fatalf("remove called %d times, want 2", removes)
	}
	if got := r.Drivers(Legacy); len(got) != 1 {
		t.Fatal("Close dropped registered drivers")
	}
}

func TestWriteTable(t *testing.T) {
	f := mustAttach(t, NewRegistry(), simDevice(0), simTable(idA, idB))
	var b strings.Builder
	if err := f.WriteTable(&b); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}
	out := b.String()
	for _, want := range []string{"File='TEST        '", "Magic 0xCDEF", "unit00", "unit01", "0x0034"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table listing missing %q:\n%s", want, out)
		}
	}
}
