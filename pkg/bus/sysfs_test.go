package bus

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFunc(t *testing.T, root, addr string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, addr)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	return dir
}

func resourceFile(lines ...string) string {
	for len(lines) < NumBARs {
		lines = append(lines, "0x0000000000000000 0x0000000000000000 0x0000000000000000")
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestSysfsDiscover(t *testing.T) {
	root := t.TempDir()

	dir := writeFunc(t, root, "0000:02:00.0", map[string]string{
		"vendor":           "0x1a88\n",
		"device":           "0x4d45\n",
		"subsystem_vendor": "0x1a88\n",
		"subsystem_device": "0x0000\n",
		"irq":              "17\n",
		"enable":           "0\n",
		"resource": resourceFile(
			"0x00000000fe000000 0x00000000fe001fff 0x0000000000040200",
			"0x000000000000e000 0x000000000000e0ff 0x0000000000040101",
		),
	})
	writeFunc(t, root, "0000:00:1f.3", map[string]string{
		"vendor":           "0x8086\n",
		"device":           "0xa348\n",
		"subsystem_vendor": "0x8086\n",
		"subsystem_device": "0x7270\n",
		"irq":              "10\n",
		"resource":         resourceFile(),
	})

	devs, err := NewSysfs(root).Discover()
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(devs) != 1 {
		t.Fatalf("got %d devices, want 1", len(devs))
	}
	d := devs[0]
	if d.Address().String() != "0000:02:00.0" {
		t.Fatalf("address = %s", d.Address())
	}
	if d.IRQ() != 17 {
		t.Fatalf("irq = %d, want 17", d.IRQ())
	}

	bar0, err := d.BAR(0)
	if err != nil {
		t.Fatalf("BAR(0) failed: %v", err)
	}
	if bar0.IO || bar0.Base != 0xfe000000 || bar0.Size != 0x2000 {
		t.Fatalf("unexpected BAR0 %v", bar0)
	}
	bar1, err := d.BAR(1)
	if err != nil {
		t.Fatalf("BAR(1) failed: %v", err)
	}
	if !bar1.IO || bar1.Base != 0xe000 || bar1.Size != 0x100 {
		t.Fatalf("unexpected BAR1 %v", bar1)
	}
	if _, err := d.BAR(6); !errors.Is(err, ErrNoBAR) {
		t.Fatalf("BAR(6) error = %v, want ErrNoBAR", err)
	}

	if err := d.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "enable"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(b) != "1" {
		t.Fatalf("enable = %q, want 1", b)
	}
}

func TestSysfsReleaseKeepsResources(t *testing.T) {
	root := t.TempDir()
	writeFunc(t, root, "0000:02:00.0", map[string]string{
		"vendor":           "0x1172\n",
		"device":           "0x4d45\n",
		"subsystem_vendor": "0x1a88\n",
		"subsystem_device": "0x0000\n",
		"irq":              "17\n",
		"enable":           "0\n",
		"resource":         resourceFile("0x00000000fe000000 0x00000000fe001fff 0x0000000000040200"),
	})

	devs, err := NewSysfs(root).Discover()
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(devs) != 1 {
		t.Fatalf("got %d devices, want 1", len(devs))
	}
	d := devs[0]

	// Detach and attach again on the same handle.
	for i := 0; i < 2; i++ {
		if err := d.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		bar0, err := d.BAR(0)
		if err != nil {
			t.Fatalf("BAR(0) after release %d failed: %v", i, err)
		}
		if bar0.Base != 0xfe000000 {
			t.Fatalf("BAR0 base = 0x%x after release %d", bar0.Base, i)
		}
	}
}

func TestSysfsMissingRoot(t *testing.T) {
	devs, err := NewSysfs(filepath.Join(t.TempDir(), "nope")).Discover()
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(devs) != 0 {
		t.Fatalf("got %d devices, want 0", len(devs))
	}
}

func TestChameleonIDs(t *testing.T) {
	tests := []struct {
		name string
		id   DeviceID
		want bool
	}{
		{"EM04", DeviceID{VendorAltera, 0x5104, 0x1234, 0x5678}, true},
		{"EM04A with MEN subsystem", DeviceID{VendorAltera, 0x454d, 0x1172, 0x0441}, true},
		{"EM04A other subsystem", DeviceID{VendorAltera, 0x454d, 0x1172, 0x0001}, false},
		{"MEN any", DeviceID{VendorMEN, 0x0042, 0, 0}, true},
		{"other vendor", DeviceID{0x8086, 0x4d45, 0, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsChameleon(tt.id); got != tt.want {
				t.Fatalf("IsChameleon(%v) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("0001:0a:1f.7")
	if err != nil {
		t.Fatalf("ParseAddress failed: %v", err)
	}
	want := BusAddress{Domain: 1, Bus: 0x0a, Slot: 0x1f, Fn: 7}
	if a != want {
		t.Fatalf("got %+v, want %+v", a, want)
	}
	if a.String() != "0001:0a:1f.7" {
		t.Fatalf("String() = %s", a)
	}
	if _, err := ParseAddress("devices"); err == nil {
		t.Fatalf("expected error for non-address name")
	}
}
