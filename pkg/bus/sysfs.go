package bus

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultSysfsRoot is where Linux lists PCI functions.
const DefaultSysfsRoot = "/sys/bus/pci/devices"

// ioresourceIO is IORESOURCE_IO from the resource file flags column.
const ioresourceIO = 0x100

// Sysfs enumerates chameleon controllers through the Linux sysfs PCI tree.
type Sysfs struct {
	Root string
}

// NewSysfs returns an enumerator rooted at root (DefaultSysfsRoot when empty).
func NewSysfs(root string) *Sysfs {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &Sysfs{Root: root}
}

// Discover returns every function whose ids match ChameleonIDs, ordered by
// bus address.
func (s *Sysfs) Discover() ([]*SysfsDevice, error) {
	entries, err := os.ReadDir(s.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bus: read %s: %w", s.Root, err)
	}

	var out []*SysfsDevice
	for _, e := range entries {
		addr, err := ParseAddress(e.Name())
		if err != nil {
			continue
		}
		d := &SysfsDevice{dir: filepath.Join(s.Root, e.Name()), addr: addr}
		if err := d.readIDs(); err != nil {
			return nil, err
		}
		if !IsChameleon(d.id) {
			continue
		}
		if err := d.readResources(); err != nil {
			return nil, err
		}
		if d.irq, err = d.readInt("irq"); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].addr.String() < out[j].addr.String()
	})
	return out, nil
}

// SysfsDevice is a function found under the sysfs PCI tree.
type SysfsDevice struct {
	dir  string
	addr BusAddress
	id   DeviceID
	irq  int
	bars []BAR
}

func (d *SysfsDevice) Address() BusAddress { return d.addr }
func (d *SysfsDevice) ID() DeviceID        { return d.id }
func (d *SysfsDevice) IRQ() int            { return d.irq }

func (d *SysfsDevice) BAR(index int) (BAR, error) {
	if index < 0 || index >= len(d.bars) || index >= NumBARs {
		return BAR{}, fmt.Errorf("%w: %d on %s", ErrNoBAR, index, d.addr)
	}
	return d.bars[index], nil
}

// Enable writes the sysfs enable attribute.
func (d *SysfsDevice) Enable() error {
	if err := os.WriteFile(filepath.Join(d.dir, "enable"), []byte("1"), 0); err != nil {
		return fmt.Errorf("bus: enable %s: %w", d.addr, err)
	}
	return nil
}

// Release is a no-op. Nothing is mapped through sysfs, and the resource
// list stays valid for a later attach.
func (d *SysfsDevice) Release() error { return nil }

func (d *SysfsDevice) String() string {
	return fmt.Sprintf("%s %s", d.addr, d.id)
}

func (d *SysfsDevice) readIDs() (err error) {
	var v [4]uint64
	for i, name := range []string{"vendor", "device", "subsystem_vendor", "subsystem_device"} {
		if v[i], err = d.readHex(name); err != nil {
			return err
		}
	}
	d.id = DeviceID{Vendor: uint16(v[0]), Device: uint16(v[1]), SubVendor: uint16(v[2]), SubDevice: uint16(v[3])}
	return nil
}

func (d *SysfsDevice) readHex(name string) (uint64, error) {
	b, err := os.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		return 0, fmt.Errorf("bus: read %s/%s: %w", d.addr, name, err)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(string(b)), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bus: parse %s/%s: %w", d.addr, name, err)
	}
	return v, nil
}

func (d *SysfsDevice) readInt(name string) (int, error) {
	b, err := os.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		return 0, fmt.Errorf("bus: read %s/%s: %w", d.addr, name, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("bus: parse %s/%s: %w", d.addr, name, err)
	}
	return v, nil
}

// readResources parses the "start end flags" lines of the resource file.
func (d *SysfsDevice) readResources() error {
	f, err := os.Open(filepath.Join(d.dir, "resource"))
	if err != nil {
		return fmt.Errorf("bus: read %s/resource: %w", d.addr, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for i := 0; sc.Scan() && i < NumBARs; i++ {
		var start, end, flags uint64
		if n, err := fmt.Sscanf(sc.Text(), "0x%x 0x%x 0x%x", &start, &end, &flags); n != 3 || err != nil {
			return fmt.Errorf("bus: %s/resource line %d: short read", d.addr, i)
		}
		bar := BAR{Index: i, IO: flags&ioresourceIO != 0, Base: start}
		if start != 0 || end != 0 {
			bar.Size = end - start + 1
		}
		d.bars = append(d.bars, bar)
	}
	return sc.Err()
}
