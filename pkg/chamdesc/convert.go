package chamdesc

import (
	"fmt"
	"strconv"

	"github.com/OpenTraceLab/OpenTraceCham/pkg/bus"
	"github.com/OpenTraceLab/OpenTraceCham/pkg/table"
)

// Table converts the description to an in-memory table. A description
// without the closing "end" yields an unterminated table.
func (f *File) Table() (table.Table, error) {
	if f == nil || f.Header == nil {
		return table.Table{}, fmt.Errorf("chamdesc: missing table header")
	}
	t := table.Table{
		Info:         table.Info{Magic: table.MagicCDEF, File: f.Header.Name},
		Unterminated: !f.End,
	}
	if len(f.Header.Name) > table.FileNameLen {
		return table.Table{}, fmt.Errorf("chamdesc: %s: file name %q longer than %d characters",
			f.Header.Pos, f.Header.Name, table.FileNameLen)
	}

	for _, a := range f.Header.Attrs {
		switch a.Key {
		case "model":
			v, err := a.uint(0xff)
			if err != nil {
				return table.Table{}, err
			}
			t.Info.Model = byte(v)
		case "revision":
			v, err := a.uint(0xffff)
			if err != nil {
				return table.Table{}, err
			}
			t.Info.Revision = int(v)
		case "magic":
			v, err := a.uint(0xffff)
			if err != nil {
				return table.Table{}, err
			}
			if !table.ValidMagic(uint16(v)) {
				return table.Table{}, fmt.Errorf("chamdesc: %s: unknown magic 0x%04X", a.Pos, v)
			}
			t.Info.Magic = uint16(v)
		default:
			return table.Table{}, fmt.Errorf("chamdesc: %s: %q is not a table attribute", a.Pos, a.Key)
		}
	}

	if len(f.Units) > table.MaxUnits {
		return table.Table{}, fmt.Errorf("chamdesc: %d units exceed table capacity %d", len(f.Units), table.MaxUnits)
	}
	for _, u := range f.Units {
		info, err := u.info()
		if err != nil {
			return table.Table{}, err
		}
		t.Units = append(t.Units, info)
	}
	return t, nil
}

func (u *Unit) info() (table.UnitInfo, error) {
	info := table.UnitInfo{Name: u.Name}
	for _, a := range u.Attrs {
		var (
			v   uint64
			err error
		)
		switch a.Key {
		case "devid", "modcode":
			v, err = a.uint(0xffff)
		case "group", "revision", "variant", "instance":
			v, err = a.uint(0xff)
		case "irq":
			v, err = a.uint(0xffff)
		case "bar":
			v, err = a.uint(bus.NumBARs - 1)
		case "offset", "size":
			v, err = a.uint(0xffffffff)
		default:
			return info, fmt.Errorf("chamdesc: %s: %q is not a unit attribute", a.Pos, a.Key)
		}
		if err != nil {
			return info, err
		}

		switch a.Key {
		case "devid":
			info.DevID = uint16(v)
		case "modcode":
			info.ModCode = uint16(v)
		case "group":
			info.Group = uint8(v)
		case "revision":
			info.Revision = uint8(v)
		case "variant":
			info.Variant = uint8(v)
		case "instance":
			info.Instance = uint8(v)
		case "irq":
			info.Interrupt = int(v)
		case "bar":
			info.BAR = int(v)
		case "offset":
			info.Offset = uint32(v)
		case "size":
			info.Size = uint32(v)
		}
	}
	return info, nil
}

// uint decodes a Hex, Int or Char value and checks it against max.
func (a *Attr) uint(max uint64) (uint64, error) {
	var v uint64
	if len(a.Value) == 3 && a.Value[0] == '\'' {
		v = uint64(a.Value[1])
	} else {
		var err error
		v, err = strconv.ParseUint(a.Value, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("chamdesc: %s: %s: %w", a.Pos, a.Key, err)
		}
	}
	if v > max {
		return 0, fmt.Errorf("chamdesc: %s: %s value %s out of range (max %d)", a.Pos, a.Key, a.Value, max)
	}
	return v, nil
}
