package table

import (
	"errors"
	"fmt"
	"strings"
)

// Mapping selects how a controller's configuration table is accessed.
type Mapping uint8

const (
	MappingMem Mapping = iota
	MappingIO
)

func (m Mapping) String() string {
	switch m {
	case MappingIO:
		return "io"
	default:
		return "mem"
	}
}

const (
	// MagicABCD identifies a legacy (V0) chameleon table.
	MagicABCD uint16 = 0xABCD
	// MagicCDEF identifies an extended (V2) chameleon table.
	MagicCDEF uint16 = 0xCDEF

	// MaxUnits is the number of table entries walked before a missing end
	// marker is treated as a broken table.
	MaxUnits = 256

	// FileNameLen is the width of the FPGA file name stored in the table header.
	FileNameLen = 12
)

// ValidMagic reports whether m is one of the known table sync words.
func ValidMagic(m uint16) bool {
	return m == MagicABCD || m == MagicCDEF
}

// ErrEndOfTable is returned by Handle.IdentifyUnit once the end marker is reached.
var ErrEndOfTable = errors.New("table: no more entries")

// Info describes the table header.
type Info struct {
	Model    byte
	Revision int
	Magic    uint16
	File     string
}

// PaddedFile returns the file name blank-padded to FileNameLen characters.
func (i Info) PaddedFile() string {
	f := i.File
	if len(f) > FileNameLen {
		f = f[:FileNameLen]
	}
	return f + strings.Repeat(" ", FileNameLen-len(f))
}

func (i Info) String() string {
	return fmt.Sprintf("file=%q model=0x%02x(%q) revision=%d magic=0x%04X",
		i.PaddedFile(), i.Model, rune(i.Model), i.Revision, i.Magic)
}

// UnitInfo is one decoded table entry. The reader supplies both the legacy
// module code and the extended device id of the core.
type UnitInfo struct {
	Name      string
	DevID     uint16
	ModCode   uint16
	Group     uint8
	Revision  uint8
	Variant   uint8
	Instance  uint8
	Interrupt int
	BAR       int
	Offset    uint32
	Size      uint32
}

// Reader is the decoder for a controller's on-device table.
type Reader interface {
	// Open selects the memory- or I/O-mapped decode strategy.
	Open(m Mapping) (Handle, error)
}

// Handle is an opened table.
type Handle interface {
	IdentifyTable() (Info, error)
	IdentifyUnit(idx int) (UnitInfo, error)
	Close() error
}
