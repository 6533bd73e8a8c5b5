package table

import (
	"fmt"
	"sync"
)

// Table is an in-memory chameleon table.
type Table struct {
	Info  Info
	Units []UnitInfo

	// Unterminated drops the end marker; indices past Units return filler
	// entries instead of ErrEndOfTable.
	Unterminated bool
}

// OpenHook lets tests fail or inspect Open calls.
type OpenHook func(m Mapping) error

// SimReader is a Reader backed by a Table. It records how it was opened so
// tests can check the mapping selection.
type SimReader struct {
	Table Table

	OnOpen OpenHook

	mu       sync.Mutex
	mappings []Mapping
	opens    int
	closes   int
}

// NewSimReader returns a reader serving t.
func NewSimReader(t Table) *SimReader {
	return &SimReader{Table: t}
}

// Mappings returns the mapping passed to every Open call so far.
func (s *SimReader) Mappings() []Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mapping(nil), s.mappings...)
}

// OpenCounts reports how many handles were opened and closed.
func (s *SimReader) OpenCounts() (opens, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes
}

func (s *SimReader) Open(m Mapping) (Handle, error) {
	s.mu.Lock()
	s.mappings = append(s.mappings, m)
	s.mu.Unlock()

	if s.OnOpen != nil {
		if err := s.OnOpen(m); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.opens++
	s.mu.Unlock()
	return &simHandle{r: s}, nil
}

type simHandle struct {
	r      *SimReader
	closed bool
}

func (h *simHandle) IdentifyTable() (Info, error) {
	if h.closed {
		return Info{}, fmt.Errorf("table: handle closed")
	}
	return h.r.Table.Info, nil
}

func (h *simHandle) IdentifyUnit(idx int) (UnitInfo, error) {
	if h.closed {
		return UnitInfo{}, fmt.Errorf("table: handle closed")
	}
	if idx < 0 {
		return UnitInfo{}, fmt.Errorf("table: invalid index %d", idx)
	}
	units := h.r.Table.Units
	if idx < len(units) {
		return units[idx], nil
	}
	if !h.r.Table.Unterminated {
		return UnitInfo{}, ErrEndOfTable
	}
	// Without an end marker the reader keeps decoding whatever follows.
	return UnitInfo{Name: "garbage", DevID: 0x3ff, ModCode: 0x3f, BAR: 0}, nil
}

func (h *simHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.r.mu.Lock()
	h.r.closes++
	h.r.mu.Unlock()
	return nil
}
