package idasym

import (
	"sort"

	"github.com/mewrev/idasym/internal/mapfile"
	"github.com/pkg/errors"
)

// MapSession is a session backed by the symbol map file produced by the linker
// of the module.
type MapSession struct {
	m *mapfile.Map
	// funcs in file order.
	funcs []*mapfile.Symbol
	// ends maps from function address to end address.
	ends map[uint64]uint64
	// names maps from function address to the first name defined for it.
	names map[uint64]string
}

// OpenMapSession parses the given MAP file and returns a session for it.
func OpenMapSession(mapPath string) (*MapSession, error) {
	m, err := mapfile.ParseFile(mapPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewMapSession(m), nil
}

// NewMapSession returns a session for the function symbols of m.
//
// The end of a function is the start of the next function in the same segment,
// or the end of its section for the last function of a segment.
func NewMapSession(m *mapfile.Map) *MapSession {
	s := &MapSession{
		m:     m,
		funcs: m.Funcs(),
		ends:  make(map[uint64]uint64),
		names: make(map[uint64]string),
	}
	sorted := make([]*mapfile.Symbol, len(s.funcs))
	copy(sorted, s.funcs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Addr < sorted[j].Addr
	})
	for i, sym := range sorted {
		if _, ok := s.names[sym.Addr]; !ok {
			s.names[sym.Addr] = sym.Name
		}
		s.ends[sym.Addr] = s.endOf(sym, sorted[i+1:])
	}
	return s
}

// endOf returns the end address of sym, given the functions that follow it in
// address order.
func (s *MapSession) endOf(sym *mapfile.Symbol, next []*mapfile.Symbol) uint64 {
	for _, n := range next {
		if n.Start.SegNum != sym.Start.SegNum {
			break
		}
		if n.Addr > sym.Addr {
			return n.Addr
		}
	}
	sect := s.m.SectionOf(sym.Start)
	if sect == nil {
		return sym.Addr
	}
	// Virtual address of the segment containing sym.
	segAddr := sym.Addr - sym.Start.Offset
	return segAddr + sect.Start.Offset + sect.Size
}

// Funcs returns the addresses of the function symbols, in file order.
func (s *MapSession) Funcs() ([]uint64, error) {
	addrs := make([]uint64, 0, len(s.funcs))
	for _, sym := range s.funcs {
		addrs = append(addrs, sym.Addr)
	}
	return addrs, nil
}

// FuncName returns the name of the function starting at addr.
func (s *MapSession) FuncName(addr uint64) (string, error) {
	name, ok := s.names[addr]
	if !ok {
		return "", errors.Wrapf(ErrNoFunc, "0x%X", addr)
	}
	return name, nil
}

// FuncEnd returns the end address of the function starting at addr.
func (s *MapSession) FuncEnd(addr uint64) (uint64, error) {
	end, ok := s.ends[addr]
	if !ok {
		return 0, errors.Wrapf(ErrNoFunc, "0x%X", addr)
	}
	return end, nil
}

// ImageBase returns the preferred load address of the module.
func (s *MapSession) ImageBase() (uint64, error) {
	return s.m.BaseAddr, nil
}
