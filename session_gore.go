package idasym

import (
	"debug/elf"
	"debug/gosym"
	"debug/macho"
	"debug/pe"
	"sort"

	"github.com/goretk/gore"
	"github.com/pkg/errors"
)

// GoSession is a session backed by the pclntab of a Go executable.
type GoSession struct {
	// funcs in address order.
	funcs []gosym.Func
	// byAddr maps from entry address to index into funcs.
	byAddr map[uint64]int
	base   uint64
}

// OpenGoSession locates the function table of the given Go executable (ELF, PE
// or Mach-O) and returns a session for it.
func OpenGoSession(exePath string) (*GoSession, error) {
	f, err := gore.Open(exePath)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open Go executable %q", exePath)
	}
	defer f.Close()
	tab, err := f.PCLNTab()
	if err != nil {
		return nil, errors.Wrapf(err, "unable to locate pclntab of %q", exePath)
	}
	var base uint64
	switch f.FileInfo.OS {
	case "windows":
		base, err = peImageBase(exePath)
	case "macOS":
		base, err = machoImageBase(exePath)
	default:
		base, err = elfImageBase(exePath)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return newGoSession(tab.Funcs, base), nil
}

// newGoSession returns a session for the given functions.
func newGoSession(funcs []gosym.Func, base uint64) *GoSession {
	s := &GoSession{
		funcs:  make([]gosym.Func, len(funcs)),
		byAddr: make(map[uint64]int, len(funcs)),
		base:   base,
	}
	copy(s.funcs, funcs)
	sort.SliceStable(s.funcs, func(i, j int) bool {
		return s.funcs[i].Entry < s.funcs[j].Entry
	})
	for i, fn := range s.funcs {
		if _, ok := s.byAddr[fn.Entry]; !ok {
			s.byAddr[fn.Entry] = i
		}
	}
	return s
}

// Funcs returns the entry addresses of the functions, in address order.
func (s *GoSession) Funcs() ([]uint64, error) {
	addrs := make([]uint64, 0, len(s.funcs))
	for _, fn := range s.funcs {
		addrs = append(addrs, fn.Entry)
	}
	return addrs, nil
}

// FuncName returns the fully qualified name of the function starting at addr
// (e.g. "main.(*T).String").
func (s *GoSession) FuncName(addr uint64) (string, error) {
	i, ok := s.byAddr[addr]
	if !ok {
		return "", errors.Wrapf(ErrNoFunc, "0x%X", addr)
	}
	return s.funcs[i].Name, nil
}

// FuncEnd returns the end address of the function starting at addr.
func (s *GoSession) FuncEnd(addr uint64) (uint64, error) {
	i, ok := s.byAddr[addr]
	if !ok {
		return 0, errors.Wrapf(ErrNoFunc, "0x%X", addr)
	}
	return s.funcs[i].End, nil
}

// ImageBase returns the load address of the executable.
func (s *GoSession) ImageBase() (uint64, error) {
	return s.base, nil
}

// peImageBase returns the ImageBase of the PE optional header.
func peImageBase(exePath string) (uint64, error) {
	f, err := pe.Open(exePath)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer f.Close()
	switch hdr := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return uint64(hdr.ImageBase), nil
	case *pe.OptionalHeader64:
		return hdr.ImageBase, nil
	}
	return 0, errors.Errorf("unable to locate optional header of %q", exePath)
}

// elfImageBase returns the lowest virtual address of the loadable segments.
func elfImageBase(exePath string) (uint64, error) {
	f, err := elf.Open(exePath)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer f.Close()
	found := false
	var base uint64
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if !found || prog.Vaddr < base {
			base = prog.Vaddr
			found = true
		}
	}
	if !found {
		return 0, errors.Errorf("no loadable segment in %q", exePath)
	}
	return base, nil
}

// machoImageBase returns the address of the __TEXT segment.
func machoImageBase(exePath string) (uint64, error) {
	f, err := macho.Open(exePath)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer f.Close()
	seg := f.Segment("__TEXT")
	if seg == nil {
		return 0, errors.Errorf("no __TEXT segment in %q", exePath)
	}
	return seg.Addr, nil
}
