// Package mapfile parses the parts of linker symbol map files (MAP file
// format) needed to recover function tables: the preferred load address, the
// section list and the public and static symbols.
package mapfile

import (
	"bufio"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
)

var (
	// warn is a logger with the "mapfile:" prefix which logs warning messages to
	// standard error.
	warn = log.New(os.Stderr, term.RedBold("mapfile:")+" ", 0)
)

// Note: only the MAP file format produced by the Visual Studio linker is
// supported.

// Map is a symbol map file.
type Map struct {
	// Name of linker output.
	Name string
	// Base address (preferred load address).
	BaseAddr uint64
	// Sections.
	Sects []*Section
	// Symbols, public symbols first followed by static symbols.
	Syms []*Symbol
}

// Section tracks section linkage information.
type Section struct {
	// Section name.
	Name string
	// Segment relative offset to start of section.
	Start SegmentOffset
	// Size of section in bytes.
	Size uint64
	// Section class (e.g. CODE or DATA).
	Class string
}

// Contains reports whether the given segment offset is located within the
// section.
func (sect *Section) Contains(off SegmentOffset) bool {
	if sect.Start.SegNum != off.SegNum {
		return false
	}
	return sect.Start.Offset <= off.Offset && off.Offset < sect.Start.Offset+sect.Size
}

// Symbol is a symbol with linker information.
type Symbol struct {
	// Symbol name as it appears in the map file (possibly mangled).
	Name string
	// Virtual address of symbol (relative virtual address + base address).
	Addr uint64
	// Segment relative offset to start of symbol.
	Start SegmentOffset
	// File name of object containing symbol ([libname:]filename).
	ObjectName string
	// Symbol is a function.
	IsFunc bool
	// Symbol is static.
	IsStatic bool
}

// SegmentOffset specifies a segment relative offset.
type SegmentOffset struct {
	// Segment number.
	SegNum int
	// Offset in bytes from start of segment.
	Offset uint64
}

// SectionOf returns the section containing the given segment offset, or nil if
// no section covers it.
func (m *Map) SectionOf(off SegmentOffset) *Section {
	for _, sect := range m.Sects {
		if sect.Contains(off) {
			return sect
		}
	}
	return nil
}

// Funcs returns the function symbols of the map file, in file order.
func (m *Map) Funcs() []*Symbol {
	var funcs []*Symbol
	for _, sym := range m.Syms {
		if sym.IsFunc {
			funcs = append(funcs, sym)
		}
	}
	return funcs
}

// ParseString parses the given symbol map file, reading from s.
func ParseString(s string) (*Map, error) {
	return Parse(strings.NewReader(s))
}

// ParseFile parses the given symbol map file, reading from mapPath.
func ParseFile(mapPath string) (*Map, error) {
	f, err := os.Open(mapPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	m, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse map file %q", mapPath)
	}
	return m, nil
}

// block identifies the list currently being parsed.
type block uint8

const (
	blockNone block = iota
	blockSections
	blockPublics
	blockStatics
)

// Parse parses the given symbol map file, reading from r.
func Parse(r io.Reader) (*Map, error) {
	// Example contents of foo.MAP file:
	//
	//    FOO
	//
	//    Timestamp is 5e97f112 (Wed Apr 15 22:45:54 2020)
	//
	//    Preferred load address is 00400000
	//
	//    Start         Length     Name                   Class
	//    0001:00000000 001012c6H .text                   CODE
	//    0002:00000000 00007c18H .rdata                  DATA
	//
	//     Address         Publics by Value              Rva+Base   Lib:Object
	//
	//    0001:00000000       ?bar@@YIXH@Z               00401000 f baz.obj
	//    0002:00000058       ?qux@@3PBDB                00503058   baz.obj
	//
	//    entry point at        0001:000f0290
	//
	//    Static symbols
	//
	//    0001:000dc1c2       ?quux@@YIXXZ        004dd1c2 f quuz.obj
	m := &Map{}
	s := bufio.NewScanner(r)
	cur := blockNone
	// Symbol lists are separated from their header by one empty line.
	skipBlank := false
	for lineNum := 1; s.Scan(); lineNum++ {
		line := strings.TrimSpace(s.Text())
		if lineNum == 1 {
			m.Name = line
			continue
		}
		if len(line) == 0 {
			if skipBlank {
				skipBlank = false
				continue
			}
			cur = blockNone
			continue
		}
		skipBlank = false
		switch cur {
		case blockSections:
			sect, err := parseSection(line)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNum)
			}
			m.Sects = append(m.Sects, sect)
			continue
		case blockPublics, blockStatics:
			sym, err := parseSymbol(line)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNum)
			}
			sym.IsStatic = cur == blockStatics
			m.Syms = append(m.Syms, sym)
			continue
		}
		switch {
		case strings.HasPrefix(line, "Preferred load address is "):
			// Preferred load address is 00400000
			raw := strings.TrimPrefix(line, "Preferred load address is ")
			baseAddr, err := strconv.ParseUint(raw, 16, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: invalid load address", lineNum)
			}
			m.BaseAddr = baseAddr
		case hasFields(line, "Start", "Length", "Name", "Class"):
			cur = blockSections
		case hasFields(line, "Address", "Publics", "by", "Value", "Rva+Base", "Lib:Object"):
			cur = blockPublics
			skipBlank = true
		case strings.HasPrefix(line, "Static symbols"):
			cur = blockStatics
			skipBlank = true
		case strings.HasPrefix(line, "Timestamp is "),
			strings.HasPrefix(line, "entry point at"),
			strings.HasPrefix(line, "FIXUPS:"):
			// ignore.
		default:
			warn.Printf("line %d: support for line prefix %q not yet implemented", lineNum, line)
		}
	}
	if err := s.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return m, nil
}

// hasFields reports whether the given line consists of exactly the specified
// whitespace separated fields.
func hasFields(line string, fields ...string) bool {
	got := strings.Fields(line)
	if len(got) != len(fields) {
		return false
	}
	for i, want := range fields {
		if got[i] != want {
			return false
		}
	}
	return true
}

// parseSection parses the string representation of the given section.
//
//    0001:00000000 001012c6H .text                   CODE
func parseSection(s string) (*Section, error) {
	fields := strings.Fields(s)
	if len(fields) != 4 {
		return nil, errors.Errorf("invalid section %q; expected 4 fields, got %d", s, len(fields))
	}
	start, err := parseSegmentOffset(fields[0])
	if err != nil {
		return nil, errors.WithStack(err)
	}
	size, err := strconv.ParseUint(strings.TrimSuffix(fields[1], "H"), 16, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid section size %q", fields[1])
	}
	sect := &Section{
		Name:  fields[2],
		Start: start,
		Size:  size,
		Class: fields[3],
	}
	return sect, nil
}

// parseSymbol parses the string representation of the given symbol.
//
//    0001:00000000       ?bar@@YIXH@Z               00401000 f baz.obj
//    0002:00000058       ?qux@@3PBDB                00503058   baz.obj
func parseSymbol(s string) (*Symbol, error) {
	fields := strings.Fields(s)
	if len(fields) < 4 || len(fields) > 6 {
		return nil, errors.Errorf("invalid symbol %q; expected 4 to 6 fields, got %d", s, len(fields))
	}
	start, err := parseSegmentOffset(fields[0])
	if err != nil {
		return nil, errors.WithStack(err)
	}
	addr, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid symbol address %q", fields[2])
	}
	sym := &Symbol{
		Name:       fields[1],
		Addr:       addr,
		Start:      start,
		ObjectName: fields[len(fields)-1],
	}
	// Symbol flags between the address and the object name; "f" marks a
	// function and "i" an inlinable one.
	for _, flag := range fields[3 : len(fields)-1] {
		switch flag {
		case "f":
			sym.IsFunc = true
		case "i":
		default:
			warn.Printf("support for symbol type %q not yet implemented", flag)
		}
	}
	return sym, nil
}

// parseSegmentOffset parses the string representation of the given segment
// offset.
//
//    0001:00093247
func parseSegmentOffset(s string) (SegmentOffset, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return SegmentOffset{}, errors.Errorf("invalid segment offset %q", s)
	}
	segNum, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return SegmentOffset{}, errors.Wrapf(err, "invalid segment number %q", parts[0])
	}
	offset, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return SegmentOffset{}, errors.Wrapf(err, "invalid segment offset %q", parts[1])
	}
	return SegmentOffset{SegNum: int(segNum), Offset: offset}, nil
}
