// Package idasym moves function names between disassembler databases and
// symbol files.
//
// Extract reads the function table of a host session and produces a document
// of image relative function ranges. WriteIDC turns recovered symbol records
// into IDC commands which apply the names at load time.
package idasym

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
)

var (
	// dbg is a logger with the "idasym:" prefix which logs debug messages to
	// standard error.
	dbg = log.New(os.Stderr, term.CyanBold("idasym:")+" ", 0)
	// warn is a logger with the "idasym:" prefix which logs warning messages to
	// standard error.
	warn = log.New(os.Stderr, term.RedBold("idasym:")+" ", 0)
)

// json leaves <, > and & unescaped in strings, as Python's json module does.
var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// DefaultOutputName is the name of the file written by the extractor, relative
// to the working directory.
const DefaultOutputName = "idaoutput.txt"

// ErrNoFunc is returned by sessions when an address is not the start of a
// defined function.
var ErrNoFunc = errors.New("no function at address")

// Session is the function table of a disassembler session.
type Session interface {
	// Funcs returns the start addresses of all defined functions, in host
	// order.
	Funcs() ([]uint64, error)
	// FuncName returns the name assigned to the function starting at addr.
	FuncName(addr uint64) (string, error)
	// FuncEnd returns the end address of the function starting at addr.
	FuncEnd(addr uint64) (uint64, error)
	// ImageBase returns the load base address of the module.
	ImageBase() (uint64, error)
}

// Function is a named function range, relative to the image base.
type Function struct {
	// Function name.
	Name string `json:"name"`
	// Start offset.
	Start int64 `json:"start"`
	// End offset.
	End int64 `json:"end"`
}

// Functions is the document produced by the extractor.
type Functions struct {
	Symbols []*Function `json:"symbols"`
}

// Extract enumerates the function table of the given session. Functions are
// kept in host order; duplicates and overlapping ranges are passed through.
func Extract(s Session) (*Functions, error) {
	base, err := s.ImageBase()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	addrs, err := s.Funcs()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	fs := &Functions{Symbols: make([]*Function, 0, len(addrs))}
	for _, addr := range addrs {
		name, err := s.FuncName(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to get name of function at 0x%X", addr)
		}
		end, err := s.FuncEnd(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to get end of function %q at 0x%X", name, addr)
		}
		if end < addr {
			warn.Printf("function %q ends (0x%X) before it starts (0x%X)", name, end, addr)
		}
		f := &Function{
			Name:  name,
			Start: int64(addr - base),
			End:   int64(end - base),
		}
		fs.Symbols = append(fs.Symbols, f)
	}
	dbg.Printf("extracted %d functions (image base 0x%X)", len(fs.Symbols), base)
	return fs, nil
}

// WriteIndent writes the document to w as JSON indented by four spaces,
// followed by a new line.
func (fs *Functions) WriteIndent(w io.Writer) error {
	v := fs
	if fs.Symbols == nil {
		v = &Functions{Symbols: []*Function{}}
	}
	buf, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.WithStack(err)
	}
	buf = append(buf, '\n')
	if _, err := w.Write(buf); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// WriteCompact writes the document to w on a single line, using ", " and ": "
// as separators.
//
//    {"symbols": [{"name": "foo", "start": 16, "end": 32}]}
func (fs *Functions) WriteCompact(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(`{"symbols": [`)
	for i, f := range fs.Symbols {
		if i > 0 {
			bw.WriteString(", ")
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return errors.WithStack(err)
		}
		fmt.Fprintf(bw, `{"name": %s, "start": %d, "end": %d}`, name, f.Start, f.End)
	}
	bw.WriteString("]}")
	return errors.WithStack(bw.Flush())
}

// WriteFile writes the compact document to the given file, creating or
// truncating it.
func (fs *Functions) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := fs.WriteCompact(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "unable to write %q", path)
	}
	return errors.WithStack(f.Close())
}
