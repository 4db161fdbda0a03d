package idasym

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Module is the set of symbols recovered for one module.
type Module struct {
	// Symbols in recovery order.
	Symbols []*Symbol `json:"symbols"`
}

// Symbol is a recovered symbol name for an address relative to the image base.
type Symbol struct {
	// Symbol name.
	Name string `json:"name"`
	// Relative virtual address.
	RVA int64 `json:"rva"`
	// (optional) File offset of the symbol.
	PA *int64 `json:"pa,omitempty"`
	// (optional) Similarity score of the match which recovered the name.
	Score *int64 `json:"score,omitempty"`
}

// UnmarshalJSON decodes a module, requiring the "symbols" key.
func (mod *Module) UnmarshalJSON(data []byte) error {
	var raw struct {
		Symbols *[]*Symbol `json:"symbols"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithStack(err)
	}
	if raw.Symbols == nil {
		return errors.New(`module is missing "symbols"`)
	}
	mod.Symbols = *raw.Symbols
	return nil
}

// UnmarshalJSON decodes a symbol, requiring the "name" and "rva" keys.
func (sym *Symbol) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  *string `json:"name"`
		RVA   *int64  `json:"rva"`
		PA    *int64  `json:"pa"`
		Score *int64  `json:"score"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithStack(err)
	}
	switch {
	case raw.Name == nil:
		return errors.Errorf(`symbol %s is missing "name"`, data)
	case raw.RVA == nil:
		return errors.Errorf(`symbol %q is missing "rva"`, *raw.Name)
	}
	*sym = Symbol{Name: *raw.Name, RVA: *raw.RVA, PA: raw.PA, Score: raw.Score}
	return nil
}

// ParseString parses the given list of modules, reading from s.
func ParseString(s string) ([]*Module, error) {
	return Parse(strings.NewReader(s))
}

// ParseBytes parses the given list of modules, reading from buf.
func ParseBytes(buf []byte) ([]*Module, error) {
	return Parse(bytes.NewReader(buf))
}

// ParseFile parses the given list of modules, reading from path.
func ParseFile(path string) ([]*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	mods, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse %q", path)
	}
	return mods, nil
}

// Parse parses the given list of modules, reading from r.
//
//    [{"symbols": [{"name": "foo", "pa": 1040, "rva": 4112, "score": 40}]}]
func Parse(r io.Reader) ([]*Module, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var mods []*Module
	if err := json.Unmarshal(buf, &mods); err != nil {
		return nil, errors.WithStack(err)
	}
	if mods == nil {
		return nil, errors.New("expected list of modules, got null")
	}
	for i, mod := range mods {
		if mod == nil {
			return nil, errors.Errorf("module %d is null", i)
		}
		for j, sym := range mod.Symbols {
			if sym == nil {
				return nil, errors.Errorf("module %d: symbol %d is null", i, j)
			}
		}
	}
	return mods, nil
}

// IDCLine returns the IDC command which names the address of sym at load time.
// The name is inserted verbatim.
//
//    set_name(16 + get_imagebase(), "foo", 1);
func IDCLine(sym *Symbol) string {
	return fmt.Sprintf("set_name(%d + get_imagebase(), \"%s\", 1);", sym.RVA, sym.Name)
}

// WriteIDC writes one IDC command per symbol to w, in module order and symbol
// order, and returns the number of lines written.
func WriteIDC(w io.Writer, mods []*Module) (n int, err error) {
	bw := bufio.NewWriter(w)
	for _, mod := range mods {
		for _, sym := range mod.Symbols {
			bw.WriteString(IDCLine(sym))
			bw.WriteByte('\n')
			n++
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, errors.WithStack(err)
	}
	return n, nil
}
