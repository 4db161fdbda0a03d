package idasym

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	const input = `[
		{"symbols": [
			{"name": "core::fmt::write", "pa": 1040, "rva": 4112, "score": 40},
			{"name": "foo", "rva": 16}
		]},
		{"symbols": []}
	]`
	mods, err := ParseString(input)
	require.NoError(t, err)
	require.Len(t, mods, 2)
	require.Len(t, mods[0].Symbols, 2)

	sym := mods[0].Symbols[0]
	assert.Equal(t, "core::fmt::write", sym.Name)
	assert.Equal(t, int64(4112), sym.RVA)
	if assert.NotNil(t, sym.PA) {
		assert.Equal(t, int64(1040), *sym.PA)
	}
	if assert.NotNil(t, sym.Score) {
		assert.Equal(t, int64(40), *sym.Score)
	}
	assert.Equal(t, &Symbol{Name: "foo", RVA: 16}, mods[0].Symbols[1])
	assert.Empty(t, mods[1].Symbols)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "malformed", input: `[{"symbols": [`},
		{name: "not a list", input: `{"symbols": []}`},
		{name: "missing symbols", input: `[{}]`},
		{name: "missing name", input: `[{"symbols": [{"rva": 16}]}]`},
		{name: "missing rva", input: `[{"symbols": [{"name": "foo"}]}]`},
		{name: "extractor document", input: `[{"symbols": [{"name": "foo", "start": 16, "end": 32}]}]`},
		{name: "null module", input: `[null]`},
		{name: "null symbol", input: `[{"symbols": [null]}]`},
		{name: "trailing data", input: `[{"symbols": [{"name": "foo", "rva": 16}]}] garbage`},
		{name: "null document", input: `null`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(test.input))
			assert.Error(t, err)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recovered.json")
	require.NoError(t, ioutil.WriteFile(path, []byte(`[{"symbols": [{"name": "foo", "rva": 16}]}]`), 0644))
	mods, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, []*Symbol{{Name: "foo", RVA: 16}}, mods[0].Symbols)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestIDCLine(t *testing.T) {
	tests := []struct {
		sym  *Symbol
		want string
	}{
		{
			sym:  &Symbol{Name: "foo", RVA: 16},
			want: `set_name(16 + get_imagebase(), "foo", 1);`,
		},
		{
			sym:  &Symbol{Name: "<alloc::vec::Vec<T> as core::ops::drop::Drop>::drop", RVA: 0x1000},
			want: `set_name(4096 + get_imagebase(), "<alloc::vec::Vec<T> as core::ops::drop::Drop>::drop", 1);`,
		},
		{
			sym:  &Symbol{Name: "", RVA: 0},
			want: `set_name(0 + get_imagebase(), "", 1);`,
		},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, IDCLine(test.sym))
	}
}

func TestWriteIDC(t *testing.T) {
	mods, err := ParseString(`[
		{"symbols": [{"name": "a", "rva": 1}, {"name": "b", "rva": 2}]},
		{"symbols": []},
		{"symbols": [{"name": "a", "rva": 1}]}
	]`)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	n, err := WriteIDC(buf, mods)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	want := "set_name(1 + get_imagebase(), \"a\", 1);\n" +
		"set_name(2 + get_imagebase(), \"b\", 1);\n" +
		"set_name(1 + get_imagebase(), \"a\", 1);\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteIDCEmpty(t *testing.T) {
	mods, err := ParseString(`[{"symbols": []}]`)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	n, err := WriteIDC(buf, mods)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, buf.String())
}
