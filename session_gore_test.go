package idasym

import (
	"debug/gosym"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoSession(t *testing.T) {
	funcs := []gosym.Func{
		{Entry: 0x401100, End: 0x401180, Sym: &gosym.Sym{Name: "main.(*T).String"}},
		{Entry: 0x401000, End: 0x401100, Sym: &gosym.Sym{Name: "main.main"}},
	}
	s := newGoSession(funcs, 0x400000)

	addrs, err := s.Funcs()
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x401000, 0x401100}, addrs)

	fns, err := Extract(s)
	require.NoError(t, err)
	want := []*Function{
		{Name: "main.main", Start: 0x1000, End: 0x1100},
		{Name: "main.(*T).String", Start: 0x1100, End: 0x1180},
	}
	assert.Equal(t, want, fns.Symbols)

	_, err = s.FuncName(0x401001)
	assert.Equal(t, ErrNoFunc, errors.Cause(err))
	_, err = s.FuncEnd(0x401001)
	assert.Equal(t, ErrNoFunc, errors.Cause(err))
}

// TestOpenGoSession reads the function table of the running test binary.
func TestOpenGoSession(t *testing.T) {
	exePath, err := os.Executable()
	require.NoError(t, err)
	s, err := OpenGoSession(exePath)
	require.NoError(t, err)

	base, err := s.ImageBase()
	require.NoError(t, err)
	fns, err := Extract(s)
	require.NoError(t, err)
	require.NotEmpty(t, fns.Symbols)

	found := false
	for _, f := range fns.Symbols {
		assert.True(t, f.Start >= 0, "function %q starts before image base 0x%X", f.Name, base)
		assert.LessOrEqual(t, f.Start, f.End, "function %q", f.Name)
		if f.Name == "github.com/mewrev/idasym.TestOpenGoSession" {
			found = true
		}
	}
	assert.True(t, found, "test function not found in function table")
}

func TestOpenGoSessionNotGo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notgo")
	require.NoError(t, ioutil.WriteFile(path, make([]byte, 64), 0644))
	_, err := OpenGoSession(path)
	assert.Error(t, err)
}
