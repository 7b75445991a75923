package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	require.True(t, FileExists(file))
	require.False(t, FileExists(dir))
	require.False(t, FileExists(filepath.Join(dir, "absent")))
	require.False(t, FileExists(""))
}

func TestReadOneLineFile(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "line")
	require.NoError(t, os.WriteFile(file, []byte("  hello world \nsecond\n"), 0o644))
	line, err := ReadOneLineFile(file)
	require.NoError(t, err)
	require.Equal(t, "hello world", line)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = ReadOneLineFile(empty)
	require.Error(t, err)

	_, err = ReadOneLineFile(filepath.Join(dir, "absent"))
	require.Error(t, err)
}

func TestReadLinesOffsetN(t *testing.T) {
	file := filepath.Join(t.TempDir(), "lines")
	require.NoError(t, os.WriteFile(file, []byte("a\nb\nc\nd\n"), 0o644))

	lines, err := ReadLinesOffsetN(file, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, lines)

	lines, err = ReadLinesOffsetN(file, 0, -1)
	require.NoError(t, err)
	require.Len(t, lines, 4)

	_, err = ReadLinesOffsetN(file, -1, 1)
	require.Error(t, err)

	_, err = ReadLinesOffsetN(file, 10, 1)
	require.Error(t, err)
}

func TestCombineErrors(t *testing.T) {
	require.NoError(t, CombineErrors(nil))
	require.NoError(t, CombineErrors([]error{nil, nil}))

	errA := errors.New("a")
	require.Equal(t, errA, CombineErrors([]error{nil, errA}))

	errB := errors.New("b")
	combined := CombineErrors([]error{errA, nil, errB})
	require.ErrorIs(t, combined, errA)
	require.ErrorIs(t, combined, errB)
}

func TestKGMT(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{32 << 10, "32 KB"},
		{1 << 20, "1 MB"},
		{48 << 20, "48 MB"},
		{2 << 30, "2 GB"},
		{3 << 40, "3 TB"},
		{1000, "1000 B"},
		{(1 << 10) + 1, "1025 B"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, KGMT(tt.in), "KGMT(%d)", tt.in)
	}
}
