package cacheinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeLeafDir(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content+"\n"), 0o644))
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"32K", 32 << 10, false},
		{"48K", 48 << 10, false},
		{"1M", 1 << 20, false},
		{"2G", 2 << 30, false},
		{"512", 512, false},
		{" 64K ", 64 << 10, false},
		{"64k", 64 << 10, false},
		{"", 0, true},
		{"K", 0, true},
		{"12Q", 0, true},
		{"-1K", 0, true},
		{"8G", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseCacheType(t *testing.T) {
	require.Equal(t, TypeData, ParseCacheType("Data"))
	require.Equal(t, TypeInstruction, ParseCacheType("Instruction"))
	require.Equal(t, TypeUnified, ParseCacheType(" Unified\n"))
	require.Equal(t, TypeUnknown, ParseCacheType("Victim"))
	require.Equal(t, TypeUnknown, ParseCacheType(""))
}

func TestCacheTypeString(t *testing.T) {
	require.Equal(t, "Data", TypeData.String())
	require.Equal(t, "Unified", TypeUnified.String())
	require.Equal(t, "Unknown(9)", CacheType(9).String())
}

func TestProbeReadsLeaves(t *testing.T) {
	root := t.TempDir()
	cacheDir := filepath.Join(root, "cpu0", "cache")

	writeLeafDir(t, filepath.Join(cacheDir, "index1"), map[string]string{
		"level": "1", "type": "Instruction", "size": "32K",
		"coherency_line_size": "64", "number_of_sets": "128",
		"ways_of_associativity": "8", "shared_cpu_list": "0",
	})
	writeLeafDir(t, filepath.Join(cacheDir, "index0"), map[string]string{
		"level": "1", "type": "Data", "size": "48K",
		"coherency_line_size": "64", "number_of_sets": "192",
		"ways_of_associativity": "4", "shared_cpu_list": "0",
	})
	writeLeafDir(t, filepath.Join(cacheDir, "index2"), map[string]string{
		"level": "2", "type": "Unified", "size": "1M",
		"coherency_line_size": "64", "number_of_sets": "1024",
		"ways_of_associativity": "16", "shared_cpu_list": "0-3",
	})
	// a leaf without a level file is unusable and skipped
	writeLeafDir(t, filepath.Join(cacheDir, "index3"), map[string]string{
		"type": "Unified",
	})
	// non-index entries are ignored
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "uevent"), []byte("x\n"), 0o644))

	ci := Probe(root, 0)
	require.Equal(t, 0, ci.ID)
	require.Len(t, ci.Leaves, 3)

	require.Equal(t, 1, ci.Leaves[0].Level)
	require.Equal(t, TypeData, ci.Leaves[0].Type)
	require.Equal(t, uint32(48<<10), ci.Leaves[0].Size)
	require.Equal(t, uint32(192), ci.Leaves[0].NumberOfSets)
	require.Equal(t, uint32(4), ci.Leaves[0].WaysOfAssociativity)
	require.Equal(t, uint32(64), ci.Leaves[0].CoherencyLineSize)
	require.Equal(t, "0", ci.Leaves[0].SharedCPUList)

	require.Equal(t, TypeInstruction, ci.Leaves[1].Type)
	require.Equal(t, 1, ci.Leaves[1].Level)

	require.Equal(t, 2, ci.Leaves[2].Level)
	require.Equal(t, TypeUnified, ci.Leaves[2].Type)
	require.Equal(t, uint32(1<<20), ci.Leaves[2].Size)
	require.Equal(t, "0-3", ci.Leaves[2].SharedCPUList)
}

func TestProbeToleratesPartialLeaf(t *testing.T) {
	root := t.TempDir()
	writeLeafDir(t, filepath.Join(root, "cpu2", "cache", "index0"), map[string]string{
		"level": "1", "type": "Data", "size": "not-a-size",
	})

	ci := Probe(root, 2)
	require.Len(t, ci.Leaves, 1)
	require.Equal(t, uint32(0), ci.Leaves[0].Size)
	require.Equal(t, TypeData, ci.Leaves[0].Type)
}

func TestProbeMissingCacheDir(t *testing.T) {
	ci := Probe(t.TempDir(), 5)
	require.Equal(t, 5, ci.ID)
	require.Empty(t, ci.Leaves)
}

func TestExtendLevels(t *testing.T) {
	ci := &CPU{ID: 0, Leaves: []*Leaf{
		{Level: 1, Type: TypeData},
		{Level: 1, Type: TypeInstruction},
	}}

	ExtendLevels(ci, 3)
	require.Len(t, ci.Leaves, 4)
	require.Equal(t, 2, ci.Leaves[2].Level)
	require.Equal(t, TypeUnified, ci.Leaves[2].Type)
	require.Equal(t, 3, ci.Leaves[3].Level)

	// never removes or duplicates what probing found
	ExtendLevels(ci, 2)
	require.Len(t, ci.Leaves, 4)

	ExtendLevels(nil, 4)
}
