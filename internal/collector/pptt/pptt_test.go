package pptt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenithax-cc/qilin/internal/collector/cacheinfo"
)

func writeTableFile(t *testing.T, dir string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, tableFileName), data, 0o644))
}

// sharedTableBytes builds the shared L2 topology as raw bytes: one
// package owning a unified L2, two cores underneath with split private
// L1 caches, processor ids 0 and 1.
func sharedTableBytes(t *testing.T) ([]byte, sharedOffsets) {
	t.Helper()
	b := newTableBuilder()
	var o sharedOffsets
	o.l2 = b.addCache(cacheSpec{
		flags: allCacheFlags, size: 2 << 20, sets: 2048, assoc: 16,
		attributes: cacheTypeUnified | allocRWAllocate, lineSize: 64,
	})
	o.pkg = b.addProcessor(flagPhysicalPackage, 0, 99, o.l2)
	o.l1d0 = b.addCache(cacheSpec{
		flags: allCacheFlags, size: 48 << 10, sets: 192, assoc: 4,
		attributes: cacheTypeData | allocRWAllocate, lineSize: 64,
	})
	o.l1i0 = b.addCache(cacheSpec{
		flags: allCacheFlags, size: 32 << 10, sets: 128, assoc: 8,
		attributes: cacheTypeInstruction | allocReadAllocate, lineSize: 64,
	})
	o.core0 = b.addProcessor(flagProcessorIDValid, o.pkg, 0, o.l1d0, o.l1i0)
	o.l1d1 = b.addCache(cacheSpec{
		flags: allCacheFlags, size: 48 << 10, sets: 192, assoc: 4,
		attributes: cacheTypeData | allocRWAllocate, lineSize: 64,
	})
	o.l1i1 = b.addCache(cacheSpec{
		flags: allCacheFlags, size: 32 << 10, sets: 128, assoc: 8,
		attributes: cacheTypeInstruction | allocReadAllocate, lineSize: 64,
	})
	o.core1 = b.addProcessor(flagProcessorIDValid, o.pkg, 1, o.l1d1, o.l1i1)
	return b.bytes(), o
}

func TestFacadeTableUnavailable(t *testing.T) {
	p := New(WithACPIRoot(t.TempDir()))

	require.False(t, p.Available())
	require.Equal(t, 0, p.CacheLevelsForCPU(0))

	err := p.SetupCacheInfo(0, &cacheinfo.CPU{ID: 0})
	require.ErrorIs(t, err, ErrTableUnavailable)

	_, err = p.TopologyTag(0, 0)
	require.ErrorIs(t, err, ErrTableUnavailable)

	_, err = p.PackageTag(0)
	require.ErrorIs(t, err, ErrTableUnavailable)
}

func TestFacadeRejectsBadChecksum(t *testing.T) {
	dir := t.TempDir()
	data, _ := sharedTableBytes(t)
	data[checksumOffset]++
	writeTableFile(t, dir, data)

	p := New(WithACPIRoot(dir))
	require.True(t, p.Available())

	err := p.SetupCacheInfo(0, &cacheinfo.CPU{ID: 0})
	require.ErrorIs(t, err, ErrInvalidChecksum)
	require.Equal(t, 0, p.CacheLevelsForCPU(0))
}

func TestFacadeRejectsBadSignature(t *testing.T) {
	dir := t.TempDir()
	data, _ := sharedTableBytes(t)
	copy(data, "FACP")
	writeTableFile(t, dir, data)

	p := New(WithACPIRoot(dir))
	err := p.SetupCacheInfo(0, &cacheinfo.CPU{ID: 0})
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestFacadeQueries(t *testing.T) {
	dir := t.TempDir()
	data, o := sharedTableBytes(t)
	writeTableFile(t, dir, data)

	p := New(WithACPIRoot(dir))
	require.True(t, p.Available())

	require.Equal(t, 2, p.CacheLevelsForCPU(0))
	require.Equal(t, 2, p.CacheLevelsForCPU(1))

	core0, err := p.TopologyTag(0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, core0)

	pkg0, err := p.PackageTag(0)
	require.NoError(t, err)
	pkg1, err := p.PackageTag(1)
	require.NoError(t, err)
	require.Equal(t, o.pkg, pkg0)
	require.Equal(t, pkg0, pkg1)
}

func TestFacadeSetupCacheInfoSharedOwner(t *testing.T) {
	dir := t.TempDir()
	data, o := sharedTableBytes(t)
	writeTableFile(t, dir, data)

	p := New(WithACPIRoot(dir))

	merge := func(cpu int) *cacheinfo.Leaf {
		ci := &cacheinfo.CPU{
			ID: cpu,
			Leaves: []*cacheinfo.Leaf{
				{Level: 1, Type: cacheinfo.TypeData},
				{Level: 2, Type: cacheinfo.TypeUnified},
			},
		}
		require.NoError(t, p.SetupCacheInfo(cpu, ci))
		return ci.Leaves[1]
	}

	shared0 := merge(0)
	shared1 := merge(1)

	require.Equal(t, uint32(2<<20), shared0.Size)
	require.Equal(t, shared0.Size, shared1.Size)

	// separate acquisitions, same record: the offsets agree
	owner0, ok := shared0.FirmwareNode.(ProcessorNode)
	require.True(t, ok)
	owner1, ok := shared1.FirmwareNode.(ProcessorNode)
	require.True(t, ok)
	require.Equal(t, o.pkg, owner0.Offset())
	require.Equal(t, owner0.Offset(), owner1.Offset())
}

func TestFacadeCPUIDMap(t *testing.T) {
	dir := t.TempDir()
	b := newTableBuilder()
	l1 := b.addCache(cacheSpec{flags: allCacheFlags, attributes: cacheTypeUnified})
	b.addProcessor(flagProcessorIDValid, 0, 70, l1)
	writeTableFile(t, dir, b.bytes())

	p := New(WithACPIRoot(dir), WithCPUIDMap(func(cpu int) (uint32, error) {
		return uint32(cpu + 70), nil
	}))

	require.Equal(t, 1, p.CacheLevelsForCPU(0))
	require.Equal(t, 0, p.CacheLevelsForCPU(1))

	tag, err := p.TopologyTag(0, 0)
	require.NoError(t, err)
	require.Equal(t, 70, tag)
}

func TestFacadeIdentityMapRejectsNegative(t *testing.T) {
	dir := t.TempDir()
	data, _ := sharedTableBytes(t)
	writeTableFile(t, dir, data)

	p := New(WithACPIRoot(dir))
	_, err := p.TopologyTag(-1, 0)
	require.Error(t, err)
	require.Equal(t, 0, p.CacheLevelsForCPU(-1))
}

func TestFacadeUnknownProcessor(t *testing.T) {
	dir := t.TempDir()
	data, _ := sharedTableBytes(t)
	writeTableFile(t, dir, data)

	p := New(WithACPIRoot(dir))
	_, err := p.TopologyTag(55, 0)
	require.ErrorIs(t, err, ErrProcessorNotFound)
	require.Equal(t, 0, p.CacheLevelsForCPU(55))
}
