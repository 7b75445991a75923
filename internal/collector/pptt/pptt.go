// Package pptt parses the ACPI Processor Properties Topology Table.
// The table is an inverted tree of processor and cache records linked
// by byte offsets relative to the table start. Queries locate a leaf
// processor record by its acpi processor id, ascend its parent chain,
// and walk the cache chains hanging off each ancestor to count cache
// levels, merge firmware-declared cache properties into probed data,
// and derive grouping tags for cores and physical packages.
package pptt

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zenithax-cc/qilin/internal/collector/cacheinfo"
)

// CPUIDMapFunc translates a kernel logical cpu number into the acpi
// processor id firmware uses inside the table.
type CPUIDMapFunc func(cpu int) (uint32, error)

// PPTT answers topology queries against the platform's processor
// topology table. Every query acquires a fresh table instance on entry
// and releases it on all exit paths, so table content may change
// between queries but never during one.
type PPTT struct {
	source *tableSource
	mapCPU CPUIDMapFunc

	noTableOnce sync.Once
	noNodeOnce  sync.Once
}

type Option func(*PPTT)

// WithACPIRoot points the source at a directory holding raw ACPI
// tables instead of /sys/firmware/acpi/tables.
func WithACPIRoot(root string) Option {
	return func(p *PPTT) {
		p.source = newTableSource(root)
	}
}

// WithCPUIDMap installs a logical-cpu to acpi-id translation. The
// default maps a cpu number to itself; platforms where firmware
// numbers processors differently supply their own.
func WithCPUIDMap(fn CPUIDMapFunc) Option {
	return func(p *PPTT) {
		if fn != nil {
			p.mapCPU = fn
		}
	}
}

func New(opts ...Option) *PPTT {
	p := &PPTT{
		source: newTableSource(""),
		mapCPU: identityCPUIDMap,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func identityCPUIDMap(cpu int) (uint32, error) {
	if cpu < 0 {
		return 0, fmt.Errorf("pptt: invalid cpu number %d", cpu)
	}
	return uint32(cpu), nil
}

// Available reports whether the platform exports a table file at all,
// without validating it.
func (p *PPTT) Available() bool {
	return p.source.available()
}

func (p *PPTT) acquire() (*Table, func(), error) {
	table, release, err := p.source.acquire()
	if err != nil {
		p.noTableOnce.Do(func() {
			log.Error().Err(err).Msg("pptt: no usable table, cpu and cache topology may be inaccurate")
		})
		return nil, nil, err
	}
	return table, release, nil
}

// CacheLevelsForCPU reports the number of cache levels the table makes
// visible to a logical cpu. Any failure, including a missing table,
// degrades to 0.
func (p *PPTT) CacheLevelsForCPU(cpu int) int {
	table, release, err := p.acquire()
	if err != nil {
		return 0
	}
	defer release()

	acpiID, err := p.mapCPU(cpu)
	if err != nil {
		return 0
	}

	return table.CacheLevels(acpiID)
}

// SetupCacheInfo overrides the sink's probed cache properties with the
// firmware-declared values for one logical cpu. A missing table
// returns ErrTableUnavailable and leaves the sink untouched.
func (p *PPTT) SetupCacheInfo(cpu int, ci *cacheinfo.CPU) error {
	table, release, err := p.acquire()
	if err != nil {
		return err
	}
	defer release()

	acpiID, err := p.mapCPU(cpu)
	if err != nil {
		return err
	}

	table.PopulateCacheInfo(acpiID, ci)
	return nil
}

// TopologyTag derives the grouping id for a cpu at a topology level;
// level 0 identifies the processing element itself. Tags are
// comparable between cpus for equality only.
func (p *PPTT) TopologyTag(cpu, level int) (int, error) {
	return p.cpuTag(cpu, level, 0)
}

// PackageTag derives the grouping id of the physical package holding
// the cpu.
func (p *PPTT) PackageTag(cpu int) (int, error) {
	return p.cpuTag(cpu, abortPackageLevel, flagPhysicalPackage)
}

func (p *PPTT) cpuTag(cpu, level int, flag uint32) (int, error) {
	table, release, err := p.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	acpiID, err := p.mapCPU(cpu)
	if err != nil {
		return 0, err
	}

	tag, err := table.tag(acpiID, level, flag)
	if err != nil {
		if errors.Is(err, ErrProcessorNotFound) {
			p.noNodeOnce.Do(func() {
				log.Warn().Int("cpu", cpu).Uint32("acpi_id", acpiID).
					Msg("pptt: table present but no matching leaf processor node")
			})
		}
		return 0, err
	}
	return tag, nil
}
