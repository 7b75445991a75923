package pptt

import (
	"errors"

	"github.com/rs/zerolog/log"
)

// abortPackageLevel sits above any real tree depth; used as the level
// limit, it turns the package ascent into a pure flag search.
const abortPackageLevel = 0xFF

var ErrProcessorNotFound = errors.New("pptt: processor node not found")

// countCacheLevels walks from a leaf processor node to the root,
// enumerating every ancestor's cache chains with a query that can never
// match (chain depths start at one, so level zero misses everything)
// purely to advance the running depth counter.
func (t *Table) countCacheLevels(cpu ProcessorNode) int {
	total := 0
	for hops := 0; ; hops++ {
		if hops > t.recordCount {
			log.Error().Int("offset", cpu.off).Msg("pptt: parent chain longer than the record count, assuming a cycle")
			break
		}
		t.findCacheLevel(cpu, &total, 0, 0)
		parent, ok := t.parentOf(cpu)
		if !ok {
			break
		}
		cpu = parent
	}
	return total
}

// CacheLevels reports how many cache levels the table makes visible to
// the processor with the given acpi id, or 0 when the id does not match
// any leaf node.
func (t *Table) CacheLevels(acpiID uint32) int {
	cpu, ok := t.findProcessorNode(acpiID)
	if !ok {
		return 0
	}
	return t.countCacheLevels(cpu)
}

// findCacheNode repeats the leaf-to-root ascent, stopping at the first
// ancestor whose cache chains contain the wanted level and type, and
// returns the cache record together with the processor node owning it.
func (t *Table) findCacheNode(acpiID uint32, level int, ctype uint8) (cacheNode, ProcessorNode, bool) {
	cpu, ok := t.findProcessorNode(acpiID)
	if !ok {
		return cacheNode{}, ProcessorNode{}, false
	}

	total := 0
	var found cacheNode
	owner := cpu
	for hops := 0; ok && !found.valid(); hops++ {
		if hops > t.recordCount {
			log.Error().Int("offset", cpu.off).Msg("pptt: parent chain longer than the record count, assuming a cycle")
			break
		}
		found, _ = t.findCacheLevel(cpu, &total, level, ctype)
		owner = cpu
		cpu, ok = t.parentOf(cpu)
	}

	return found, owner, found.valid()
}

// findProcessorPackage ascends from a node for at most level hops,
// stopping early at the first node whose flags carry the wanted bit or
// at the root.
func (t *Table) findProcessorPackage(cpu ProcessorNode, level int, flag uint32) ProcessorNode {
	for hops := 0; level > 0; hops++ {
		if hops > t.recordCount {
			log.Error().Int("offset", cpu.off).Msg("pptt: parent chain longer than the record count, assuming a cycle")
			break
		}
		if cpu.flags()&flag != 0 {
			break
		}
		parent, ok := t.parentOf(cpu)
		if !ok {
			break
		}
		cpu = parent
		level--
	}
	return cpu
}

// tag derives the grouping identifier for one leaf processor. At level
// zero the stopping node's acpi processor id is the stable answer; for
// any other level the node's byte offset serves as a synthetic id,
// comparable for equality while the same table content is acquired.
func (t *Table) tag(acpiID uint32, level int, flag uint32) (int, error) {
	cpu, ok := t.findProcessorNode(acpiID)
	if !ok {
		return 0, ErrProcessorNotFound
	}

	stop := t.findProcessorPackage(cpu, level, flag)
	if level == 0 {
		return int(stop.ACPIProcessorID()), nil
	}
	return stop.Offset(), nil
}

// TopologyTag groups processors sharing the topological ancestor level
// hops above their leaves. Level 0 identifies the processing element
// itself.
func (t *Table) TopologyTag(acpiID uint32, level int) (int, error) {
	return t.tag(acpiID, level, 0)
}

// PackageTag groups processors under their nearest ancestor marked as a
// physical package boundary.
func (t *Table) PackageTag(acpiID uint32) (int, error) {
	return t.tag(acpiID, abortPackageLevel, flagPhysicalPackage)
}
