package pptt

import (
	"github.com/rs/zerolog/log"

	"github.com/zenithax-cc/qilin/internal/collector/cacheinfo"
)

// cache record field offsets
const (
	cacheFlagsOffset = 4
	cacheNextOffset  = 8
	cacheSizeOffset  = 12
	cacheSetsOffset  = 16
	cacheAssocOffset = 20
	cacheAttrOffset  = 21
	cacheLineOffset  = 22
)

// cache record valid flags; a set bit marks the matching field as
// firmware-authoritative
const (
	cacheSizeValid        uint32 = 1 << 0
	cacheSetsValid        uint32 = 1 << 1
	cacheAssocValid       uint32 = 1 << 2
	cacheAllocTypeValid   uint32 = 1 << 3
	cacheTypeValid        uint32 = 1 << 4
	cacheWritePolicyValid uint32 = 1 << 5
	cacheLineSizeValid    uint32 = 1 << 6
)

// attribute byte layout
const (
	maskAllocType   uint8 = 0x03
	maskCacheType   uint8 = 0x0C
	maskWritePolicy uint8 = 0x10

	allocReadAllocate  uint8 = 0x00
	allocWriteAllocate uint8 = 0x01
	allocRWAllocate    uint8 = 0x02
	allocRWAllocateAlt uint8 = 0x03

	cacheTypeData        uint8 = 0x00
	cacheTypeInstruction uint8 = 0x04
	cacheTypeUnified     uint8 = 0x08
	cacheTypeUnifiedAlt  uint8 = 0x0C

	policyWriteBack    uint8 = 0x00
	policyWriteThrough uint8 = 0x10
)

// cacheNode is a view of one cache record. The zero value means "no
// match yet".
type cacheNode struct {
	node
}

func (c cacheNode) valid() bool {
	return c.t != nil
}

func (c cacheNode) flags() uint32 {
	return c.t.dwordAt(c.off + cacheFlagsOffset)
}

func (c cacheNode) nextRef() int {
	return int(c.t.dwordAt(c.off + cacheNextOffset))
}

func (c cacheNode) size() uint32 {
	return c.t.dwordAt(c.off + cacheSizeOffset)
}

func (c cacheNode) numberOfSets() uint32 {
	return c.t.dwordAt(c.off + cacheSetsOffset)
}

func (c cacheNode) associativity() uint8 {
	return c.t.byteAt(c.off + cacheAssocOffset)
}

func (c cacheNode) attributes() uint8 {
	return c.t.byteAt(c.off + cacheAttrOffset)
}

func (c cacheNode) lineSize() uint16 {
	return c.t.wordAt(c.off + cacheLineOffset)
}

func (c cacheNode) typeValid() bool {
	return c.flags()&cacheTypeValid != 0
}

// matchCacheType compares the masked type bits of a cache attribute
// byte against a wanted encoding. Firmware encodes unified caches two
// ways, so a unified query accepts any value carrying the unified bit.
func matchCacheType(attrs, want uint8) bool {
	bits := attrs & maskCacheType
	if want == cacheTypeUnified {
		return bits&cacheTypeUnified != 0
	}
	return bits == want
}

// privateResource resolves the i-th private resource reference of a
// processor node. Absent when i is past the declared count or the
// reference does not resolve.
func (t *Table) privateResource(p ProcessorNode, i int) (node, bool) {
	if i < 0 || i >= p.privateResourceCount() {
		return node{}, false
	}
	ref := int(t.dwordAt(p.off + procResourcesOffset + 4*i))
	return t.subtableAt(ref)
}

// walkCacheChain follows a resource's next-level links outward, one
// level per hop starting above localLevel, and returns the depth
// reached. A hop sitting at the wanted level with a valid, matching
// type becomes the match; a second distinct hit for the same level and
// type is logged and the first match kept, while the walk still runs to
// the chain's end. A non-cache resource leaves the depth untouched.
// Hops are capped by the table's record count since a corrupt chain may
// loop.
func (t *Table) walkCacheChain(localLevel int, res node, found *cacheNode, level int, ctype uint8) int {
	if res.kind() != typeCache {
		return localLevel
	}

	cache := cacheNode{res}
	ok := true
	for hops := 0; ok; hops++ {
		if hops > t.recordCount {
			log.Error().Int("offset", cache.off).Msg("pptt: cache chain longer than the record count, assuming a cycle")
			break
		}
		localLevel++

		if localLevel == level && cache.typeValid() && matchCacheType(cache.attributes(), ctype) {
			if !found.valid() {
				*found = cache
			} else if *found != cache {
				log.Warn().Int("level", level).Uint8("cache_type", ctype).Int("offset", cache.off).
					Msg("pptt: duplicate cache node for level and type, keeping the first")
			}
		}

		var next node
		next, ok = t.subtableAt(cache.nextRef())
		cache = cacheNode{next}
	}

	return localLevel
}

// findCacheLevel enumerates a processor node's private resources,
// walking each cache chain from the caller's running level and raising
// the counter to the deepest chain seen; sibling chains never add up.
// Enumeration stops outright at the first resource reference that fails
// to resolve, leaving later declared resources unvisited.
func (t *Table) findCacheLevel(cpu ProcessorNode, startingLevel *int, level int, ctype uint8) (cacheNode, bool) {
	numberOfLevels := *startingLevel
	var found cacheNode

	for i := 0; ; i++ {
		res, ok := t.privateResource(cpu, i)
		if !ok {
			break
		}
		localLevel := t.walkCacheChain(*startingLevel, res, &found, level, ctype)
		if localLevel > numberOfLevels {
			numberOfLevels = localLevel
		}
	}

	if numberOfLevels > *startingLevel {
		*startingLevel = numberOfLevels
	}

	return found, found.valid()
}

// acpiCacheType maps a sink cache type onto the attribute encoding used
// by cache records. Anything not clearly data or instruction is looked
// up as unified.
func acpiCacheType(ct cacheinfo.CacheType) uint8 {
	switch ct {
	case cacheinfo.TypeData:
		return cacheTypeData
	case cacheinfo.TypeInstruction:
		return cacheTypeInstruction
	default:
		return cacheTypeUnified
	}
}

// updateCacheProperties merges the firmware-declared fields of a
// matched cache record into a sink leaf. Only fields whose valid flag
// is set overwrite probed values; the owning processor node is attached
// unconditionally so callers can tell shared caches apart.
func updateCacheProperties(leaf *cacheinfo.Leaf, found cacheNode, owner ProcessorNode) {
	leaf.FirmwareNode = owner

	flags := found.flags()
	if flags&cacheSizeValid != 0 {
		leaf.Size = found.size()
	}
	if flags&cacheLineSizeValid != 0 {
		leaf.CoherencyLineSize = uint32(found.lineSize())
	}
	if flags&cacheSetsValid != 0 {
		leaf.NumberOfSets = found.numberOfSets()
	}
	if flags&cacheAssocValid != 0 {
		leaf.WaysOfAssociativity = uint32(found.associativity())
	}
	if flags&cacheWritePolicyValid != 0 {
		switch found.attributes() & maskWritePolicy {
		case policyWriteThrough:
			leaf.Attributes = cacheinfo.WriteThrough
		case policyWriteBack:
			leaf.Attributes = cacheinfo.WriteBack
		}
	}
	if flags&cacheAllocTypeValid != 0 {
		switch found.attributes() & maskAllocType {
		case allocReadAllocate:
			leaf.Attributes |= cacheinfo.ReadAllocate
		case allocWriteAllocate:
			leaf.Attributes |= cacheinfo.WriteAllocate
		case allocRWAllocate, allocRWAllocateAlt:
			leaf.Attributes |= cacheinfo.ReadAllocate | cacheinfo.WriteAllocate
		}
	}
}

// PopulateCacheInfo merges firmware cache properties into every leaf
// the sink carries for the processor with the given acpi id. Leaves
// without a matching cache record keep their probed values.
func (t *Table) PopulateCacheInfo(acpiID uint32, ci *cacheinfo.CPU) {
	if ci == nil {
		return
	}
	for _, leaf := range ci.Leaves {
		found, owner, ok := t.findCacheNode(acpiID, leaf.Level, acpiCacheType(leaf.Type))
		if !ok {
			continue
		}
		updateCacheProperties(leaf, found, owner)
	}
}
