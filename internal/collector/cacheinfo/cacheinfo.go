// Package cacheinfo models per-cpu cache leaves the way
// /sys/devices/system/cpu exposes them and receives the values a
// firmware topology table overrides them with.
package cacheinfo

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zenithax-cc/qilin/pkg/utils"
)

const defaultSysfsRoot = "/sys/devices/system/cpu"

// CacheType tells data, instruction and unified leaves apart.
type CacheType uint8

const (
	TypeUnknown CacheType = iota
	TypeData
	TypeInstruction
	TypeUnified
)

var cacheTypeNames = map[CacheType]string{
	TypeUnknown:     "Unknown",
	TypeData:        "Data",
	TypeInstruction: "Instruction",
	TypeUnified:     "Unified",
}

func (t CacheType) String() string {
	if s, ok := cacheTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

func (t CacheType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseCacheType maps the strings sysfs publishes in a leaf's type
// file. Anything unrecognized is Unknown.
func ParseCacheType(s string) CacheType {
	switch strings.TrimSpace(s) {
	case "Data":
		return TypeData
	case "Instruction":
		return TypeInstruction
	case "Unified":
		return TypeUnified
	default:
		return TypeUnknown
	}
}

// attribute bits a leaf accumulates from firmware
const (
	WriteThrough  uint8 = 1 << 0
	WriteBack     uint8 = 1 << 1
	ReadAllocate  uint8 = 1 << 2
	WriteAllocate uint8 = 1 << 3
)

// Leaf is one cache reachable from an execution unit. Size is in
// bytes; Attributes carries the write policy and allocation bits.
type Leaf struct {
	Level               int       `json:"level"`
	Type                CacheType `json:"type"`
	Size                uint32    `json:"size,omitempty"`
	SizeHuman           string    `json:"size_human,omitempty"`
	CoherencyLineSize   uint32    `json:"coherency_line_size,omitempty"`
	NumberOfSets        uint32    `json:"number_of_sets,omitempty"`
	WaysOfAssociativity uint32    `json:"ways_of_associativity,omitempty"`
	Attributes          uint8     `json:"attributes,omitempty"`
	SharedCPUList       string    `json:"shared_cpu_list,omitempty"`

	// FirmwareNode is the firmware topology node owning this cache,
	// attached during property merging. Equal values mean a shared
	// cache.
	FirmwareNode any `json:"-"`
}

// CPU holds the cache leaves of one logical cpu, sorted by level and
// type.
type CPU struct {
	ID     int     `json:"cpu"`
	Leaves []*Leaf `json:"leaves,omitempty"`
}

// Probe reads the cache hierarchy sysfs publishes for one cpu. A cpu
// without a readable cache directory yields an empty result; single
// unreadable leaves are skipped.
func Probe(root string, cpu int) *CPU {
	if root == "" {
		root = defaultSysfsRoot
	}

	ci := &CPU{ID: cpu}
	cacheDir := filepath.Join(root, fmt.Sprintf("cpu%d", cpu), "cache")
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return ci
	}

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "index") {
			continue
		}
		leaf, err := readLeaf(filepath.Join(cacheDir, entry.Name()))
		if err != nil {
			continue
		}
		ci.Leaves = append(ci.Leaves, leaf)
	}

	sortLeaves(ci.Leaves)
	return ci
}

// readLeaf needs at least a level and a type to make a usable leaf;
// every other file is optional.
func readLeaf(dir string) (*Leaf, error) {
	rawLevel, err := utils.ReadOneLineFile(filepath.Join(dir, "level"))
	if err != nil {
		return nil, err
	}
	level, err := strconv.Atoi(rawLevel)
	if err != nil {
		return nil, fmt.Errorf("parse cache level %q: %w", rawLevel, err)
	}

	rawType, err := utils.ReadOneLineFile(filepath.Join(dir, "type"))
	if err != nil {
		return nil, err
	}

	leaf := &Leaf{Level: level, Type: ParseCacheType(rawType)}

	if raw, err := utils.ReadOneLineFile(filepath.Join(dir, "size")); err == nil {
		if size, err := ParseSize(raw); err == nil {
			leaf.Size = size
		}
	}
	if raw, err := utils.ReadOneLineFile(filepath.Join(dir, "shared_cpu_list")); err == nil {
		leaf.SharedCPUList = raw
	}

	numeric := []struct {
		file string
		set  func(uint32)
	}{
		{"coherency_line_size", func(v uint32) { leaf.CoherencyLineSize = v }},
		{"number_of_sets", func(v uint32) { leaf.NumberOfSets = v }},
		{"ways_of_associativity", func(v uint32) { leaf.WaysOfAssociativity = v }},
	}
	for _, f := range numeric {
		raw, err := utils.ReadOneLineFile(filepath.Join(dir, f.file))
		if err != nil {
			continue
		}
		if v, err := strconv.ParseUint(raw, 10, 32); err == nil {
			f.set(uint32(v))
		}
	}

	return leaf, nil
}

// ParseSize converts the compact size strings sysfs uses (48K, 1M) to
// bytes.
func ParseSize(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty cache size")
	}

	mult := uint64(1)
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'G', 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse cache size %q: %w", s, err)
	}
	if n*mult > math.MaxUint32 {
		return 0, fmt.Errorf("cache size %q overflows", s)
	}
	return uint32(n * mult), nil
}

func sortLeaves(leaves []*Leaf) {
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].Level != leaves[j].Level {
			return leaves[i].Level < leaves[j].Level
		}
		return leaves[i].Type < leaves[j].Type
	})
}

// ExtendLevels appends unified leaves for cache levels firmware
// reports beyond what probing surfaced, so firmware-only levels still
// receive merged properties.
func ExtendLevels(ci *CPU, levels int) {
	if ci == nil {
		return
	}
	max := 0
	for _, leaf := range ci.Leaves {
		if leaf.Level > max {
			max = leaf.Level
		}
	}
	for level := max + 1; level <= levels; level++ {
		ci.Leaves = append(ci.Leaves, &Leaf{Level: level, Type: TypeUnified})
	}
}
