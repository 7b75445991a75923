package cpu

import (
	"github.com/zenithax-cc/qilin/internal/collector/cacheinfo"
	"github.com/zenithax-cc/qilin/internal/collector/pptt"
)

// Processor is the per-cpu view: the grouping tags derived from the
// firmware topology table plus the cache leaves after firmware values
// were merged in.
type Processor struct {
	ID               int               `json:"cpu"`
	CoreTag          int               `json:"core_tag"`
	PackageTag       int               `json:"package_tag"`
	CacheLevels      int               `json:"cache_levels"`
	FirmwareTopology bool              `json:"firmware_topology" color:"trueGreen"`
	Caches           []*cacheinfo.Leaf `json:"caches,omitempty"`
}

// Group collects the cpus sharing one topology tag.
type Group struct {
	Tag  int   `json:"tag"`
	CPUs []int `json:"cpus"`
}

// CPU is the collected processor inventory. Cores and Packages only
// list cpus whose firmware topology resolved; the rest appear in
// Processors with probed data alone.
type CPU struct {
	Processors []*Processor `json:"processors,omitempty"`
	Cores      []*Group     `json:"cores,omitempty"`
	Packages   []*Group     `json:"packages,omitempty"`

	sysfsRoot   string
	topo        *pptt.PPTT
	concurrency int
}
