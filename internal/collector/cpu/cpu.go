// Package cpu collects the per-cpu topology inventory: probed cache
// leaves enriched with firmware table properties, plus core and
// package groupings derived from topology tags.
package cpu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zenithax-cc/qilin/internal/collector/cacheinfo"
	"github.com/zenithax-cc/qilin/internal/collector/pptt"
	"github.com/zenithax-cc/qilin/pkg/utils"
)

const (
	defaultSysfsRoot = "/sys/devices/system/cpu"
	maxConcurrency   = 4
)

var errNoCPUs = errors.New("no cpu entries found")

type Option func(*CPU)

func WithSysfsRoot(root string) Option {
	return func(c *CPU) {
		if root != "" {
			c.sysfsRoot = root
		}
	}
}

func WithPPTT(p *pptt.PPTT) Option {
	return func(c *CPU) {
		if p != nil {
			c.topo = p
		}
	}
}

func WithConcurrency(n int) Option {
	return func(c *CPU) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func New(opts ...Option) *CPU {
	c := &CPU{
		sysfsRoot:   defaultSysfsRoot,
		topo:        pptt.New(),
		concurrency: maxConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect probes every online cpu concurrently and derives the core
// and package groupings. Missing firmware topology degrades a cpu to
// probed data; table corruption surfaces as a per-cpu error.
func (c *CPU) Collect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cpus, err := c.onlineCPUs()
	if err != nil {
		return err
	}

	procs := make([]*Processor, len(cpus))
	errs := make([]error, len(cpus))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.concurrency)
	for i, id := range cpus {
		i, id := i, id
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			procs[i], errs[i] = c.collectOne(id)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	c.Processors = procs
	c.Cores = groupByTag(procs, func(p *Processor) int { return p.CoreTag })
	c.Packages = groupByTag(procs, func(p *Processor) int { return p.PackageTag })

	return utils.CombineErrors(errs)
}

// collectOne builds the view of a single cpu. The firmware table may
// know about cache levels sysfs never surfaced, so the probed leaves
// are extended before merging.
func (c *CPU) collectOne(id int) (*Processor, error) {
	proc := &Processor{ID: id}

	ci := cacheinfo.Probe(c.sysfsRoot, id)

	proc.CacheLevels = c.topo.CacheLevelsForCPU(id)
	if proc.CacheLevels > 0 {
		cacheinfo.ExtendLevels(ci, proc.CacheLevels)
	}

	var err error
	if mergeErr := c.topo.SetupCacheInfo(id, ci); mergeErr != nil && !degraded(mergeErr) {
		err = fmt.Errorf("cpu%d: %w", id, mergeErr)
	}

	coreTag, coreErr := c.topo.TopologyTag(id, 0)
	pkgTag, pkgErr := c.topo.PackageTag(id)
	if coreErr == nil && pkgErr == nil {
		proc.CoreTag = coreTag
		proc.PackageTag = pkgTag
		proc.FirmwareTopology = true
	}

	for _, leaf := range ci.Leaves {
		if leaf.Size > 0 {
			leaf.SizeHuman = utils.KGMT(uint64(leaf.Size))
		}
	}
	proc.Caches = ci.Leaves

	return proc, err
}

// degraded tells expected absences apart from real table failures.
func degraded(err error) bool {
	return errors.Is(err, pptt.ErrTableUnavailable) || errors.Is(err, pptt.ErrProcessorNotFound)
}

func groupByTag(procs []*Processor, tag func(*Processor) int) []*Group {
	byTag := make(map[int][]int)
	for _, p := range procs {
		if p == nil || !p.FirmwareTopology {
			continue
		}
		t := tag(p)
		byTag[t] = append(byTag[t], p.ID)
	}
	if len(byTag) == 0 {
		return nil
	}

	tags := make([]int, 0, len(byTag))
	for t := range byTag {
		tags = append(tags, t)
	}
	sort.Ints(tags)

	groups := make([]*Group, 0, len(tags))
	for _, t := range tags {
		ids := byTag[t]
		sort.Ints(ids)
		groups = append(groups, &Group{Tag: t, CPUs: ids})
	}
	return groups
}

// onlineCPUs prefers the kernel's online list and falls back to the
// cpu directories themselves.
func (c *CPU) onlineCPUs() ([]int, error) {
	if line, err := utils.ReadOneLineFile(filepath.Join(c.sysfsRoot, "online")); err == nil {
		if cpus, err := parseCPUList(line); err == nil && len(cpus) > 0 {
			return cpus, nil
		}
	}

	entries, err := os.ReadDir(c.sysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.sysfsRoot, err)
	}

	cpus := make([]int, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "cpu") {
			continue
		}
		id, err := strconv.Atoi(name[len("cpu"):])
		if err != nil {
			continue
		}
		cpus = append(cpus, id)
	}
	if len(cpus) == 0 {
		return nil, errNoCPUs
	}

	sort.Ints(cpus)
	return cpus, nil
}

// parseCPUList expands the kernel's cpu list format, "0-3,5,8-9".
func parseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var cpus []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("parse cpu list %q: %w", s, err)
		}

		end := start
		if isRange {
			end, err = strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("parse cpu list %q: %w", s, err)
			}
			if end < start {
				return nil, fmt.Errorf("parse cpu list %q: inverted range %q", s, part)
			}
		}

		for i := start; i <= end; i++ {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
