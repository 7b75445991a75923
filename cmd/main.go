package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/zenithax-cc/qilin/internal/collector/cpu"
	"github.com/zenithax-cc/qilin/internal/collector/pptt"
	"github.com/zenithax-cc/qilin/internal/logging"
	"github.com/zenithax-cc/qilin/pkg/collector"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file")
		jsonOut    = flag.Bool("json", false, "emit JSON instead of formatted text")
		cpuID      = flag.Int("cpu", -1, "print topology tags for a single cpu and exit")
		acpiRoot   = flag.String("acpi-root", "", "directory holding raw ACPI tables")
		sysfsRoot  = flag.String("sysfs-root", "", "cpu sysfs root directory")
		logLevel   = flag.String("log-level", "", "log level (trace, debug, info, warn, error)")
	)
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "qilin: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.merge(fileConfig{
		ACPIRoot:  *acpiRoot,
		SysfsRoot: *sysfsRoot,
		LogLevel:  *logLevel,
		JSON:      *jsonOut,
	})

	logging.ConfigureRuntime(cfg.LogLevel)

	topo := pptt.New(pptt.WithACPIRoot(cfg.ACPIRoot))
	if !topo.Available() {
		log.Warn().Msg("no PPTT table exported, reporting probed values only")
	}

	if *cpuID >= 0 {
		if err := printCPUTags(topo, *cpuID); err != nil {
			fmt.Fprintf(os.Stderr, "qilin: %v\n", err)
			os.Exit(1)
		}
		return
	}

	m := collector.NewManager(collector.WithJSON(cfg.JSON))
	m.Register("cpu", cpu.New(
		cpu.WithPPTT(topo),
		cpu.WithSysfsRoot(cfg.SysfsRoot),
		cpu.WithConcurrency(cfg.Concurrency),
	))

	if err := m.Collect(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "qilin: %v\n", err)
	}
	if err := m.Render(); err != nil {
		fmt.Fprintf(os.Stderr, "qilin: %v\n", err)
		os.Exit(1)
	}
}

func printCPUTags(topo *pptt.PPTT, id int) error {
	coreTag, err := topo.TopologyTag(id, 0)
	if err != nil {
		return err
	}
	pkgTag, err := topo.PackageTag(id)
	if err != nil {
		return err
	}
	levels := topo.CacheLevelsForCPU(id)

	fmt.Printf("cpu %d: core tag %d, package tag %d, %d cache levels\n", id, coreTag, pkgTag, levels)
	return nil
}
