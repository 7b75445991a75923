// Package collector drives subsystem inventory modules and renders
// what they gathered.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zenithax-cc/qilin/pkg/utils"
)

// Collector is one subsystem inventory run.
type Collector interface {
	Collect(context.Context) error
}

type entry struct {
	name      string
	collector Collector
}

// Manager runs registered collectors in registration order and renders
// their results as JSON or formatted text.
type Manager struct {
	json    bool
	entries []entry
}

type Option func(*Manager)

func WithJSON(enabled bool) Option {
	return func(m *Manager) {
		m.json = enabled
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Register(name string, c Collector) {
	if c == nil {
		return
	}
	m.entries = append(m.entries, entry{name: name, collector: c})
}

// Collect runs every registered collector, keeps going past failures,
// and reports them joined.
func (m *Manager) Collect(ctx context.Context) error {
	errs := make([]error, 0, len(m.entries))
	for _, e := range m.entries {
		start := time.Now()
		err := e.collector.Collect(ctx)
		log.Debug().Str("module", e.name).Dur("took", time.Since(start)).Err(err).Msg("collect finished")
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return utils.CombineErrors(errs)
}

// Render prints every collected result to stdout.
func (m *Manager) Render() error {
	if m.json {
		for _, e := range m.entries {
			if err := ToJSON(e.collector); err != nil {
				return err
			}
		}
		return nil
	}

	printer := utils.NewStructPrinter()
	for _, e := range m.entries {
		printer.Print(e.collector)
	}
	return nil
}

func ToJSON(v any) error {
	j, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	fmt.Println(string(j))
	return nil
}
