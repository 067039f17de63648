package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/stockflow/invopt/optim"
)

// Source produces the full set of SKU records on demand.
type Source interface {
	Fetch(ctx context.Context) ([]optim.SKURecord, error)
}

// === FileSource ===

// skuFile is the on-disk layout read by FileSource.
type skuFile struct {
	SKUs []optim.SKURecord `yaml:"skus"`
}

// FileSource reads SKU records from a YAML file. The file is re-read on every
// Fetch so edits take effect on the next collection.
type FileSource struct {
	Path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Fetch decodes the file with strict field checking.
func (f *FileSource) Fetch(ctx context.Context) ([]optim.SKURecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading sku file: %w", err)
	}
	var parsed skuFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing sku file %s: %w", f.Path, err)
	}
	for i, r := range parsed.SKUs {
		if r.ID == "" {
			return nil, fmt.Errorf("sku file %s: entry %d has no id", f.Path, i)
		}
	}
	return parsed.SKUs, nil
}

// === SyntheticSource ===

// syntheticHistory is the number of demand periods each synthetic SKU keeps.
const syntheticHistory = 24

type syntheticSKU struct {
	record   optim.SKURecord
	base     float64 // mean per-period demand
	rng      *rand.Rand
	restock  float64
	periodNo int
}

// SyntheticSource simulates a warehouse: every Fetch advances one demand
// period, consuming stock with sampled demand and restocking SKUs that fall
// below their reorder minimum. Each SKU draws from its own RNG stream, so
// results depend only on the seed and the number of fetches.
type SyntheticSource struct {
	mu   sync.Mutex
	skus []*syntheticSKU
}

// NewSyntheticSource creates count SKUs seeded from seed. Each starts with a
// full demand history so forecasts are usable from the first fetch.
func NewSyntheticSource(count int, seed int64) *SyntheticSource {
	rng := optim.NewPartitionedRNG(optim.NewSearchKey(seed))
	catalog := rng.ForSubsystem(optim.SubsystemSynthetic)

	src := &SyntheticSource{skus: make([]*syntheticSKU, 0, count)}
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("SKU-%03d", i+1)
		base := 5 + math.Round(catalog.Float64()*45)
		maxQty := math.Round(base * (2 + catalog.Float64()*4))
		s := &syntheticSKU{
			record: optim.SKURecord{
				ID:          id,
				OnHand:      math.Round(base * (1 + catalog.Float64()*3)),
				LeadTime:    float64(1 + catalog.Intn(4)),
				HoldingCost: math.Round((0.5+catalog.Float64()*4.5)*100) / 100,
				OrderCost:   math.Round((1+catalog.Float64()*19)*100) / 100,
				MinQty:      0,
				MaxQty:      maxQty,
			},
			base:    base,
			rng:     rng.ForSubsystem(optim.SubsystemSKU(id)),
			restock: math.Round(maxQty / 2),
		}
		for p := 0; p < syntheticHistory; p++ {
			s.record.DemandHistory = append(s.record.DemandHistory, s.sampleDemand())
		}
		src.skus = append(src.skus, s)
	}
	return src
}

// Fetch advances one period and returns the resulting records.
func (s *SyntheticSource) Fetch(ctx context.Context) ([]optim.SKURecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]optim.SKURecord, 0, len(s.skus))
	for _, sku := range s.skus {
		sku.advance()
		r := sku.record
		r.DemandHistory = append([]float64(nil), sku.record.DemandHistory...)
		out = append(out, r)
	}
	return out, nil
}

func (s *syntheticSKU) advance() {
	demand := s.sampleDemand()
	s.record.OnHand = math.Max(0, s.record.OnHand-demand)

	// Outstanding orders arrive; new ones are placed when stock runs low.
	s.record.OnHand += s.record.OnOrder
	s.record.OnOrder = 0
	if s.record.OnHand < s.base*s.record.LeadTime {
		s.record.OnOrder = s.restock
	}

	h := append(s.record.DemandHistory, demand)
	if len(h) > syntheticHistory {
		h = h[len(h)-syntheticHistory:]
	}
	s.record.DemandHistory = h
}

// sampleDemand draws a non-negative whole demand around base with a weekly
// swing and roughly 20% noise.
func (s *syntheticSKU) sampleDemand() float64 {
	s.periodNo++
	swing := 1 + 0.15*math.Sin(2*math.Pi*float64(s.periodNo)/7)
	d := s.base*swing + s.rng.NormFloat64()*0.2*s.base
	return math.Max(0, math.Round(d))
}
