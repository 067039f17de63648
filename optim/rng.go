package optim

import (
	"hash/fnv"
	"math/rand"
	"strconv"
)

// SearchKey identifies a reproducible stream of random draws. Equal keys
// with equal configuration and snapshot yield identical plans.
type SearchKey int64

// NewSearchKey wraps a seed.
func NewSearchKey(seed int64) SearchKey {
	return SearchKey(seed)
}

// CycleKey is the key of a process's n-th cycle (0-based). The first cycle
// reuses the seed so a one-shot run matches the first cycle of a service.
func CycleKey(seed int64, cycle uint64) SearchKey {
	if cycle == 0 {
		return SearchKey(seed)
	}
	return SearchKey(seed ^ hashName("cycle_"+strconv.FormatUint(cycle, 10)))
}

// Stream names.
const (
	// SubsystemSearch feeds the genetic search and is keyed by the seed itself.
	SubsystemSearch = "search"
	// SubsystemSynthetic draws the synthetic SKU catalog.
	SubsystemSynthetic = "synthetic"
)

// SubsystemSKU names the private demand stream of one synthetic SKU.
func SubsystemSKU(id string) string {
	return "sku_" + id
}

// PartitionedRNG hands out one independent *rand.Rand per named stream so
// that adding draws to one stream never shifts another. A stream's seed is
// the key XOR the FNV-1a hash of its name, except SubsystemSearch which
// uses the key unchanged.
//
// Not safe for concurrent use.
type PartitionedRNG struct {
	key     SearchKey
	streams map[string]*rand.Rand
}

// NewPartitionedRNG returns a PartitionedRNG for key.
func NewPartitionedRNG(key SearchKey) *PartitionedRNG {
	return &PartitionedRNG{key: key, streams: map[string]*rand.Rand{}}
}

// ForSubsystem returns the stream for name, creating it on first use.
// Repeated calls return the same instance.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	rng, ok := p.streams[name]
	if !ok {
		rng = rand.New(rand.NewSource(p.derive(name)))
		p.streams[name] = rng
	}
	return rng
}

func (p *PartitionedRNG) derive(name string) int64 {
	if name == SubsystemSearch {
		return int64(p.key)
	}
	return int64(p.key) ^ hashName(name)
}

// Key returns the key p was built from.
func (p *PartitionedRNG) Key() SearchKey {
	return p.key
}

func hashName(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
