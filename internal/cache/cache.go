// Package cache defines the contract of the persistent, TTL-based cache
// layer and its namespaces.
package cache

import (
	"context"
	"time"

	"github.com/slopecraft/terrain-cache/internal/core/model"
)

// Namespaces partition the store by data class. Each carries its own
// default TTL: long for run definitions, medium for terrain results, short
// for upstream agent responses.
const (
	NamespaceTerrain  = "terrain"
	NamespaceRuns     = "runs"
	NamespaceAgents   = "agents"
	NamespaceMetadata = "metadata"
)

// Namespaces lists every partition, used by Clear and Stats.
func Namespaces() []string {
	return []string{NamespaceTerrain, NamespaceRuns, NamespaceAgents, NamespaceMetadata}
}

// Stats is a point-in-time view of the store. Hit/miss counters are
// process-wide and reset only by Clear.
type Stats struct {
	EntryCount        int     `json:"entryCount"`
	TotalSizeEstimate int64   `json:"totalSizeEstimate"`
	Hits              uint64  `json:"hits"`
	Misses            uint64  `json:"misses"`
	HitRate           float64 `json:"hitRate"`
}

type PutOptions struct {
	// Group is a denormalized secondary key, e.g. the source area an entry
	// belongs to, enabling "all terrain entries for area X" lookups.
	Group string
}

type PutOption func(*PutOptions)

func WithGroup(group string) PutOption {
	return func(o *PutOptions) { o.Group = group }
}

// Interface is what the pipeline and its collaborators program against.
type Interface interface {
	Put(ctx context.Context, namespace, key string, v any, ttl time.Duration, opts ...PutOption) error
	Get(ctx context.Context, namespace, key string, out any) (bool, error)
	Invalidate(ctx context.Context, namespace string, keys ...string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	KeysForGroup(ctx context.Context, namespace, group string) ([]string, error)
	IsAvailableOffline(ctx context.Context, runID, boundaryFP string, size model.GridSize) (bool, error)
}
