package kafka

import "time"

// WireEvent is one invalidation message. Either RunID or SourceAreaID must
// be set; a run event drops that run's cached artifacts, an area event drops
// everything grouped under the area.
type WireEvent struct {
	RunID        string    `json:"run_id,omitempty"`
	SourceAreaID string    `json:"source_area_id,omitempty"`
	GridSizes    []int     `json:"grid_sizes,omitempty"`
	Version      uint64    `json:"version"`
	TS           time.Time `json:"ts"`
	Op           string    `json:"op,omitempty"`
}
