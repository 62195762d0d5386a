package kafka

import (
	"strings"
	"time"

	"github.com/slopecraft/terrain-cache/internal/core/config"
)

type RunnerConfig struct {
	Enabled bool

	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

// FromConfig maps the service-level invalidation settings onto consumer
// group parameters, with conservative defaults for the timings.
func FromConfig(cfg config.InvalidationCfg) RunnerConfig {
	return RunnerConfig{
		Enabled:          cfg.Enabled,
		Brokers:          split(cfg.Brokers),
		Topic:            cfg.Topic,
		GroupID:          cfg.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    true,
	}
}

func split(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
