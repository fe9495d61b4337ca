package metrics

import (
	"strings"
	"sync"

	"krakenfeed/config"
)

// Feature is a group of metrics that can be switched off in configuration.
type Feature string

const (
	FeatureChannelSize Feature = "channel_size"
)

var (
	featuresMu sync.RWMutex
	features   = map[Feature]bool{
		FeatureChannelSize: true,
	}
)

// Configure applies the metrics section of the configuration.
func Configure(cfg config.MetricsConfig) {
	featuresMu.Lock()
	features[FeatureChannelSize] = cfg.ChannelSize
	featuresMu.Unlock()
}

func IsFeatureEnabled(feature Feature) bool {
	featuresMu.RLock()
	defer featuresMu.RUnlock()
	enabled, ok := features[feature]
	return !ok || enabled
}

func featureForMetric(name string) (Feature, bool) {
	if strings.HasSuffix(name, "_buffer_length") {
		return FeatureChannelSize, true
	}
	return "", false
}
