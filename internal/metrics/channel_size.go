package metrics

import (
	"context"
	"time"

	"krakenfeed/internal/channel"
	"krakenfeed/logger"
)

// StartChannelSizeMetrics emits the occupancy of the ticker buffers every
// interval until ctx is cancelled. A non-positive interval means one second.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelSize) || channels == nil || channels.Ticker == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	const component = "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ch := channels.Ticker
				EmitMetric(log, component, "ticker_raw_buffer_length", len(ch.Raw), "gauge", logger.Fields{
					"buffer":   "ticker_raw",
					"capacity": cap(ch.Raw),
				})
				EmitMetric(log, component, "ticker_norm_buffer_length", len(ch.Norm), "gauge", logger.Fields{
					"buffer":   "ticker_norm",
					"capacity": cap(ch.Norm),
				})
			}
		}
	}()
}
