package metrics

import "krakenfeed/logger"

// DropMetric names the metric emitted when a channel message is dropped.
type DropMetric string

const (
	// DropMetricFeedRaw counts feed frames that did not fit the raw channel.
	DropMetricFeedRaw DropMetric = "feed_frames_dropped"
	// DropMetricTickerNorm counts ticker batches that did not fit the norm channel.
	DropMetricTickerNorm DropMetric = "ticker_batches_dropped"
)

// EmitDropMetric emits one drop. Empty metadata values are left out of the
// metric fields.
func EmitDropMetric(log *logger.Log, metric DropMetric, exchange, channel, pair, stage string) {
	fields := logger.Fields{}
	for k, v := range map[string]string{"exchange": exchange, "channel": channel, "pair": pair, "stage": stage} {
		if v != "" {
			fields[k] = v
		}
	}

	droppedTotal.WithLabelValues(string(metric)).Inc()
	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
