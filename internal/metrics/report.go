package metrics

import (
	"context"
	"time"

	"krakenfeed/logger"
)

// ProcessorStats is the periodic snapshot of the ticker processor.
type ProcessorStats struct {
	FramesProcessed  int64
	TickersProcessed int64
	EventsSeen       int64
	FramesSkipped    int64
	ErrorsCount      int64
	BatchesFlushed   int64
	ActiveBatches    int
	RawChannelLen    int
	RawChannelCap    int
	NormChannelLen   int
	NormChannelCap   int
}

// ReportProcessor emits processor counters and logs them in one line.
func ReportProcessor(log *logger.Log, component string, stats ProcessorStats) {
	errorRate := float64(0)
	if stats.FramesProcessed > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.FramesProcessed)
	}

	EmitMetric(log, component, "frames_processed", stats.FramesProcessed, "counter", nil)
	EmitMetric(log, component, "tickers_processed", stats.TickersProcessed, "counter", nil)
	EmitMetric(log, component, "errors_count", stats.ErrorsCount, "counter", nil)
	EmitMetric(log, component, "error_rate", errorRate, "gauge", logger.Fields{"unit": "percent"})
	EmitMetric(log, component, "active_batches", stats.ActiveBatches, "gauge", nil)

	log.WithComponent(component).WithFields(logger.Fields{
		"frames_processed":  stats.FramesProcessed,
		"tickers_processed": stats.TickersProcessed,
		"events_seen":       stats.EventsSeen,
		"frames_skipped":    stats.FramesSkipped,
		"errors_count":      stats.ErrorsCount,
		"error_rate":        errorRate,
		"batches_flushed":   stats.BatchesFlushed,
		"active_batches":    stats.ActiveBatches,
		"raw_channel_len":   stats.RawChannelLen,
		"raw_channel_cap":   stats.RawChannelCap,
		"norm_channel_len":  stats.NormChannelLen,
		"norm_channel_cap":  stats.NormChannelCap,
	}).Info(component + " metrics")
}

// WriterStats is the periodic snapshot of a writer.
type WriterStats struct {
	BatchesWritten int64
	FilesWritten   int64
	BytesWritten   int64
	ErrorsCount    int64
	NormChannelLen int
	NormChannelCap int
}

// ReportWriter emits writer counters. The summary line is logged at warn
// once any upload has failed.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	errorRate := float64(0)
	if stats.BatchesWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.BatchesWritten+stats.ErrorsCount)
	}
	avgBytesPerFile := float64(0)
	if stats.FilesWritten > 0 {
		avgBytesPerFile = float64(stats.BytesWritten) / float64(stats.FilesWritten)
	}

	EmitMetric(log, component, "batches_written", stats.BatchesWritten, "counter", nil)
	EmitMetric(log, component, "files_written", stats.FilesWritten, "counter", nil)
	EmitMetric(log, component, "bytes_written", stats.BytesWritten, "counter", logger.Fields{"unit": "bytes"})
	EmitMetric(log, component, "errors_count", stats.ErrorsCount, "counter", nil)
	EmitMetric(log, component, "avg_bytes_per_file", avgBytesPerFile, "gauge", logger.Fields{"unit": "bytes"})

	entry := log.WithComponent(component).WithFields(logger.Fields{
		"batches_written":    stats.BatchesWritten,
		"files_written":      stats.FilesWritten,
		"bytes_written":      stats.BytesWritten,
		"errors_count":       stats.ErrorsCount,
		"error_rate":         errorRate,
		"avg_bytes_per_file": avgBytesPerFile,
		"norm_channel_len":   stats.NormChannelLen,
		"norm_channel_cap":   stats.NormChannelCap,
	})
	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}
	entry.Info(component + " metrics")
}

// StartReport logs a runtime report every interval and emits its numeric
// values as metrics. It returns immediately; the loop ends with ctx.
func StartReport(ctx context.Context, log *logger.Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log, logger.TakeSnapshot())
			}
		}
	}()
}

func logReport(log *logger.Log, snap logger.Snapshot) {
	log.WithComponent("report").WithFields(logger.Fields{
		"warns":         snap.Warns,
		"errors":        snap.Errors,
		"frames_read":   snap.FramesRead,
		"tickers_read":  snap.TickersRead,
		"s3_writes":     snap.S3Writes,
		"goroutines":    snap.Goroutines,
		"heap_alloc_mb": snap.HeapAllocMB,
		"channels":      snap.Channels,
	}).Info("runtime report")

	EmitMetric(log, "report", "goroutines", snap.Goroutines, "gauge", nil)
	EmitMetric(log, "report", "heap_alloc_mb", snap.HeapAllocMB, "gauge", logger.Fields{"unit": "megabytes"})
	EmitMetric(log, "report", "frames_read", snap.FramesRead, "counter", nil)
	EmitMetric(log, "report", "s3_writes", snap.S3Writes, "counter", nil)
	for name, stat := range snap.Channels {
		EmitMetric(log, "report", "channel_messages", stat.Messages, "counter", logger.Fields{"channel": name})
		EmitMetric(log, "report", "channel_bytes", stat.Bytes, "counter", logger.Fields{"channel": name, "unit": "bytes"})
	}
}
