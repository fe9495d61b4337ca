package channel

import (
	"context"
	"time"

	"krakenfeed/internal/channel/ticker"
	"krakenfeed/logger"
)

const defaultReportInterval = 30 * time.Second

type Channels struct {
	Ticker *ticker.Channels

	reportInterval time.Duration
	log            *logger.Log
}

func NewChannels(rawBufferSize, normBufferSize int) *Channels {
	return &Channels{
		Ticker:         ticker.NewChannels(rawBufferSize, normBufferSize),
		reportInterval: defaultReportInterval,
		log:            logger.GetLogger(),
	}
}

// StartMetricsReporting logs buffer occupancy and send statistics until ctx
// is cancelled.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	t := time.NewTicker(c.reportInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	if c.Ticker == nil {
		return
	}
	stats := c.Ticker.GetStats()
	c.log.WithComponent("channels").WithFields(logger.Fields{
		"raw_sent":         stats.RawSent,
		"raw_dropped":      stats.RawDropped,
		"norm_sent":        stats.NormSent,
		"norm_dropped":     stats.NormDropped,
		"raw_channel_len":  len(c.Ticker.Raw),
		"raw_channel_cap":  cap(c.Ticker.Raw),
		"norm_channel_len": len(c.Ticker.Norm),
		"norm_channel_cap": cap(c.Ticker.Norm),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.Ticker != nil {
		c.Ticker.Close()
	}
}
