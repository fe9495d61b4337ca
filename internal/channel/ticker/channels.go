package ticker

import (
	"context"
	"sync"

	"krakenfeed/logger"
	"krakenfeed/models"
)

type ChannelStats struct {
	RawSent     int64
	NormSent    int64
	RawDropped  int64
	NormDropped int64
}

// Channels connects the feed, the ticker processor and the writer.
type Channels struct {
	Raw  chan models.RawTickerMessage
	Norm chan models.BatchTickerMessage

	stats      ChannelStats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewChannels(rawBufferSize, normBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:  make(chan models.RawTickerMessage, rawBufferSize),
		Norm: make(chan models.BatchTickerMessage, normBufferSize),
		log:  log,
	}

	log.WithComponent("ticker_channels").WithFields(logger.Fields{
		"raw_buffer_size":  rawBufferSize,
		"norm_buffer_size": normBufferSize,
	}).Info("ticker channels initialized")

	return c
}

// Close closes both channels. Only the first call has an effect.
func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Raw)
		close(c.Norm)
		c.log.WithComponent("ticker_channels").Info("ticker channels closed")
	})
}

// SendRaw never blocks: a full buffer drops msg and counts it.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawTickerMessage) bool {
	select {
	case c.Raw <- msg:
		c.statsMutex.Lock()
		c.stats.RawSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.RawDropped++
		c.statsMutex.Unlock()
		return false
	}
}

// SendNorm never blocks: a full buffer drops msg and counts it.
func (c *Channels) SendNorm(ctx context.Context, msg models.BatchTickerMessage) bool {
	select {
	case c.Norm <- msg:
		c.statsMutex.Lock()
		c.stats.NormSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.NormDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
