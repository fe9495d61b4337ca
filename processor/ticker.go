package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appconfig "krakenfeed/config"
	tickerchan "krakenfeed/internal/channel/ticker"
	"krakenfeed/internal/metrics"
	"krakenfeed/logger"
	"krakenfeed/models"
)

const tickerComponent = "ticker_processor"

// TickerProcessor decodes raw feed frames, normalizes ticker updates and
// batches them per pair before handing them to the writer.
type TickerProcessor struct {
	config   *appconfig.Config
	channels *tickerchan.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	batches   map[string]*models.BatchTickerMessage
	lastFlush map[string]time.Time

	framesProcessed  atomic.Int64
	tickersProcessed atomic.Int64
	eventsSeen       atomic.Int64
	framesSkipped    atomic.Int64
	errorsCount      atomic.Int64
	batchesFlushed   atomic.Int64

	flushInterval  time.Duration
	reportInterval time.Duration
}

func NewTickerProcessor(cfg *appconfig.Config, channels *tickerchan.Channels) *TickerProcessor {
	return &TickerProcessor{
		config:         cfg,
		channels:       channels,
		wg:             &sync.WaitGroup{},
		log:            logger.GetLogger(),
		batches:        make(map[string]*models.BatchTickerMessage),
		lastFlush:      make(map[string]time.Time),
		flushInterval:  time.Second,
		reportInterval: 30 * time.Second,
	}
}

// Start launches the workers, the timeout flusher and the stats reporter.
func (p *TickerProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("ticker processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent(tickerComponent).WithFields(logger.Fields{"operation": "start"})
	log.Info("starting ticker processor")

	workers := p.config.Processor.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.wg.Add(2)
	go p.flusher()
	go p.metricsReporter(ctx)

	log.WithFields(logger.Fields{"workers": workers}).Info("ticker processor started")
	return nil
}

// Stop flushes every open batch and waits for the goroutines. The context
// passed to Start must be cancelled or the raw channel closed for the
// workers to return.
func (p *TickerProcessor) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent(tickerComponent).Info("stopping ticker processor")
	p.wg.Wait()
	p.flushAll()
	p.log.WithComponent(tickerComponent).Info("ticker processor stopped")
}

func (p *TickerProcessor) Stats() metrics.ProcessorStats {
	p.mu.RLock()
	active := len(p.batches)
	p.mu.RUnlock()
	return metrics.ProcessorStats{
		FramesProcessed:  p.framesProcessed.Load(),
		TickersProcessed: p.tickersProcessed.Load(),
		EventsSeen:       p.eventsSeen.Load(),
		FramesSkipped:    p.framesSkipped.Load(),
		ErrorsCount:      p.errorsCount.Load(),
		BatchesFlushed:   p.batchesFlushed.Load(),
		ActiveBatches:    active,
		RawChannelLen:    len(p.channels.Raw),
		RawChannelCap:    cap(p.channels.Raw),
		NormChannelLen:   len(p.channels.Norm),
		NormChannelCap:   cap(p.channels.Norm),
	}
}

func (p *TickerProcessor) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.channels.Raw:
			if !ok {
				return
			}
			p.handleMessage(msg)
		}
	}
}

func (p *TickerProcessor) handleMessage(raw models.RawTickerMessage) {
	p.framesProcessed.Add(1)
	log := p.log.WithComponent(tickerComponent).WithFields(logger.Fields{
		"exchange": raw.Exchange,
		"pair":     raw.Pair,
	})

	frame, err := models.DecodeFrame(raw.Data)
	if err != nil {
		p.errorsCount.Add(1)
		log.WithError(err).Debug("skipping undecodable frame")
		return
	}

	switch frame.Kind {
	case models.FrameEvent:
		p.eventsSeen.Add(1)
		p.handleEvent(log, frame.Event)
	case models.FrameTicker:
		update := frame.Ticker
		p.tickersProcessed.Add(1)
		metrics.IncTickersDecoded(update.Pair)
		logger.IncrementTickerRead(len(raw.Data))
		p.addToBatch(raw, update.Normalize(raw.Timestamp))
	default:
		p.framesSkipped.Add(1)
	}
}

func (p *TickerProcessor) handleEvent(log *logger.Entry, evt *models.Event) {
	if evt == nil {
		return
	}
	switch evt.Event {
	case models.EventHeartbeat:
	case models.EventSubscriptionStatus:
		fields := logger.Fields{"status": evt.Status, "channel_id": evt.ChannelID, "event_pair": evt.Pair}
		if evt.Status == "error" {
			log.WithFields(fields).WithFields(logger.Fields{"error_message": evt.ErrorMessage}).Warn("subscription rejected")
			return
		}
		log.WithFields(fields).Info("subscription status")
	case models.EventSystemStatus:
		log.WithFields(logger.Fields{"status": evt.Status, "version": evt.Version}).Info("system status")
	case models.EventError:
		log.WithFields(logger.Fields{"error_message": evt.ErrorMessage}).Warn("feed reported an error")
	default:
		log.WithFields(logger.Fields{"event": evt.Event}).Debug("unhandled event")
	}
}

func (p *TickerProcessor) addToBatch(raw models.RawTickerMessage, entry models.NormTickerMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pair := entry.Pair
	if pair == "" {
		pair = raw.Pair
	}
	key := fmt.Sprintf("%s_%s_%s", raw.Exchange, raw.Channel, pair)
	batch, ok := p.batches[key]
	if !ok {
		batch = &models.BatchTickerMessage{
			BatchID:     uuid.New().String(),
			Exchange:    raw.Exchange,
			Channel:     raw.Channel,
			Pair:        pair,
			Entries:     make([]models.NormTickerMessage, 0, p.config.Processor.BatchSize),
			Timestamp:   raw.Timestamp,
			ProcessedAt: time.Now(),
		}
		p.batches[key] = batch
		p.lastFlush[key] = time.Now()
	}

	batch.Entries = append(batch.Entries, entry)
	batch.RecordCount = len(batch.Entries)
	if raw.Timestamp.After(batch.Timestamp) {
		batch.Timestamp = raw.Timestamp
	}

	if batch.RecordCount >= p.config.Processor.BatchSize {
		p.flush(p.ctx, key)
	}
}

func (p *TickerProcessor) flusher() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.flushTimedOut()
		}
	}
}

func (p *TickerProcessor) flushTimedOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for k, t := range p.lastFlush {
		if now.Sub(t) >= p.config.Processor.BatchTimeout {
			p.flush(p.ctx, k)
		}
	}
}

// flush hands the batch under key to the writer. p.mu must be held. A
// batch the norm channel cannot take is dropped.
func (p *TickerProcessor) flush(ctx context.Context, key string) {
	batch, ok := p.batches[key]
	if !ok || batch.RecordCount == 0 {
		return
	}
	if p.channels.SendNorm(ctx, *batch) {
		p.batchesFlushed.Add(1)
		logger.LogDataFlowEntry(p.log.WithComponent(tickerComponent), "ticker_processor", "ticker_writer", batch.RecordCount, "ticker_batch")
	} else {
		if ctx.Err() != nil {
			return
		}
		metrics.EmitDropMetric(p.log, metrics.DropMetricTickerNorm, batch.Exchange, batch.Channel, batch.Pair, "norm")
		p.log.WithComponent(tickerComponent).WithFields(logger.Fields{
			"batch_key":    key,
			"record_count": batch.RecordCount,
		}).Warn("norm ticker channel full, dropping batch")
	}
	delete(p.batches, key)
	delete(p.lastFlush, key)
}

// flushAll runs after the workers have returned, when the start context is
// usually cancelled already.
func (p *TickerProcessor) flushAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := context.Background()
	if p.ctx != nil {
		ctx = context.WithoutCancel(p.ctx)
	}
	for k := range p.batches {
		p.flush(ctx, k)
	}
}

func (p *TickerProcessor) metricsReporter(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			running := p.running
			p.mu.RUnlock()
			if !running {
				return
			}
			metrics.ReportProcessor(p.log, tickerComponent, p.Stats())
		}
	}
}
