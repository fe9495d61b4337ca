package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
	"golang.org/x/time/rate"

	appconfig "krakenfeed/config"
	"krakenfeed/internal/backoff"
	tickerchan "krakenfeed/internal/channel/ticker"
	"krakenfeed/internal/metrics"
	"krakenfeed/logger"
	"krakenfeed/models"
)

const tickerComponent = "ticker_writer"

// tickerRecord is the parquet row of one ticker update.
type tickerRecord struct {
	Exchange          string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Pair              string  `parquet:"name=pair, type=BYTE_ARRAY, convertedtype=UTF8"`
	ChannelID         int64   `parquet:"name=channel_id, type=INT64"`
	AskPrice          float64 `parquet:"name=ask_price, type=DOUBLE"`
	AskWholeLotVolume int64   `parquet:"name=ask_whole_lot_volume, type=INT64"`
	AskLotVolume      float64 `parquet:"name=ask_lot_volume, type=DOUBLE"`
	BidPrice          float64 `parquet:"name=bid_price, type=DOUBLE"`
	BidWholeLotVolume int64   `parquet:"name=bid_whole_lot_volume, type=INT64"`
	BidLotVolume      float64 `parquet:"name=bid_lot_volume, type=DOUBLE"`
	LastPrice         float64 `parquet:"name=last_price, type=DOUBLE"`
	LastLotVolume     float64 `parquet:"name=last_lot_volume, type=DOUBLE"`
	VolumeToday       float64 `parquet:"name=volume_today, type=DOUBLE"`
	Volume24h         float64 `parquet:"name=volume_24h, type=DOUBLE"`
	VWAPToday         float64 `parquet:"name=vwap_today, type=DOUBLE"`
	VWAP24h           float64 `parquet:"name=vwap_24h, type=DOUBLE"`
	TradesToday       int64   `parquet:"name=trades_today, type=INT64"`
	Trades24h         int64   `parquet:"name=trades_24h, type=INT64"`
	LowToday          float64 `parquet:"name=low_today, type=DOUBLE"`
	Low24h            float64 `parquet:"name=low_24h, type=DOUBLE"`
	HighToday         float64 `parquet:"name=high_today, type=DOUBLE"`
	High24h           float64 `parquet:"name=high_24h, type=DOUBLE"`
	OpenToday         float64 `parquet:"name=open_today, type=DOUBLE"`
	Open24h           float64 `parquet:"name=open_24h, type=DOUBLE"`
	Spread            float64 `parquet:"name=spread, type=DOUBLE"`
	ReceivedTime      int64   `parquet:"name=received_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// memFileWriter keeps the parquet output in memory until upload.
type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// objectPutter is the part of the S3 client the writer uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// TickerWriter buffers normalized ticker batches per pair and uploads them
// to S3 as parquet, on the flush interval, when a buffer reaches MaxSize and
// once more at stop.
type TickerWriter struct {
	config      *appconfig.Config
	channels    *tickerchan.Channels
	s3Client    objectPutter
	limiter     *rate.Limiter
	buffer      map[string][]models.NormTickerMessage
	mu          sync.Mutex
	flushTicker *time.Ticker
	ctx         context.Context
	wg          *sync.WaitGroup
	running     bool
	log         *logger.Log

	batchesWritten atomic.Int64
	filesWritten   atomic.Int64
	bytesWritten   atomic.Int64
	errorsCount    atomic.Int64

	reportInterval time.Duration
}

// NewTickerWriter creates the S3 client from the storage section. Static
// credentials are used when both keys are set, the default chain otherwise.
func NewTickerWriter(cfg *appconfig.Config, channels *tickerchan.Channels) (*TickerWriter, error) {
	ctx := context.Background()
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})
	return newTickerWriter(cfg, channels, s3Client), nil
}

func newTickerWriter(cfg *appconfig.Config, channels *tickerchan.Channels, client objectPutter) *TickerWriter {
	limit := rate.Inf
	if rps := cfg.Writer.RateLimit.RequestsPerSecond; rps > 0 {
		limit = rate.Limit(rps)
	}
	burst := cfg.Writer.RateLimit.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &TickerWriter{
		config:         cfg,
		channels:       channels,
		s3Client:       client,
		limiter:        rate.NewLimiter(limit, burst),
		buffer:         make(map[string][]models.NormTickerMessage),
		wg:             &sync.WaitGroup{},
		log:            logger.GetLogger(),
		reportInterval: 30 * time.Second,
	}
}

func (w *TickerWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("ticker writer already running")
	}
	w.running = true
	w.ctx = ctx
	interval := w.config.Writer.Buffer.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	w.flushTicker = time.NewTicker(interval)
	w.mu.Unlock()

	workers := w.config.Writer.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	w.wg.Add(2)
	go w.flushLoop()
	go w.metricsReporter()

	w.log.WithComponent(tickerComponent).WithFields(logger.Fields{
		"bucket":         w.config.Storage.S3.Bucket,
		"workers":        workers,
		"flush_interval": interval.String(),
	}).Info("ticker writer started")
	return nil
}

// Stop waits for the workers, drains the norm channel and uploads whatever
// is still buffered.
func (w *TickerWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	w.wg.Wait()
	w.drain()
	w.flushBuffers()
	metrics.ReportWriter(w.log, tickerComponent, w.Stats())
	w.log.WithComponent(tickerComponent).Info("ticker writer stopped")
}

func (w *TickerWriter) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten: w.batchesWritten.Load(),
		FilesWritten:   w.filesWritten.Load(),
		BytesWritten:   w.bytesWritten.Load(),
		ErrorsCount:    w.errorsCount.Load(),
		NormChannelLen: len(w.channels.Norm),
		NormChannelCap: cap(w.channels.Norm),
	}
}

func (w *TickerWriter) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case batch, ok := <-w.channels.Norm:
			if !ok {
				return
			}
			w.addBatch(batch)
		}
	}
}

// drain takes the batches still queued on the norm channel, such as the
// ones the processor flushed while shutting down.
func (w *TickerWriter) drain() {
	for {
		select {
		case batch, ok := <-w.channels.Norm:
			if !ok {
				return
			}
			w.addBatch(batch)
		default:
			return
		}
	}
}

func bufferKey(exchange, channel, pair string) string {
	return exchange + "|" + channel + "|" + pair
}

func (w *TickerWriter) addBatch(batch models.BatchTickerMessage) {
	key := bufferKey(batch.Exchange, batch.Channel, batch.Pair)
	w.mu.Lock()
	w.buffer[key] = append(w.buffer[key], batch.Entries...)
	size := len(w.buffer[key])
	w.mu.Unlock()

	if w.config.Writer.Buffer.MaxSize > 0 && size >= w.config.Writer.Buffer.MaxSize {
		w.flushKey(key)
	}
}

func (w *TickerWriter) flushKey(key string) {
	w.mu.Lock()
	entries, ok := w.buffer[key]
	if !ok || len(entries) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.buffer, key)
	w.mu.Unlock()

	w.writeBatch(newBatch(key, entries))
}

func (w *TickerWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushBuffers()
		}
	}
}

func (w *TickerWriter) flushBuffers() {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string][]models.NormTickerMessage)
	w.mu.Unlock()

	for key, entries := range buffers {
		if len(entries) == 0 {
			continue
		}
		w.writeBatch(newBatch(key, entries))
	}
}

func newBatch(key string, entries []models.NormTickerMessage) models.BatchTickerMessage {
	parts := strings.SplitN(key, "|", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return models.BatchTickerMessage{
		BatchID:     uuid.New().String(),
		Exchange:    parts[0],
		Channel:     parts[1],
		Pair:        parts[2],
		Entries:     entries,
		RecordCount: len(entries),
		Timestamp:   time.Now().UTC(),
	}
}

func (w *TickerWriter) writeBatch(batch models.BatchTickerMessage) {
	start := time.Now()
	log := w.log.WithComponent(tickerComponent).WithFields(logger.Fields{
		"batch_id": batch.BatchID,
		"pair":     batch.Pair,
	})

	data, err := w.createParquet(batch)
	if err != nil {
		w.errorsCount.Add(1)
		log.WithError(err).Error("create parquet failed")
		return
	}
	key := w.s3Key(batch)
	if err := w.upload(key, data); err != nil {
		w.errorsCount.Add(1)
		log.WithError(err).WithFields(logger.Fields{"s3_key": key}).Error("upload to s3 failed")
		return
	}

	size := int64(len(data))
	w.batchesWritten.Add(1)
	w.filesWritten.Add(1)
	w.bytesWritten.Add(size)
	logger.IncrementS3Write(size)

	duration := time.Since(start)
	fields := logger.Fields{
		"s3_key":  key,
		"records": batch.RecordCount,
		"bytes":   size,
	}
	if duration > 0 {
		fields["throughput_bytes_per_sec"] = float64(size) / duration.Seconds()
	}
	logger.LogPerformanceEntry(log, tickerComponent, "upload_batch", duration, fields)
	logger.LogDataFlowEntry(log, tickerComponent, "s3", batch.RecordCount, "ticker_parquet")
}

func (w *TickerWriter) compression() parquet.CompressionCodec {
	switch strings.ToLower(w.config.Writer.Formats.Parquet.Compression) {
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "zstd":
		return parquet.CompressionCodec_ZSTD
	case "lz4":
		return parquet.CompressionCodec_LZ4
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED
	default:
		return parquet.CompressionCodec_SNAPPY
	}
}

func (w *TickerWriter) createParquet(batch models.BatchTickerMessage) ([]byte, error) {
	mw := newMemFileWriter()
	pw, err := writer.NewParquetWriter(mw, new(tickerRecord), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = w.compression()
	for _, e := range batch.Entries {
		rec := tickerRecord{
			Exchange:          batch.Exchange,
			Pair:              e.Pair,
			ChannelID:         e.ChannelID,
			AskPrice:          e.AskPrice,
			AskWholeLotVolume: e.AskWholeLotVolume,
			AskLotVolume:      e.AskLotVolume,
			BidPrice:          e.BidPrice,
			BidWholeLotVolume: e.BidWholeLotVolume,
			BidLotVolume:      e.BidLotVolume,
			LastPrice:         e.LastPrice,
			LastLotVolume:     e.LastLotVolume,
			VolumeToday:       e.VolumeToday,
			Volume24h:         e.Volume24h,
			VWAPToday:         e.VWAPToday,
			VWAP24h:           e.VWAP24h,
			TradesToday:       e.TradesToday,
			Trades24h:         e.Trades24h,
			LowToday:          e.LowToday,
			Low24h:            e.Low24h,
			HighToday:         e.HighToday,
			High24h:           e.High24h,
			OpenToday:         e.OpenToday,
			Open24h:           e.Open24h,
			Spread:            e.Spread(),
			ReceivedTime:      e.ReceivedTime,
		}
		if err := pw.Write(rec); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mw.Bytes(), nil
}

// upload puts data under key, waiting on the rate limiter before each
// attempt and retrying with exponential backoff.
func (w *TickerWriter) upload(key string, data []byte) error {
	ctx := context.Background()
	if w.ctx != nil {
		ctx = context.WithoutCancel(w.ctx)
	}
	log := w.log.WithComponent(tickerComponent).WithFields(logger.Fields{"s3_key": key})
	onRetry := func(error, time.Duration) { metrics.IncUploadRetries() }

	return backoff.Retry(ctx, backoff.FromRetryConfig(w.config.Writer.Retry), log, onRetry, func(ctx context.Context) error {
		if err := w.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		_, err := w.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(w.config.Storage.S3.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/vnd.apache.parquet"),
		})
		return err
	})
}

func (w *TickerWriter) metricsReporter() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			running := w.running
			w.mu.Unlock()
			if !running {
				return
			}
			metrics.ReportWriter(w.log, tickerComponent, w.Stats())
		}
	}
}

// pathSafe drops the slash of pairs such as XBT/USD.
func pathSafe(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

func (w *TickerWriter) s3Key(batch models.BatchTickerMessage) string {
	timestamp := batch.Timestamp
	pair := pathSafe(batch.Pair)

	var parts []string
	for _, k := range w.config.Writer.Partitioning.AdditionalKeys {
		switch k {
		case "exchange":
			parts = append(parts, fmt.Sprintf("exchange=%s", batch.Exchange))
		case "channel":
			parts = append(parts, fmt.Sprintf("channel=%s", batch.Channel))
		case "pair":
			parts = append(parts, fmt.Sprintf("pair=%s", pair))
		}
	}

	timePath := w.config.Writer.Partitioning.TimeFormat
	timePath = strings.ReplaceAll(timePath, "{year}", fmt.Sprintf("%04d", timestamp.Year()))
	timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", int(timestamp.Month())))
	timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", timestamp.Day()))
	timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", timestamp.Hour()))
	if timePath != "" {
		parts = append(parts, timePath)
	}

	filename := fmt.Sprintf("%s_%s_%s_%d.parquet", batch.Exchange, batch.Channel, pair, timestamp.UnixNano())
	return filepath.ToSlash(filepath.Join(append(parts, filename)...))
}
