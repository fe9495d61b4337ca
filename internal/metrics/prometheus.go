package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"krakenfeed/logger"
)

// Registers:
//
//	krakenfeed_frames_received_total
//	krakenfeed_subscriptions_sent_total
//	krakenfeed_messages_dropped_total{metric}
//	krakenfeed_tickers_decoded_total{pair}
//	krakenfeed_s3_upload_retries_total
//	go_* and process_* system metrics
var (
	registry = prometheus.NewRegistry()

	framesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "krakenfeed_frames_received_total",
		Help: "Frames received on the feed connection",
	})
	subscriptionsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "krakenfeed_subscriptions_sent_total",
		Help: "Subscription requests written to the feed connection",
	})
	droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "krakenfeed_messages_dropped_total",
		Help: "Messages dropped because a channel buffer was full",
	}, []string{"metric"})
	tickersDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "krakenfeed_tickers_decoded_total",
		Help: "Ticker updates decoded per pair",
	}, []string{"pair"})
	uploadRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "krakenfeed_s3_upload_retries_total",
		Help: "Retried S3 uploads",
	})
)

func init() {
	registry.MustRegister(
		framesReceived,
		subscriptionsSent,
		droppedTotal,
		tickersDecoded,
		uploadRetries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func IncFramesReceived() { framesReceived.Inc() }

func IncSubscriptionsSent() { subscriptionsSent.Inc() }

func IncTickersDecoded(pair string) { tickersDecoded.WithLabelValues(pair).Inc() }

func IncUploadRetries() { uploadRetries.Inc() }

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logger.GetLogger().WithComponent("prometheus").WithFields(logger.Fields{"address": addr}).Info("serving prometheus metrics")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
