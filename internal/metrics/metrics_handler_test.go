package metrics

import (
	"testing"
	"time"

	"krakenfeed/config"
	"krakenfeed/logger"
)

func resetMetricHandlers() {
	metricHandlersMu.Lock()
	metricHandlers = make(map[MetricHandlerID]MetricHandler)
	nextMetricHandlerID = 0
	metricHandlersMu.Unlock()
}

func TestRegisterMetricHandlerReturnsUniqueIDs(t *testing.T) {
	resetMetricHandlers()

	id := RegisterMetricHandler(func(Metric) {})
	if id == 0 {
		t.Fatalf("expected non-zero handler id")
	}

	second := RegisterMetricHandler(func(Metric) {})
	if second == 0 || second == id {
		t.Fatalf("expected unique handler id")
	}
}

func TestRegisterMetricHandlerNil(t *testing.T) {
	resetMetricHandlers()

	if id := RegisterMetricHandler(nil); id != 0 {
		t.Fatalf("expected zero id for nil handler, got %d", id)
	}
}

func TestEmitMetricDispatchesToHandlers(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) {
		events <- m
	})
	t.Cleanup(func() {
		UnregisterMetricHandler(id)
	})

	fields := logger.Fields{"pair": "XBT/USD", "unit": "count"}
	EmitMetric(logger.Logger(), "kraken_feed", "frames_received", 3, "gauge", fields)

	select {
	case event := <-events:
		if event.Component != "kraken_feed" {
			t.Fatalf("unexpected component: %s", event.Component)
		}
		if event.Name != "frames_received" {
			t.Fatalf("unexpected metric name: %s", event.Name)
		}
		if event.Type != "gauge" {
			t.Fatalf("unexpected metric type: %s", event.Type)
		}
		if _, ok := fields["metric"]; ok {
			t.Fatalf("original fields mutated: %v", fields)
		}
		if _, ok := event.Fields["metric"]; ok {
			t.Fatalf("event fields should not contain metric key: %v", event.Fields)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("metric handler not invoked")
	}
}

func TestEmitMetricDefaultType(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) {
		events <- m
	})
	t.Cleanup(func() {
		UnregisterMetricHandler(id)
	})

	EmitMetric(nil, "ticker_processor", "tickers_processed", 7, "", nil)

	select {
	case event := <-events:
		if event.Type != "counter" {
			t.Fatalf("expected default metric type to be counter, got %s", event.Type)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("metric handler not invoked for default type")
	}
}

func TestEmitMetricWithoutName(t *testing.T) {
	resetMetricHandlers()

	called := false
	id := RegisterMetricHandler(func(Metric) { called = true })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	EmitMetric(nil, "component", "", 1, "counter", nil)
	if called {
		t.Fatal("handler should not receive metrics without a name")
	}
}

func TestEmitMetricDisabledFeature(t *testing.T) {
	resetMetricHandlers()

	Configure(config.MetricsConfig{ChannelSize: false})
	t.Cleanup(func() { Configure(config.MetricsConfig{ChannelSize: true}) })

	var names []string
	id := RegisterMetricHandler(func(m Metric) { names = append(names, m.Name) })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	EmitMetric(nil, "channel_buffers", "ticker_raw_buffer_length", 1, "gauge", nil)
	EmitMetric(nil, "kraken_feed", "frames_received", 1, "counter", nil)

	if len(names) != 1 || names[0] != "frames_received" {
		t.Fatalf("expected only the ungated metric, got %v", names)
	}
}

func TestEmitDropMetricFields(t *testing.T) {
	resetMetricHandlers()

	var got Metric
	id := RegisterMetricHandler(func(m Metric) { got = m })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	EmitDropMetric(nil, DropMetricFeedRaw, "kraken", "ticker", "", "raw")

	if got.Name != string(DropMetricFeedRaw) || got.Component != "channel_drops" {
		t.Fatalf("unexpected metric: %+v", got)
	}
	if _, ok := got.Fields["pair"]; ok {
		t.Fatalf("empty pair should be omitted: %v", got.Fields)
	}
	if got.Fields["exchange"] != "kraken" || got.Fields["stage"] != "raw" {
		t.Fatalf("unexpected fields: %v", got.Fields)
	}
}
