package dashboard

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"krakenfeed/logger"
)

func TestRuntimeSamplerCollectsSamples(t *testing.T) {
	sampler := newRuntimeSampler(3, 10*time.Millisecond)

	original := takeSnapshotFn
	t.Cleanup(func() { takeSnapshotFn = original })

	calls := atomic.Int32{}
	takeSnapshotFn = func() logger.Snapshot {
		calls.Add(1)
		return logger.Snapshot{Goroutines: 12, HeapAllocMB: 3.5, FramesRead: 7}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sampler.start(ctx)

	deadline := time.Now().Add(time.Second)
	for len(sampler.snapshot()) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("runtime sampler did not collect samples in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sampler.stop()

	snapshots := sampler.snapshot()
	if len(snapshots) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(snapshots))
	}
	latest := snapshots[len(snapshots)-1]
	if latest.Goroutines != 12 || latest.HeapAllocMB != 3.5 || latest.FramesRead != 7 {
		t.Fatalf("unexpected sample: %#v", latest)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 snapshots, got %d", calls.Load())
	}
}
