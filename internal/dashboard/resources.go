package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"krakenfeed/logger"
)

// runtimeSample is one point of the process runtime history.
type runtimeSample struct {
	Timestamp   time.Time `json:"timestamp"`
	Goroutines  int       `json:"goroutines"`
	HeapAllocMB float64   `json:"heap_alloc_mb"`
	FramesRead  int64     `json:"frames_read"`
	TickersRead int64     `json:"tickers_read"`
	S3Writes    int64     `json:"s3_writes"`
}

type runtimeSampler struct {
	mu       sync.RWMutex
	items    []runtimeSample
	limit    int
	interval time.Duration

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
}

var takeSnapshotFn = logger.TakeSnapshot

func newRuntimeSampler(limit int, interval time.Duration) *runtimeSampler {
	if limit <= 0 {
		limit = 200
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &runtimeSampler{limit: limit, interval: interval}
}

func (r *runtimeSampler) start(parent context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sample()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sample()
			}
		}
	}()
}

func (r *runtimeSampler) stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	r.cancel()
	r.wg.Wait()
}

func (r *runtimeSampler) sample() {
	snap := takeSnapshotFn()
	s := runtimeSample{
		Timestamp:   time.Now(),
		Goroutines:  snap.Goroutines,
		HeapAllocMB: snap.HeapAllocMB,
		FramesRead:  snap.FramesRead,
		TickersRead: snap.TickersRead,
		S3Writes:    snap.S3Writes,
	}

	r.mu.Lock()
	r.items = append(r.items, s)
	if len(r.items) > r.limit {
		r.items = append([]runtimeSample(nil), r.items[len(r.items)-r.limit:]...)
	}
	r.mu.Unlock()
}

func (r *runtimeSampler) snapshot() []runtimeSample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]runtimeSample, len(r.items))
	copy(out, r.items)
	return out
}
