package logger

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// ChannelStat counts messages and bytes that passed a named stage.
type ChannelStat struct {
	Messages int64 `json:"messages"`
	Bytes    int64 `json:"bytes"`
}

type channelStat struct {
	messages int64
	bytes    int64
}

// Snapshot is a point-in-time copy of the process counters.
type Snapshot struct {
	Warns       map[string]int64
	Errors      map[string]int64
	FramesRead  int64
	TickersRead int64
	S3Writes    int64
	Goroutines  int
	HeapAllocMB float64
	Channels    map[string]ChannelStat
}

var (
	warnCounts  sync.Map // component -> *int64
	errorCounts sync.Map // component -> *int64
	framesRead  int64
	tickersRead int64
	s3Writes    int64
	channels    sync.Map // name -> *channelStat
)

func incrementComponent(m *sync.Map, component string) {
	v, _ := m.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string) {
	incrementComponent(&warnCounts, component)
}

func recordError(component string) {
	incrementComponent(&errorCounts, component)
}

// IncrementFrameRead counts one websocket frame received from the feed.
func IncrementFrameRead(size int) {
	atomic.AddInt64(&framesRead, 1)
	recordChannel("feed_ws", size)
}

// IncrementTickerRead counts one decoded ticker update.
func IncrementTickerRead(size int) {
	atomic.AddInt64(&tickersRead, 1)
	recordChannel("ticker_decoded", size)
}

// IncrementS3Write counts one object uploaded to S3.
func IncrementS3Write(size int64) {
	atomic.AddInt64(&s3Writes, 1)
	recordChannel("s3_ticker_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func loadCounts(m *sync.Map) map[string]int64 {
	out := make(map[string]int64)
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// Counters returns the warn and error counts per component.
func Counters() (warns, errors map[string]int64) {
	return loadCounts(&warnCounts), loadCounts(&errorCounts)
}

// TakeSnapshot collects the current counters and runtime memory statistics.
func TakeSnapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	warns, errs := Counters()
	snap := Snapshot{
		Warns:       warns,
		Errors:      errs,
		FramesRead:  atomic.LoadInt64(&framesRead),
		TickersRead: atomic.LoadInt64(&tickersRead),
		S3Writes:    atomic.LoadInt64(&s3Writes),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
		Channels:    make(map[string]ChannelStat),
	}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		snap.Channels[k.(string)] = ChannelStat{
			Messages: atomic.LoadInt64(&cs.messages),
			Bytes:    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})
	return snap
}
