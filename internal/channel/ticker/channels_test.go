package ticker

import (
	"context"
	"testing"

	"krakenfeed/models"
)

func TestSendRawDropsWhenFull(t *testing.T) {
	ch := NewChannels(1, 1)
	ctx := context.Background()

	if !ch.SendRaw(ctx, models.RawTickerMessage{Data: []byte("a")}) {
		t.Fatal("first send should succeed")
	}
	if ch.SendRaw(ctx, models.RawTickerMessage{Data: []byte("b")}) {
		t.Fatal("second send should be dropped")
	}

	stats := ch.GetStats()
	if stats.RawSent != 1 || stats.RawDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := <-ch.Raw; string(got.Data) != "a" {
		t.Fatalf("unexpected message: %s", got.Data)
	}
}

func TestSendNormHonoursCancelledContext(t *testing.T) {
	ch := NewChannels(1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ch.SendNorm(ctx, models.BatchTickerMessage{Pair: "XBT/USD"}) {
		t.Fatal("send on unbuffered channel without reader should fail")
	}
	if stats := ch.GetStats(); stats.NormSent != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ch := NewChannels(1, 1)
	ch.Close()
	ch.Close()
	if _, ok := <-ch.Raw; ok {
		t.Fatal("raw channel should be closed")
	}
}
