package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tickerFrame = `[340,{"a":["38784.90000",1,"1.34542395"],"b":["38784.80000",1,"1.54687685"],"c":["38784.90000","0.00058989"],"v":["3485.87146780","3486.74306333"],"p":["38998.32900","38998.43866"],"t":[28980,29021],"l":["38251.50000","38251.50000"],"h":["40222.40000","40222.40000"],"o":["39435.80000","39483.10000"]},"ticker","XBT/USD"]`

func TestDecodeFrameTicker(t *testing.T) {
	frame, err := DecodeFrame([]byte(tickerFrame))
	require.NoError(t, err)
	require.Equal(t, FrameTicker, frame.Kind)
	require.NotNil(t, frame.Ticker)

	update := frame.Ticker
	assert.Equal(t, int64(340), update.ChannelID)
	assert.Equal(t, "ticker", update.ChannelName)
	assert.Equal(t, "XBT/USD", update.Pair)

	tk := update.Ticker
	assert.Equal(t, "38784.9", tk.Ask.Price.String())
	assert.Equal(t, int64(1), tk.Ask.WholeLotVolume)
	assert.Equal(t, "1.54687685", tk.Bid.LotVolume.String())
	assert.Equal(t, "0.00058989", tk.Close.LotVolume.String())
	assert.Equal(t, int64(28980), tk.Trades.Today)
	assert.Equal(t, int64(29021), tk.Trades.Last24Hours)
	assert.Equal(t, "40222.4", tk.High.Today.String())
	assert.Equal(t, "39483.1", tk.Open.Last24Hours.String())
}

func TestDecodeFrameEvents(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		check func(t *testing.T, evt *Event)
	}{
		{
			name:  "heartbeat",
			frame: `{"event":"heartbeat"}`,
			check: func(t *testing.T, evt *Event) { assert.Equal(t, EventHeartbeat, evt.Event) },
		},
		{
			name:  "system status",
			frame: `{"connectionID":8628615390848610000,"event":"systemStatus","status":"online","version":"1.0.0"}`,
			check: func(t *testing.T, evt *Event) {
				assert.Equal(t, EventSystemStatus, evt.Event)
				assert.Equal(t, "online", evt.Status)
				assert.Equal(t, uint64(8628615390848610000), evt.ConnectionID)
			},
		},
		{
			name:  "subscription status",
			frame: `{"channelID":340,"channelName":"ticker","event":"subscriptionStatus","pair":"XBT/USD","status":"subscribed","subscription":{"name":"ticker"}}`,
			check: func(t *testing.T, evt *Event) {
				assert.Equal(t, EventSubscriptionStatus, evt.Event)
				assert.Equal(t, "subscribed", evt.Status)
				assert.Equal(t, int64(340), evt.ChannelID)
				require.NotNil(t, evt.Subscription)
				assert.Equal(t, ChannelTicker, evt.Subscription.Name)
			},
		},
		{
			name:  "error",
			frame: `{"errorMessage":"Currency pair not supported","event":"subscriptionStatus","status":"error"}`,
			check: func(t *testing.T, evt *Event) {
				assert.Equal(t, "error", evt.Status)
				assert.Equal(t, "Currency pair not supported", evt.ErrorMessage)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tc.frame))
			require.NoError(t, err)
			require.Equal(t, FrameEvent, frame.Kind)
			tc.check(t, frame.Event)
		})
	}
}

func TestDecodeFrameOtherChannel(t *testing.T) {
	frame, err := DecodeFrame([]byte(`[42,[["5541.2","0.1","1534614248.1","s","l",""]],"trade","XBT/USD"]`))
	require.NoError(t, err)
	assert.Equal(t, FrameUnknown, frame.Kind)
	assert.Nil(t, frame.Ticker)
}

func TestDecodeFrameErrors(t *testing.T) {
	for _, raw := range []string{
		"",
		"pong",
		"tick-1",
		`[1,{},"ticker"]`,
		`[1,{"a":["abc",1,"1.0"]},"ticker","XBT/USD"]`,
		`[1,{"a":["1.0",1]},"ticker","XBT/USD"]`,
		`{"event":`,
	} {
		_, err := DecodeFrame([]byte(raw))
		assert.Error(t, err, "frame %q", raw)
	}
}

func TestTickerSubscriptionMatchesWireLiteral(t *testing.T) {
	literal := `{"event":"subscribe", "subscription":{"name":"ticker"}, "pair":["XBT/USD"]}`

	var decoded SubscriptionRequest
	require.NoError(t, json.Unmarshal([]byte(literal), &decoded))
	assert.Equal(t, TickerSubscription("XBT/USD"), decoded)
}

func TestNormalize(t *testing.T) {
	frame, err := DecodeFrame([]byte(tickerFrame))
	require.NoError(t, err)

	recv := time.UnixMilli(1700000000000)
	row := frame.Ticker.Normalize(recv)

	assert.Equal(t, "XBT/USD", row.Pair)
	assert.InDelta(t, 38784.9, row.AskPrice, 1e-9)
	assert.InDelta(t, 38784.8, row.BidPrice, 1e-9)
	assert.InDelta(t, 0.1, row.Spread(), 1e-6)
	assert.InDelta(t, 3485.8714678, row.VolumeToday, 1e-9)
	assert.Equal(t, int64(29021), row.Trades24h)
	assert.Equal(t, int64(1700000000000), row.ReceivedTime)
}
