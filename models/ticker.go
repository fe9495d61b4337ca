package models

import "time"

// RawTickerMessage wraps one frame received from the feed.
type RawTickerMessage struct {
	Exchange  string
	Channel   string
	Pair      string
	Data      []byte
	Timestamp time.Time
}

// NormTickerMessage is one ticker update flattened into a row.
type NormTickerMessage struct {
	Pair              string  `json:"pair"`
	ChannelID         int64   `json:"channel_id"`
	AskPrice          float64 `json:"ask_price"`
	AskWholeLotVolume int64   `json:"ask_whole_lot_volume"`
	AskLotVolume      float64 `json:"ask_lot_volume"`
	BidPrice          float64 `json:"bid_price"`
	BidWholeLotVolume int64   `json:"bid_whole_lot_volume"`
	BidLotVolume      float64 `json:"bid_lot_volume"`
	LastPrice         float64 `json:"last_price"`
	LastLotVolume     float64 `json:"last_lot_volume"`
	VolumeToday       float64 `json:"volume_today"`
	Volume24h         float64 `json:"volume_24h"`
	VWAPToday         float64 `json:"vwap_today"`
	VWAP24h           float64 `json:"vwap_24h"`
	TradesToday       int64   `json:"trades_today"`
	Trades24h         int64   `json:"trades_24h"`
	LowToday          float64 `json:"low_today"`
	Low24h            float64 `json:"low_24h"`
	HighToday         float64 `json:"high_today"`
	High24h           float64 `json:"high_24h"`
	OpenToday         float64 `json:"open_today"`
	Open24h           float64 `json:"open_24h"`
	ReceivedTime      int64   `json:"received_time"`
}

// BatchTickerMessage groups normalised rows of one pair.
type BatchTickerMessage struct {
	BatchID     string              `json:"batch_id"`
	Exchange    string              `json:"exchange"`
	Channel     string              `json:"channel"`
	Pair        string              `json:"pair"`
	Entries     []NormTickerMessage `json:"entries"`
	RecordCount int                 `json:"record_count"`
	Timestamp   time.Time           `json:"timestamp"`
	ProcessedAt time.Time           `json:"processed_at"`
}

// Normalize flattens the update. Decimal values are converted to float64,
// which may round beyond 15 significant digits.
func (u TickerUpdate) Normalize(received time.Time) NormTickerMessage {
	t := u.Ticker
	return NormTickerMessage{
		Pair:              u.Pair,
		ChannelID:         u.ChannelID,
		AskPrice:          t.Ask.Price.InexactFloat64(),
		AskWholeLotVolume: t.Ask.WholeLotVolume,
		AskLotVolume:      t.Ask.LotVolume.InexactFloat64(),
		BidPrice:          t.Bid.Price.InexactFloat64(),
		BidWholeLotVolume: t.Bid.WholeLotVolume,
		BidLotVolume:      t.Bid.LotVolume.InexactFloat64(),
		LastPrice:         t.Close.Price.InexactFloat64(),
		LastLotVolume:     t.Close.LotVolume.InexactFloat64(),
		VolumeToday:       t.Volume.Today.InexactFloat64(),
		Volume24h:         t.Volume.Last24Hours.InexactFloat64(),
		VWAPToday:         t.VWAP.Today.InexactFloat64(),
		VWAP24h:           t.VWAP.Last24Hours.InexactFloat64(),
		TradesToday:       t.Trades.Today,
		Trades24h:         t.Trades.Last24Hours,
		LowToday:          t.Low.Today.InexactFloat64(),
		Low24h:            t.Low.Last24Hours.InexactFloat64(),
		HighToday:         t.High.Today.InexactFloat64(),
		High24h:           t.High.Last24Hours.InexactFloat64(),
		OpenToday:         t.Open.Today.InexactFloat64(),
		Open24h:           t.Open.Last24Hours.InexactFloat64(),
		ReceivedTime:      received.UnixMilli(),
	}
}

// Spread returns ask minus bid of a normalised row.
func (m NormTickerMessage) Spread() float64 {
	return m.AskPrice - m.BidPrice
}
