package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// EVENTS ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Event names sent by the Kraken public feed as JSON objects.
const (
	EventHeartbeat          = "heartbeat"
	EventSystemStatus       = "systemStatus"
	EventSubscriptionStatus = "subscriptionStatus"
	EventPong               = "pong"
	EventError              = "error"
	EventSubscribe          = "subscribe"
)

// ChannelTicker is the channel name carried by ticker arrays.
const ChannelTicker = "ticker"

// SubscriptionSpec names the channel of a subscribe request.
type SubscriptionSpec struct {
	Name string `json:"name"`
}

// SubscriptionRequest is the subscribe message understood by the feed.
type SubscriptionRequest struct {
	Event        string           `json:"event"`
	Subscription SubscriptionSpec `json:"subscription"`
	Pair         []string         `json:"pair"`
}

// TickerSubscription builds a ticker subscribe request for the given pairs.
func TickerSubscription(pairs ...string) SubscriptionRequest {
	return SubscriptionRequest{
		Event:        EventSubscribe,
		Subscription: SubscriptionSpec{Name: ChannelTicker},
		Pair:         pairs,
	}
}

// Event covers every object-shaped message: heartbeat, systemStatus,
// subscriptionStatus, pong and error.
type Event struct {
	Event        string            `json:"event"`
	Status       string            `json:"status,omitempty"`
	ConnectionID uint64            `json:"connectionID,omitempty"`
	Version      string            `json:"version,omitempty"`
	ChannelID    int64             `json:"channelID,omitempty"`
	ChannelName  string            `json:"channelName,omitempty"`
	Pair         string            `json:"pair,omitempty"`
	ReqID        int64             `json:"reqid,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Subscription *SubscriptionSpec `json:"subscription,omitempty"`
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// TICKER ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// PriceLevel is the best ask or bid: [price, wholeLotVolume, lotVolume].
type PriceLevel struct {
	Price          decimal.Decimal
	WholeLotVolume int64
	LotVolume      decimal.Decimal
}

func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("price level: %w", err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("price level: expected 3 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &l.Price); err != nil {
		return fmt.Errorf("price level price: %w", err)
	}
	if err := json.Unmarshal(parts[1], &l.WholeLotVolume); err != nil {
		return fmt.Errorf("price level whole lot volume: %w", err)
	}
	if err := json.Unmarshal(parts[2], &l.LotVolume); err != nil {
		return fmt.Errorf("price level lot volume: %w", err)
	}
	return nil
}

// TradeLevel is the last trade: [price, lotVolume].
type TradeLevel struct {
	Price     decimal.Decimal
	LotVolume decimal.Decimal
}

func (l *TradeLevel) UnmarshalJSON(data []byte) error {
	var parts []decimal.Decimal
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("trade level: %w", err)
	}
	if len(parts) != 2 {
		return fmt.Errorf("trade level: expected 2 elements, got %d", len(parts))
	}
	l.Price, l.LotVolume = parts[0], parts[1]
	return nil
}

// DecimalWindow holds a value for today and for the last 24 hours.
type DecimalWindow struct {
	Today       decimal.Decimal
	Last24Hours decimal.Decimal
}

func (w *DecimalWindow) UnmarshalJSON(data []byte) error {
	var parts []decimal.Decimal
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decimal window: %w", err)
	}
	if len(parts) != 2 {
		return fmt.Errorf("decimal window: expected 2 elements, got %d", len(parts))
	}
	w.Today, w.Last24Hours = parts[0], parts[1]
	return nil
}

// IntWindow is DecimalWindow for integer counters such as trade counts.
type IntWindow struct {
	Today       int64
	Last24Hours int64
}

func (w *IntWindow) UnmarshalJSON(data []byte) error {
	var parts []int64
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("int window: %w", err)
	}
	if len(parts) != 2 {
		return fmt.Errorf("int window: expected 2 elements, got %d", len(parts))
	}
	w.Today, w.Last24Hours = parts[0], parts[1]
	return nil
}

// Ticker is the payload object of a ticker update.
type Ticker struct {
	Ask    PriceLevel    `json:"a"`
	Bid    PriceLevel    `json:"b"`
	Close  TradeLevel    `json:"c"`
	Volume DecimalWindow `json:"v"`
	VWAP   DecimalWindow `json:"p"`
	Trades IntWindow     `json:"t"`
	Low    DecimalWindow `json:"l"`
	High   DecimalWindow `json:"h"`
	Open   DecimalWindow `json:"o"`
}

// TickerUpdate is a decoded [channelID, {...}, "ticker", pair] array.
type TickerUpdate struct {
	ChannelID   int64
	Ticker      Ticker
	ChannelName string
	Pair        string
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// FRAMES ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameEvent
	FrameTicker
)

func (k FrameKind) String() string {
	switch k {
	case FrameEvent:
		return "event"
	case FrameTicker:
		return "ticker"
	default:
		return "unknown"
	}
}

// Frame is one classified inbound message. Exactly one of Event or Ticker is
// set when Kind is FrameEvent or FrameTicker.
type Frame struct {
	Kind   FrameKind
	Event  *Event
	Ticker *TickerUpdate
}

// DecodeFrame classifies a raw frame. Arrays for channels other than ticker
// come back as FrameUnknown without error; frames that are not JSON objects
// or arrays are an error.
func DecodeFrame(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Frame{}, fmt.Errorf("empty frame")
	}

	switch trimmed[0] {
	case '{':
		var evt Event
		if err := json.Unmarshal(trimmed, &evt); err != nil {
			return Frame{}, fmt.Errorf("decode event: %w", err)
		}
		return Frame{Kind: FrameEvent, Event: &evt}, nil
	case '[':
		return decodeChannelArray(trimmed)
	default:
		return Frame{}, fmt.Errorf("unrecognised frame starting with %q", trimmed[0])
	}
}

func decodeChannelArray(data []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return Frame{}, fmt.Errorf("decode channel array: %w", err)
	}
	if len(parts) < 4 {
		return Frame{}, fmt.Errorf("channel array: expected 4 elements, got %d", len(parts))
	}

	// channel name and pair are the last two elements
	var name, pair string
	if err := json.Unmarshal(parts[len(parts)-2], &name); err != nil {
		return Frame{}, fmt.Errorf("channel name: %w", err)
	}
	if err := json.Unmarshal(parts[len(parts)-1], &pair); err != nil {
		return Frame{}, fmt.Errorf("channel pair: %w", err)
	}
	if name != ChannelTicker {
		return Frame{Kind: FrameUnknown}, nil
	}

	update := TickerUpdate{ChannelName: name, Pair: pair}
	if err := json.Unmarshal(parts[0], &update.ChannelID); err != nil {
		return Frame{}, fmt.Errorf("channel id: %w", err)
	}
	if err := json.Unmarshal(parts[1], &update.Ticker); err != nil {
		return Frame{}, fmt.Errorf("ticker payload: %w", err)
	}
	return Frame{Kind: FrameTicker, Ticker: &update}, nil
}
