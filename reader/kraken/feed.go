package kraken

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	appconfig "krakenfeed/config"
	tickerchan "krakenfeed/internal/channel/ticker"
	"krakenfeed/internal/metrics"
	"krakenfeed/logger"
	"krakenfeed/models"
)

const (
	// Endpoint is the public Kraken websocket feed.
	Endpoint = "wss://ws.kraken.com"

	// SubscribedPair is the only pair the client subscribes to.
	SubscribedPair = "XBT/USD"

	// SubscribeTickerXBTUSD is written byte for byte as the one subscription.
	SubscribeTickerXBTUSD = `{"event":"subscribe", "subscription":{"name":"ticker"}, "pair":["XBT/USD"]}`

	exchangeName          = "kraken"
	component             = "kraken_feed"
	defaultReportInterval = 30 * time.Second
)

var (
	ErrAlreadyStarted = errors.New("kraken feed already started")
	ErrNotConnected   = errors.New("kraken feed not connected")
)

// State is the lifecycle position of a FeedClient. Closed is terminal.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FeedStats counts what the client has seen so far.
type FeedStats struct {
	FramesReceived    int64 `json:"frames_received"`
	SubscriptionsSent int64 `json:"subscriptions_sent"`
	FramesForwarded   int64 `json:"frames_forwarded"`
	FramesDropped     int64 `json:"frames_dropped"`
}

// FeedClient holds one connection to the Kraken feed. It writes every
// inbound frame to its sink as "received: <frame>" and sends the ticker
// subscription exactly once, right after the first frame. A closed client
// is never reconnected.
type FeedClient struct {
	config   *appconfig.Config
	channels *tickerchan.Channels
	sink     io.Writer
	log      *logger.Log
	endpoint string
	dialer   *websocket.Dialer

	mu      sync.Mutex
	ctx     context.Context
	conn    *websocket.Conn
	started bool
	err     error

	state     atomic.Int32
	stopping  atomic.Bool
	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup

	// subscribed is owned by the read loop.
	subscribed bool

	framesReceived    atomic.Int64
	subscriptionsSent atomic.Int64
	framesForwarded   atomic.Int64
	framesDropped     atomic.Int64

	dropLogLimiter *rate.Limiter
	reportInterval time.Duration
}

// NewFeedClient creates a client that writes frames to sink, or to stdout
// when sink is nil. channels may be nil; frames are forwarded to it only
// when reader.forward_frames is set.
func NewFeedClient(cfg *appconfig.Config, sink io.Writer, channels *tickerchan.Channels) *FeedClient {
	if sink == nil {
		sink = os.Stdout
	}
	log := logger.GetLogger()
	return &FeedClient{
		config:         cfg,
		channels:       channels,
		sink:           sink,
		log:            log,
		endpoint:       Endpoint,
		dialer:         newDialer(cfg.Reader, log),
		ctx:            context.Background(),
		done:           make(chan struct{}),
		dropLogLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		reportInterval: defaultReportInterval,
	}
}

func newDialer(cfg appconfig.ReaderConfig, log *logger.Log) *websocket.Dialer {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.Timeout,
	}
	if cfg.LocalIP != "" {
		if ip := net.ParseIP(cfg.LocalIP); ip != nil {
			dialer.NetDialContext = (&net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}).DialContext
		} else {
			log.WithComponent(component).WithFields(logger.Fields{"local_ip": cfg.LocalIP}).Warn("invalid local ip, using default route")
		}
	}
	return dialer
}

// Start dials the feed and launches the read loop. It fails when the dial
// fails or when the client has been started before.
func (c *FeedClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.ctx = ctx
	c.mu.Unlock()

	log := c.log.WithComponent(component).WithFields(logger.Fields{"endpoint": c.endpoint})

	dialCtx := ctx
	if t := c.config.Reader.Timeout; t > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	conn, _, err := c.dialer.DialContext(dialCtx, c.endpoint, nil)
	if err != nil {
		err = fmt.Errorf("dial %s: %w", c.endpoint, err)
		c.finish(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.subscribed = false
	c.state.Store(int32(StateConnected))
	log.Info("connected to the server")

	c.wg.Add(3)
	go c.readLoop(ctx, conn)
	go c.watch(ctx)
	go c.metricsReporter(ctx)
	return nil
}

// Stop closes the connection and waits for the client goroutines. It is
// safe to call more than once and before Start.
func (c *FeedClient) Stop() {
	c.stopping.Store(true)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil && c.State() != StateClosed {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.closeConn()
	c.wg.Wait()
	c.finish(nil)
	c.log.WithComponent(component).Info("kraken feed stopped")
}

// Done is closed once the client reaches StateClosed.
func (c *FeedClient) Done() <-chan struct{} {
	return c.done
}

// Err returns why the client closed, or nil for a requested stop.
func (c *FeedClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *FeedClient) State() State {
	return State(c.state.Load())
}

func (c *FeedClient) Stats() FeedStats {
	return FeedStats{
		FramesReceived:    c.framesReceived.Load(),
		SubscriptionsSent: c.subscriptionsSent.Load(),
		FramesForwarded:   c.framesForwarded.Load(),
		FramesDropped:     c.framesDropped.Load(),
	}
}

// OnMessage handles one inbound frame: it writes the frame to the sink,
// sends the subscription if none was sent yet, then forwards the frame
// downstream. While the client runs the read loop is its only caller.
func (c *FeedClient) OnMessage(frame []byte) error {
	c.framesReceived.Add(1)
	metrics.IncFramesReceived()
	logger.IncrementFrameRead(len(frame))

	if _, err := fmt.Fprintf(c.sink, "received: %s\n", frame); err != nil {
		c.log.WithComponent(component).WithError(err).Warn("failed to write frame to output")
	}

	if !c.subscribed {
		if err := c.subscribe(); err != nil {
			return err
		}
		c.subscribed = true
		c.state.CompareAndSwap(int32(StateConnected), int32(StateSubscribed))
	}

	c.forward(frame)
	return nil
}

func (c *FeedClient) subscribe() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if t := c.config.Reader.Timeout; t > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t))
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(SubscribeTickerXBTUSD)); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}

	c.subscriptionsSent.Add(1)
	metrics.IncSubscriptionsSent()
	c.log.WithComponent(component).WithFields(logger.Fields{
		"channel": models.ChannelTicker,
		"pair":    SubscribedPair,
	}).Info("subscription sent")
	return nil
}

func (c *FeedClient) forward(frame []byte) {
	if c.channels == nil || !c.config.Reader.ForwardFrames {
		return
	}
	msg := models.RawTickerMessage{
		Exchange:  exchangeName,
		Channel:   models.ChannelTicker,
		Pair:      SubscribedPair,
		Data:      frame,
		Timestamp: time.Now(),
	}
	if c.channels.SendRaw(c.ctx, msg) {
		c.framesForwarded.Add(1)
		return
	}
	if c.ctx.Err() != nil {
		return
	}
	c.framesDropped.Add(1)
	metrics.EmitDropMetric(c.log, metrics.DropMetricFeedRaw, exchangeName, models.ChannelTicker, SubscribedPair, "raw")
	if c.dropLogLimiter.Allow() {
		c.log.WithComponent(component).WithFields(logger.Fields{
			"dropped_total": c.framesDropped.Load(),
		}).Warn("raw ticker channel full, dropping frame")
	}
}

func (c *FeedClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	log := c.log.WithComponent(component)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			switch {
			case c.stopping.Load() || ctx.Err() != nil:
				log.Debug("connection closed")
				c.finish(nil)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				log.WithError(err).Info("connection closed by server")
				c.finish(err)
			default:
				log.WithError(err).Warn("websocket read error, feed closed")
				c.finish(err)
			}
			return
		}

		if err := c.OnMessage(frame); err != nil {
			log.WithError(err).Error("failed to send subscription, closing connection")
			c.finish(err)
			return
		}
	}
}

// watch closes the connection when ctx ends so the read loop unblocks.
func (c *FeedClient) watch(ctx context.Context) {
	defer c.wg.Done()
	select {
	case <-ctx.Done():
		c.stopping.Store(true)
		c.closeConn()
	case <-c.done:
	}
}

func (c *FeedClient) metricsReporter(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			stats := c.Stats()
			metrics.EmitMetric(c.log, component, "frames_received", stats.FramesReceived, "counter", nil)
			metrics.EmitMetric(c.log, component, "subscriptions_sent", stats.SubscriptionsSent, "counter", nil)
			c.log.WithComponent(component).WithFields(logger.Fields{
				"frames_received":    stats.FramesReceived,
				"subscriptions_sent": stats.SubscriptionsSent,
				"frames_forwarded":   stats.FramesForwarded,
				"frames_dropped":     stats.FramesDropped,
				"state":              c.State().String(),
			}).Info("kraken feed stats")
		}
	}
}

func (c *FeedClient) closeConn() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// finish moves the client to StateClosed. The first reason recorded wins.
func (c *FeedClient) finish(reason error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()
		c.state.Store(int32(StateClosed))
		c.closeConn()
		close(c.done)
	})
}
