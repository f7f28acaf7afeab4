package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dexfolio/dexfolio/pkg/app/core"
	"github.com/dexfolio/dexfolio/pkg/util"
)

var (
	ErrNotConnected = errors.New("feed: not connected")
	ErrCallTimeout  = errors.New("feed: call timed out")
)

// NoticeHandler receives one decoded notice envelope from the node stream.
type NoticeHandler func(kind string, payload json.RawMessage)

type rpcRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("feed: rpc error %d: %s", e.Code, e.Message)
}

// rpcEnvelope is either a call response (ID set) or a pushed notice
// (Method == "notice").
type rpcEnvelope struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type notice struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Options struct {
	DialTimeout time.Duration
	CallTimeout time.Duration
	// DepthLimit caps orders per side requested by LoadBook.
	DepthLimit int
	Backoff    Backoff
	Clock      util.Clock
	Logger     *zap.Logger
}

// Client is the websocket JSON-RPC connection to the DEX node. One read
// goroutine routes call responses to waiters and fans notices to the
// handler, so feed events are processed one at a time.
type Client struct {
	url        string
	dialTo     time.Duration
	callTo     time.Duration
	depthLimit int
	backoff    Backoff
	clock      util.Clock
	log        *zap.Logger

	handlerMu sync.RWMutex
	handler   NoticeHandler

	connMu sync.Mutex // guards conn and writes to it
	conn   *websocket.Conn

	pendMu  sync.Mutex
	pending map[uint64]chan rpcEnvelope
	nextID  atomic.Uint64
}

func NewClient(nodeURL string, opts Options) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.DepthLimit <= 0 {
		opts.DepthLimit = 100
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		url:        nodeURL,
		dialTo:     opts.DialTimeout,
		callTo:     opts.CallTimeout,
		depthLimit: opts.DepthLimit,
		backoff:    opts.Backoff,
		clock:      opts.Clock,
		log:        opts.Logger,
		pending:    make(map[uint64]chan rpcEnvelope),
	}
}

// SetNoticeHandler installs the notice fan-out target. Call before Run.
func (c *Client) SetNoticeHandler(h NoticeHandler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

// Run connects and keeps reading until ctx is cancelled, reconnecting with
// backoff after failures. Pending calls fail when the connection drops.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			wait := c.backoff.Next(attempt)
			c.log.Warn("feed_dial_failed",
				zap.String("url", c.url),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", wait),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(wait):
			}
			continue
		}

		attempt = 0
		c.setConn(conn)
		c.log.Info("feed_connected", zap.String("url", c.url))

		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		c.failPending(ErrNotConnected)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("feed_disconnected", zap.Error(err))
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.dialTo)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dctx, c.url, nil)
	return conn, err
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env rpcEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.log.Debug("feed_bad_frame", zap.Error(err))
			continue
		}

		if env.ID != 0 {
			c.pendMu.Lock()
			ch := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.pendMu.Unlock()
			if ch != nil {
				ch <- env
			}
			continue
		}

		if env.Method != "notice" {
			continue
		}
		var n notice
		if err := json.Unmarshal(env.Params, &n); err != nil {
			c.log.Debug("feed_bad_notice", zap.Error(err))
			continue
		}
		c.handlerMu.RLock()
		h := c.handler
		c.handlerMu.RUnlock()
		if h != nil {
			h(n.Type, n.Payload)
		}
	}
}

func (c *Client) failPending(err error) {
	c.pendMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- rpcEnvelope{Error: &rpcError{Code: -1, Message: err.Error()}}
	}
	c.pendMu.Unlock()
}

// Call performs one id-correlated RPC round trip.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	ch := make(chan rpcEnvelope, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()
	cleanup := func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}

	c.connMu.Lock()
	conn := c.conn
	if conn == nil {
		c.connMu.Unlock()
		cleanup()
		return nil, ErrNotConnected
	}
	err = conn.WriteMessage(websocket.TextMessage, req)
	c.connMu.Unlock()
	if err != nil {
		cleanup()
		return nil, err
	}

	select {
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-c.clock.After(c.callTo):
		cleanup()
		return nil, ErrCallTimeout
	case env := <-ch:
		if env.Error != nil {
			return nil, env.Error
		}
		return env.Result, nil
	}
}

// LoadBook bootstraps one market: fetches resting limit orders for the pair
// and splits them into buy/sell sides by the pays/receives rule.
func (c *Client) LoadBook(ctx context.Context, baseAssetID, assetID string) (buy, sell []*core.Order, err error) {
	result, err := c.Call(ctx, "get_limit_orders", []any{baseAssetID, assetID, c.depthLimit})
	if err != nil {
		return nil, nil, fmt.Errorf("load book %s/%s: %w", baseAssetID, assetID, err)
	}
	var orders []*core.Order
	if err := json.Unmarshal(result, &orders); err != nil {
		return nil, nil, fmt.Errorf("load book %s/%s: decode: %w", baseAssetID, assetID, err)
	}
	buy, sell = splitBook(baseAssetID, assetID, orders)
	return buy, sell, nil
}

// splitBook classifies orders for the (base, asset) pair: an order paying
// base for the asset is demand (buy side); an order paying the asset for
// base is supply (sell side). Orders touching neither shape are dropped.
func splitBook(baseAssetID, assetID string, orders []*core.Order) (buy, sell []*core.Order) {
	for _, o := range orders {
		if o == nil {
			continue
		}
		pays := o.SellPrice.Base.AssetID
		receives := o.SellPrice.Quote.AssetID
		switch {
		case pays == baseAssetID && receives == assetID:
			buy = append(buy, o)
		case pays == assetID && receives == baseAssetID:
			sell = append(sell, o)
		}
	}
	return buy, sell
}
