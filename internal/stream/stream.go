// Package stream owns the per-provider streaming subscription lifecycle:
// dial, subscribe, dispatch, and fixed-delay reconnect. Each connection is
// an explicit state machine so reconnection is idempotent and at most one
// live socket exists per provider.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
	"github.com/solforge/netmon/internal/bus"
	"github.com/solforge/netmon/internal/rpc"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

const handshakeTimeout = 10 * time.Second

// Conn is one provider's streaming subscription.
type Conn struct {
	provider rpc.Provider
	events   *bus.Bus
	delay    time.Duration
	ctx      context.Context

	state    int32
	seq      uint64
	writeMtx sync.Mutex

	mx sync.Mutex
	ws *websocket.Conn

	// OnStateChange, when set before Open, observes every transition.
	OnStateChange func(prev, next State)
	// OnReconnect, when set before Open, observes every scheduled
	// reconnect attempt.
	OnReconnect func()
}

func New(ctx context.Context, provider rpc.Provider, events *bus.Bus, delay time.Duration) *Conn {
	if delay <= 0 {
		delay = 5 * time.Second
	}

	return &Conn{
		provider: provider,
		events:   events,
		delay:    delay,
		ctx:      ctx,
	}
}

func (c *Conn) Provider() rpc.Provider {
	return c.provider
}

func (c *Conn) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Conn) setState(s State) {
	prev := State(atomic.SwapInt32(&c.state, int32(s)))
	if c.OnStateChange != nil && prev != s {
		c.OnStateChange(prev, s)
	}
}

// transition moves from one specific state to another. A failed swap
// means another goroutine changed the state first; in particular a
// concurrent Close's StateClosing is never overridden.
func (c *Conn) transition(from, to State) bool {
	if !atomic.CompareAndSwapInt32(&c.state, int32(from), int32(to)) {
		return false
	}
	if c.OnStateChange != nil {
		c.OnStateChange(from, to)
	}
	return true
}

// Open dials the streaming endpoint, issues the slot and root
// subscriptions, and starts the read loop. A no-op unless the connection
// is currently disconnected, so overlapping reconnect attempts cannot
// open a second socket.
func (c *Conn) Open() error {
	if !atomic.CompareAndSwapInt32(&c.state, int32(StateDisconnected), int32(StateConnecting)) {
		return nil
	}
	if c.OnStateChange != nil {
		c.OnStateChange(StateDisconnected, StateConnecting)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(c.ctx, c.provider.StreamURL, nil)
	if err != nil {
		zap.S().Warnw("failed to open streaming subscription",
			"provider", c.provider.Name,
			"error", err,
		)
		if c.transition(StateConnecting, StateDisconnected) {
			c.scheduleReconnect()
		}
		return err
	}

	c.mx.Lock()
	c.ws = ws
	c.mx.Unlock()

	if err := c.subscribe(ws); err != nil {
		zap.S().Warnw("failed to send subscription requests",
			"provider", c.provider.Name,
			"error", err,
		)
		_ = ws.Close()
		if c.transition(StateConnecting, StateDisconnected) {
			c.scheduleReconnect()
		}
		return err
	}

	if !c.transition(StateConnecting, StateConnected) {
		// Close won the race while the dial was in flight. The fresh
		// socket must not outlive it.
		c.mx.Lock()
		c.ws = nil
		c.mx.Unlock()
		_ = ws.Close()
		return nil
	}

	go c.readLoop(ws)

	return nil
}

type subscribeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func (c *Conn) subscribe(ws *websocket.Conn) error {
	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	for _, method := range []string{"slotSubscribe", "rootSubscribe"} {
		req := subscribeRequest{
			JSONRPC: "2.0",
			ID:      atomic.AddUint64(&c.seq, 1),
			Method:  method,
			Params:  []interface{}{},
		}
		if err := ws.WriteJSON(req); err != nil {
			return err
		}
	}

	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if c.State() == StateClosing || c.ctx.Err() != nil {
				c.transition(StateConnected, StateDisconnected)
				return
			}

			zap.S().Warnw("streaming subscription lost",
				"provider", c.provider.Name,
				"error", err,
			)
			if c.transition(StateConnected, StateDisconnected) {
				c.scheduleReconnect()
			}
			return
		}

		c.dispatch(msg)
	}
}

type notification struct {
	Method string `json:"method"`
	Params struct {
		Result       jsoniter.RawMessage `json:"result"`
		Subscription uint64              `json:"subscription"`
	} `json:"params"`
}

type slotResult struct {
	Slot   uint64 `json:"slot"`
	Parent uint64 `json:"parent"`
	Root   uint64 `json:"root"`
}

func (c *Conn) dispatch(msg []byte) {
	var n notification
	if err := json.Unmarshal(msg, &n); err != nil {
		zap.S().Debugw("unreadable stream message", "provider", c.provider.Name, "error", err)
		return
	}

	switch n.Method {
	case "slotNotification":
		var res slotResult
		if err := json.Unmarshal(n.Params.Result, &res); err != nil {
			zap.S().Debugw("bad slot notification", "provider", c.provider.Name, "error", err)
			return
		}

		c.events.Publish(bus.EventSlotUpdate, bus.SlotUpdatePayload{
			Provider: c.provider.Name,
			Slot:     res.Slot,
			Parent:   res.Parent,
			Root:     res.Root,
		})
	case "rootNotification":
		var root uint64
		if err := json.Unmarshal(n.Params.Result, &root); err != nil {
			zap.S().Debugw("bad root notification", "provider", c.provider.Name, "error", err)
			return
		}

		c.events.Publish(bus.EventFinalityUpdate, bus.FinalityUpdatePayload{
			Provider: c.provider.Name,
			Root:     root,
		})
	default:
		// Subscription confirmations carry no method. Ignore.
	}
}

// scheduleReconnect arms a single delayed re-open. Open's state check
// makes overlapping timers harmless.
func (c *Conn) scheduleReconnect() {
	if c.ctx.Err() != nil {
		return
	}

	if c.OnReconnect != nil {
		c.OnReconnect()
	}

	time.AfterFunc(c.delay, func() {
		if c.ctx.Err() != nil || c.State() == StateClosing {
			return
		}

		zap.S().Infow("reconnecting streaming subscription", "provider", c.provider.Name)
		_ = c.Open()
	})
}

// Close transitions to Closing, preventing any pending reconnect from
// reopening, and tears down the socket.
func (c *Conn) Close() error {
	c.setState(StateClosing)

	c.mx.Lock()
	ws := c.ws
	c.ws = nil
	c.mx.Unlock()

	if ws == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	err := ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return multierror.Append(err, ws.Close()).ErrorOrNil()
}
