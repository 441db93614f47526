package stream

import (
	"context"
	stdjson "encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/solforge/netmon/internal/bus"
	"github.com/solforge/netmon/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

type subscribeMsg struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readSubscriptions(t *testing.T, ws *websocket.Conn) []subscribeMsg {
	t.Helper()

	msgs := make([]subscribeMsg, 2)
	for i := range msgs {
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, stdjson.Unmarshal(raw, &msgs[i]))
	}
	return msgs
}

func Test_OpenSubscribesAndDispatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()

		msgs := readSubscriptions(t, ws)
		assert.Equal(t, "slotSubscribe", msgs[0].Method)
		assert.Equal(t, "rootSubscribe", msgs[1].Method)
		assert.NotEqual(t, msgs[0].ID, msgs[1].ID)

		require.NoError(t, ws.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "slotNotification",
			"params": map[string]interface{}{
				"result":       map[string]uint64{"slot": 101, "parent": 100, "root": 70},
				"subscription": 1,
			},
		}))
		require.NoError(t, ws.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "rootNotification",
			"params": map[string]interface{}{
				"result":       71,
				"subscription": 2,
			},
		}))

		// Hold the socket open until the client closes.
		_, _, _ = ws.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	b := bus.New()
	sub := b.Subscribe(8, bus.EventSlotUpdate, bus.EventFinalityUpdate)
	defer sub.Close()

	c := New(context.Background(), rpc.Provider{Name: "solana", StreamURL: wsURL(srv)}, b, 50*time.Millisecond)
	require.NoError(t, c.Open())
	assert.Equal(t, StateConnected, c.State())

	ev := <-sub.Ch
	require.Equal(t, bus.EventSlotUpdate, ev.Type)
	slot, ok := ev.Payload.(bus.SlotUpdatePayload)
	require.True(t, ok)
	assert.Equal(t, "solana", slot.Provider)
	assert.Equal(t, uint64(101), slot.Slot)
	assert.Equal(t, uint64(100), slot.Parent)

	ev = <-sub.Ch
	require.Equal(t, bus.EventFinalityUpdate, ev.Type)
	root, ok := ev.Payload.(bus.FinalityUpdatePayload)
	require.True(t, ok)
	assert.Equal(t, uint64(71), root.Root)

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosing, c.State())
}

func Test_OpenIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		readSubscriptions(t, ws)
		_, _, _ = ws.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	c := New(context.Background(), rpc.Provider{Name: "solana", StreamURL: wsURL(srv)}, bus.New(), 50*time.Millisecond)
	require.NoError(t, c.Open())

	waitForState(t, c, StateConnected)

	// A second Open while connected must not dial again.
	require.NoError(t, c.Open())
	assert.Equal(t, StateConnected, c.State())

	_ = c.Close()
}

func Test_ReconnectAfterServerClose(t *testing.T) {
	var connects int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		n := atomic.AddInt32(&connects, 1)
		readSubscriptions(t, ws)

		if n == 1 {
			// Drop the first connection immediately.
			ws.Close()
			return
		}

		defer ws.Close()
		_, _, _ = ws.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	reconnects := int32(0)
	c := New(context.Background(), rpc.Provider{Name: "solana", StreamURL: wsURL(srv)}, bus.New(), 20*time.Millisecond)
	c.OnReconnect = func() { atomic.AddInt32(&reconnects, 1) }

	require.NoError(t, c.Open())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&connects) >= 2 && c.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&reconnects), int32(1))

	_ = c.Close()
}

func Test_CloseDuringDial(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hold the handshake until the client has closed.
		<-release

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, _, _ = ws.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	c := New(context.Background(), rpc.Provider{Name: "solana", StreamURL: wsURL(srv)}, bus.New(), 20*time.Millisecond)

	opened := make(chan error, 1)
	go func() { opened <- c.Open() }()

	waitForState(t, c, StateConnecting)
	require.NoError(t, c.Close())

	// The dial now completes against an already-closed connection; the
	// fresh socket must not survive and the state must stay closing.
	close(release)
	require.NoError(t, <-opened)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateClosing, c.State())
}

func Test_CloseStopsReconnect(t *testing.T) {
	// No server: dialing fails and schedules a retry.
	c := New(context.Background(), rpc.Provider{Name: "solana", StreamURL: "ws://127.0.0.1:1"}, bus.New(), 20*time.Millisecond)

	assert.Error(t, c.Open())
	require.NoError(t, c.Close())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateClosing, c.State())
}

func waitForState(t *testing.T, c *Conn, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == want
	}, 2*time.Second, 10*time.Millisecond)
}
