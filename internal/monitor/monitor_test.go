package monitor

import (
	"context"
	stdjson "encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/solforge/netmon/internal/bus"
	"github.com/solforge/netmon/internal/configure"
	"github.com/solforge/netmon/internal/global"
	"github.com/solforge/netmon/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcHandler func(method string, params []stdjson.RawMessage) (interface{}, map[string]interface{})

func newRPCServer(t *testing.T, handler rpcHandler) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []stdjson.RawMessage `json:"params"`
		}
		if err := stdjson.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		result, rpcErr := handler(req.Method, req.Params)

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		_ = stdjson.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func newTestConfig(rpcURL string) *configure.Config {
	cfg := &configure.Config{}
	cfg.Network = "devnet"
	cfg.Providers = []configure.Provider{
		{Name: "primary", RPC: map[string]string{"devnet": rpcURL}},
	}
	cfg.Protocols = []configure.Protocol{
		{Name: "serum-dex", ProgramID: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"},
	}

	cfg.Monitor.NetworkIntervalSeconds = 1
	cfg.Monitor.ProtocolIntervalSeconds = 1
	cfg.Monitor.HealthIntervalSeconds = 1
	cfg.Monitor.CleanupIntervalSeconds = 3600
	cfg.Monitor.RetentionHours = 24
	cfg.Monitor.SeriesCap = 1000
	cfg.Monitor.RPCTimeoutMs = 1000
	cfg.Monitor.ProbeTimeoutMs = 200
	cfg.Monitor.ReconnectDelayMs = 50

	cfg.Monitor.Thresholds = configure.Thresholds{
		NetworkLatencyDownMs:      5000,
		NetworkLatencyDegradedMs:  2000,
		NetworkMinTPS:             1000,
		ProtocolLatencyDownMs:     3000,
		ProtocolLatencyDegradedMs: 1000,
	}

	cfg.Alerts.RecentLimit = 50

	return cfg
}

func newTestMonitor(t *testing.T, rpcURL string) *Monitor {
	t.Helper()

	gctx := global.New(context.Background(), newTestConfig(rpcURL))
	m, err := New(gctx)
	require.NoError(t, err)
	return m
}

func Test_NewRequiresResolvableProviders(t *testing.T) {
	cfg := newTestConfig("http://127.0.0.1:1")
	cfg.Network = "mainnet"

	_, err := New(global.New(context.Background(), cfg))
	assert.Error(t, err)
}

func Test_ClassifyNetwork(t *testing.T) {
	assert.Equal(t, StatusDown, classifyNetwork(5001, 5000, 5000, 2000, 1000))
	assert.Equal(t, StatusDegraded, classifyNetwork(2001, 5000, 5000, 2000, 1000))
	assert.Equal(t, StatusDegraded, classifyNetwork(100, 999, 5000, 2000, 1000))
	assert.Equal(t, StatusHealthy, classifyNetwork(100, 5000, 5000, 2000, 1000))
	assert.Equal(t, StatusHealthy, classifyNetwork(2000, 1000, 5000, 2000, 1000))
}

func Test_DeriveTPS(t *testing.T) {
	blockTimes := map[uint64]int64{100: 1000, 88: 995}
	txCounts := map[uint64]int{100: 600, 88: 100}

	srv := newRPCServer(t, func(method string, params []stdjson.RawMessage) (interface{}, map[string]interface{}) {
		require.Equal(t, "getBlock", method)

		var slot uint64
		require.NoError(t, stdjson.Unmarshal(params[0], &slot))

		bt, ok := blockTimes[slot]
		if !ok {
			return nil, map[string]interface{}{"code": -32007, "message": "slot was skipped"}
		}

		sigs := make([]string, txCounts[slot])
		for i := range sigs {
			sigs[i] = "sig"
		}
		return map[string]interface{}{"blockTime": bt, "signatures": sigs}, nil
	})

	m := newTestMonitor(t, srv.URL)
	c := rpc.NewClient(srv.URL, time.Second)

	// (600 - 100) / (1000 - 995) = 100
	tps, bt := m.deriveTPS(c, 100)
	assert.Equal(t, float64(100), tps)
	require.NotNil(t, bt)
	assert.Equal(t, int64(1000), *bt)

	// Previous block unavailable.
	delete(blockTimes, 88)
	tps, _ = m.deriveTPS(c, 100)
	assert.Equal(t, float64(0), tps)

	// Current block unavailable.
	tps, bt = m.deriveTPS(c, 500)
	assert.Equal(t, float64(0), tps)
	assert.Nil(t, bt)
}

func Test_DeriveTPSNonPositiveDelta(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []stdjson.RawMessage) (interface{}, map[string]interface{}) {
		var slot uint64
		_ = stdjson.Unmarshal(params[0], &slot)
		// Both blocks share a timestamp.
		return map[string]interface{}{"blockTime": 1000, "signatures": []string{"a", "b"}}, nil
	})

	m := newTestMonitor(t, srv.URL)
	c := rpc.NewClient(srv.URL, time.Second)

	tps, _ := m.deriveTPS(c, 100)
	assert.Equal(t, float64(0), tps)
}

func Test_CollectProtocol(t *testing.T) {
	accountExists := true

	srv := newRPCServer(t, func(method string, _ []stdjson.RawMessage) (interface{}, map[string]interface{}) {
		switch method {
		case "getAccountInfo":
			if !accountExists {
				return map[string]interface{}{"value": nil}, nil
			}
			return map[string]interface{}{
				"value": map[string]interface{}{"lamports": 1, "owner": "o", "executable": true},
			}, nil
		case "getProgramAccounts":
			return []map[string]interface{}{
				{"pubkey": "a"}, {"pubkey": "b"},
			}, nil
		default:
			return nil, map[string]interface{}{"code": -32601, "message": "method not found"}
		}
	})

	m := newTestMonitor(t, srv.URL)
	c := rpc.NewClient(srv.URL, time.Second)
	p := m.gctx.Config().Protocols[0]

	sample := m.collectProtocol(c, p)
	assert.Equal(t, StatusHealthy, sample.Status)
	assert.Equal(t, availabilityHealthy, sample.AvailabilityPct)
	assert.Equal(t, errorRateHealthy, sample.ErrorRatePct)
	assert.Equal(t, 2, sample.AccountsCount)

	// Absent program collapses to the worst case.
	accountExists = false
	sample = m.collectProtocol(c, p)
	assert.Equal(t, StatusDown, sample.Status)
	assert.Equal(t, availabilityDown, sample.AvailabilityPct)
	assert.Equal(t, errorRateUnreachable, sample.ErrorRatePct)
	assert.Zero(t, sample.AccountsCount)
}

func Test_CollectProtocolRPCFailure(t *testing.T) {
	m := newTestMonitor(t, "http://127.0.0.1:1")

	sub := m.events.Subscribe(4, bus.EventProtocolError)
	defer sub.Close()

	c := rpc.NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	sample := m.collectProtocol(c, m.gctx.Config().Protocols[0])

	assert.Equal(t, StatusDown, sample.Status)
	assert.Equal(t, errorRateUnreachable, sample.ErrorRatePct)

	ev := <-sub.Ch
	assert.Equal(t, bus.EventProtocolError, ev.Type)
}

func Test_ProbeEndpoint(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(healthy.Close)

	degraded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(degraded.Close)

	stalled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	t.Cleanup(stalled.Close)

	m := newTestMonitor(t, "http://127.0.0.1:1")

	res := m.probeEndpoint("serum-dex", healthy.URL)
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Contains(t, res.RawResponse, "ok")

	res = m.probeEndpoint("serum-dex", degraded.URL)
	assert.Equal(t, StatusDegraded, res.Status)

	// Probe timeout is 200ms in the test config.
	res = m.probeEndpoint("serum-dex", stalled.URL)
	assert.Equal(t, StatusDown, res.Status)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(200))
}

func Test_DashboardSnapshot(t *testing.T) {
	m := newTestMonitor(t, "http://127.0.0.1:1")

	// An unstarted monitor has an empty snapshot.
	snap := m.GetDashboardData()
	assert.Empty(t, snap.Network)
	assert.Empty(t, snap.Protocols)
	assert.Empty(t, snap.RecentAlerts)

	m.store.Append("network.primary", NetworkSample{Provider: "primary", Status: StatusHealthy, Healthy: true})
	m.store.Append("network.primary", NetworkSample{Provider: "primary", Status: StatusDown, LatencyMs: 6000})
	m.store.Append("protocol.serum-dex", ProtocolSample{Name: "serum-dex", Status: StatusDegraded})

	snap = m.GetDashboardData()
	require.Contains(t, snap.Network, "primary")

	// Only the most recent sample per key.
	assert.Equal(t, StatusDown, snap.Network["primary"].Status)

	require.Len(t, snap.Protocols, 1)
	assert.Equal(t, StatusDegraded, snap.Protocols[0].Status)

	// One of two samples was healthy.
	assert.Equal(t, float64(50), snap.Uptime.Providers["primary"])
	assert.Equal(t, float64(50), snap.Uptime.OverallPct)
}

func Test_GetMetrics(t *testing.T) {
	m := newTestMonitor(t, "http://127.0.0.1:1")

	for i := 0; i < 5; i++ {
		m.store.Append("network.primary", NetworkSample{Slot: uint64(i)})
	}

	pts := m.GetMetrics("network.primary", 2)
	require.Len(t, pts, 2)
	assert.Equal(t, uint64(4), pts[1].Sample.(NetworkSample).Slot)
}

func Test_ExportData(t *testing.T) {
	m := newTestMonitor(t, "http://127.0.0.1:1")

	b, err := m.ExportData()
	require.NoError(t, err)

	var export Export
	require.NoError(t, stdjson.Unmarshal(b, &export))
	assert.Equal(t, "devnet", export.Network)
	require.Len(t, export.Providers, 1)
	assert.Equal(t, "primary", export.Providers[0].Name)
	assert.NotEmpty(t, export.Rules)
}

func Test_StartStop(t *testing.T) {
	srv := newRPCServer(t, func(method string, params []stdjson.RawMessage) (interface{}, map[string]interface{}) {
		switch method {
		case "getSlot":
			return uint64(100), nil
		case "getBlockHeight":
			return uint64(90), nil
		case "getEpochInfo":
			return map[string]interface{}{"epoch": 7, "absoluteSlot": 100}, nil
		case "getSupply":
			return map[string]interface{}{"value": map[string]uint64{"total": 1000, "circulating": 900}}, nil
		case "getBlock":
			var slot uint64
			_ = stdjson.Unmarshal(params[0], &slot)
			sigs := make([]string, 0)
			bt := int64(1000)
			if slot == 100 {
				sigs = make([]string, 1500)
				bt = 1001
			}
			return map[string]interface{}{"blockTime": bt, "signatures": sigs}, nil
		case "getAccountInfo":
			return map[string]interface{}{
				"value": map[string]interface{}{"lamports": 1, "owner": "o", "executable": true},
			}, nil
		case "getProgramAccounts":
			return []map[string]interface{}{{"pubkey": "a"}}, nil
		default:
			return nil, map[string]interface{}{"code": -32601, "message": "method not found"}
		}
	})

	m := newTestMonitor(t, srv.URL)

	sub := m.Events().Subscribe(16, bus.EventMonitoringStarted, bus.EventMonitoringStopped)
	defer sub.Close()

	assert.Zero(t, m.ConnectedProviders())

	require.NoError(t, m.Start())
	assert.True(t, m.Running())
	assert.Equal(t, 1, m.ConnectedProviders())
	assert.Equal(t, ErrAlreadyRunning, m.Start())

	ev := <-sub.Ch
	assert.Equal(t, bus.EventMonitoringStarted, ev.Type)

	require.Eventually(t, func() bool {
		return len(m.GetMetrics("network.primary", 1)) == 1 &&
			len(m.GetMetrics("protocol.serum-dex", 1)) == 1
	}, 3*time.Second, 50*time.Millisecond)

	sample, ok := m.GetMetrics("network.primary", 1)[0].Sample.(NetworkSample)
	require.True(t, ok)
	assert.Equal(t, uint64(100), sample.Slot)
	assert.Equal(t, uint64(90), sample.BlockHeight)
	assert.Equal(t, uint64(7), sample.Epoch)
	assert.Equal(t, float64(1500), sample.TPS)
	assert.Equal(t, StatusHealthy, sample.Status)
	require.NotNil(t, sample.Supply)
	assert.Equal(t, uint64(1000), *sample.Supply)

	require.NoError(t, m.Stop())
	assert.False(t, m.Running())
	assert.Zero(t, m.ConnectedProviders())
	assert.Equal(t, ErrNotRunning, m.Stop())

	ev = <-sub.Ch
	assert.Equal(t, bus.EventMonitoringStopped, ev.Type)
}
