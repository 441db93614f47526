// Package monitor is the real-time network/protocol health-monitoring
// engine: it observes the configured RPC providers and tracked protocols
// on independent schedules, keeps a bounded time-retained history, and
// evaluates alert rules against every fresh sample.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/solforge/netmon/internal/alert"
	"github.com/solforge/netmon/internal/bus"
	"github.com/solforge/netmon/internal/global"
	"github.com/solforge/netmon/internal/instance"
	"github.com/solforge/netmon/internal/rpc"
	"github.com/solforge/netmon/internal/store"
	"github.com/solforge/netmon/internal/stream"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = fmt.Errorf("monitor already running")
	ErrNotRunning     = fmt.Errorf("monitor not running")
)

type Monitor struct {
	gctx   global.Context
	reg    *rpc.Registry
	events *bus.Bus
	store  *store.Store
	engine *alert.Engine

	probe        *fasthttp.Client
	probeTimeout time.Duration
	rpcTimeout   time.Duration

	mx      sync.Mutex
	running bool
	mgr     *rpc.Manager
	streams []*stream.Conn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sweeper <-chan struct{}
}

// New builds a monitor from configuration. It fails only on
// misconfiguration: no provider resolvable for the selected network.
func New(gctx global.Context) (*Monitor, error) {
	cfg := gctx.Config()

	reg := rpc.NewRegistry(cfg.Providers, cfg.Network)
	if len(reg.Providers()) == 0 {
		return nil, fmt.Errorf("no providers resolvable for network %q", cfg.Network)
	}

	events := gctx.Inst().Events
	if events == nil {
		events = bus.New()
		gctx.Inst().Events = events
	}

	m := &Monitor{
		gctx:   gctx,
		reg:    reg,
		events: events,
		store: store.New(
			cfg.Monitor.SeriesCap,
			time.Duration(cfg.Monitor.RetentionHours)*time.Hour,
		),
		engine:       alert.NewEngine(events, cfg.Alerts.RecentLimit),
		probe:        &fasthttp.Client{},
		probeTimeout: time.Duration(cfg.Monitor.ProbeTimeoutMs) * time.Millisecond,
		rpcTimeout:   time.Duration(cfg.Monitor.RPCTimeoutMs) * time.Millisecond,
	}

	m.engine.OnFire = func(ev alert.Event) {
		if mm := m.metrics(); mm != nil {
			mm.AlertsFired.WithLabelValues(string(ev.Severity)).Inc()
		}
	}

	return m, nil
}

// Registry exposes the resolved provider set.
func (m *Monitor) Registry() *rpc.Registry {
	return m.reg
}

// Events exposes the monitor's event bus.
func (m *Monitor) Events() *bus.Bus {
	return m.events
}

// Running reports whether collection is active.
func (m *Monitor) Running() bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.running
}

// ConnectedProviders reports how many providers hold a live request
// connection. Zero whenever the monitor is not running.
func (m *Monitor) ConnectedProviders() int {
	m.mx.Lock()
	defer m.mx.Unlock()

	if m.mgr == nil {
		return 0
	}
	return len(m.mgr.Conns())
}

// Start opens provider connections and streaming subscriptions and
// launches the periodic collectors. It fails when no provider at all is
// reachable.
func (m *Monitor) Start() error {
	m.mx.Lock()
	defer m.mx.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}

	mgr, err := rpc.NewManager(m.reg, m.rpcTimeout)
	if err != nil {
		return err
	}
	m.mgr = mgr

	ctx, cancel := context.WithCancel(m.gctx)
	m.cancel = cancel

	cfg := m.gctx.Config()
	delay := time.Duration(cfg.Monitor.ReconnectDelayMs) * time.Millisecond

	m.streams = m.streams[:0]
	for _, conn := range mgr.Conns() {
		if conn.Provider.StreamURL == "" {
			zap.S().Infow("provider has no stream url, skipping subscription",
				"provider", conn.Provider.Name,
			)
			continue
		}

		sc := stream.New(ctx, conn.Provider, m.events, delay)
		sc.OnStateChange = m.onStreamState
		sc.OnReconnect = func() {
			if mm := m.metrics(); mm != nil {
				mm.StreamReconnects.Inc()
			}
		}
		m.streams = append(m.streams, sc)

		// Open failures self-schedule a retry; never fatal.
		_ = sc.Open()
	}

	m.runCollector(ctx, "network", time.Duration(cfg.Monitor.NetworkIntervalSeconds)*time.Second, func(ctx context.Context) {
		m.collectNetwork(ctx, mgr)
	})
	m.runCollector(ctx, "protocol", time.Duration(cfg.Monitor.ProtocolIntervalSeconds)*time.Second, func(ctx context.Context) {
		m.collectProtocols(ctx, mgr)
	})
	m.runCollector(ctx, "health", time.Duration(cfg.Monitor.HealthIntervalSeconds)*time.Second, m.collectHealth)
	m.sweeper = m.store.StartSweeper(ctx, time.Duration(cfg.Monitor.CleanupIntervalSeconds)*time.Second)

	m.running = true

	m.events.Publish(bus.EventMonitoringStarted, map[string]interface{}{
		"network":   m.reg.Network(),
		"providers": len(mgr.Conns()),
	})
	zap.S().Infow("monitoring started",
		"network", m.reg.Network(),
		"providers", len(mgr.Conns()),
		"streams", len(m.streams),
	)

	return nil
}

// Stop halts the periodic collectors, closes every streaming socket, and
// releases provider connections, in that order.
func (m *Monitor) Stop() error {
	m.mx.Lock()
	defer m.mx.Unlock()

	if !m.running {
		return ErrNotRunning
	}

	m.cancel()
	m.wg.Wait()
	<-m.sweeper

	var errs error
	for _, sc := range m.streams {
		if err := sc.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	m.streams = m.streams[:0]
	m.mgr = nil

	m.running = false

	m.events.Publish(bus.EventMonitoringStopped, nil)
	zap.S().Infow("monitoring stopped")

	if errs != nil {
		zap.S().Debugw("socket teardown", "error", errs)
	}
	return nil
}

// GetMetrics reads the last limit points for a metric key.
func (m *Monitor) GetMetrics(key string, limit int) []store.Point {
	return m.store.Read(key, limit)
}

func (m *Monitor) AddAlertRule(r alert.Rule) alert.Rule {
	return m.engine.AddRule(r)
}

func (m *Monitor) RemoveAlertRule(id string) bool {
	return m.engine.RemoveRule(id)
}

func (m *Monitor) AlertRules() []alert.Rule {
	return m.engine.Rules()
}

func (m *Monitor) RecentAlerts(limit int) []alert.Event {
	return m.engine.Recent(limit)
}

func (m *Monitor) runCollector(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.tick(name, fn, ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(name, fn, ctx)
			}
		}
	}()
}

func (m *Monitor) tick(name string, fn func(context.Context), ctx context.Context) {
	if mm := m.metrics(); mm != nil {
		mm.CollectorTicks.WithLabelValues(name).Inc()
	}
	fn(ctx)
}

func (m *Monitor) onStreamState(prev, next stream.State) {
	mm := m.metrics()
	if mm == nil {
		return
	}

	if next == stream.StateConnected {
		mm.ConnectedProviders.Inc()
	} else if prev == stream.StateConnected {
		mm.ConnectedProviders.Dec()
	}
}

func (m *Monitor) metrics() *instance.MonitorMetrics {
	if m.gctx.Inst().Monitoring == nil {
		return nil
	}
	mm := m.gctx.Inst().Monitoring.Monitor()
	return &mm
}
