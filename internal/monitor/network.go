package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/solforge/netmon/internal/alert"
	"github.com/solforge/netmon/internal/bus"
	"github.com/solforge/netmon/internal/rpc"
	"go.uber.org/zap"
)

// collectNetwork runs one network tick: every provider is sampled in its
// own goroutine so a slow provider cannot stall its siblings.
func (m *Monitor) collectNetwork(ctx context.Context, mgr *rpc.Manager) {
	var wg sync.WaitGroup

	for _, conn := range mgr.Conns() {
		wg.Add(1)
		go func(conn *rpc.Conn) {
			defer wg.Done()

			sample, err := m.collectProvider(ctx, conn)
			if err != nil {
				zap.S().Warnw("network collection failed",
					"provider", conn.Provider.Name,
					"error", err,
				)
				if mm := m.metrics(); mm != nil {
					mm.RPCErrors.Inc()
				}
				m.events.Publish(bus.EventNetworkError, bus.NetworkErrorPayload{
					Provider: conn.Provider.Name,
					Error:    err.Error(),
				})
				return
			}

			m.store.Append("network."+conn.Provider.Name, *sample)
			if mm := m.metrics(); mm != nil {
				mm.SamplesStored.Inc()
			}

			m.events.Publish(bus.EventNetworkMetrics, *sample)

			m.engine.Evaluate("", map[alert.Condition]float64{
				alert.ConditionLatency: float64(sample.LatencyMs),
				alert.ConditionTPS:     sample.TPS,
			}, *sample)
		}(conn)
	}

	wg.Wait()
}

// collectProvider issues the independent RPC calls for one provider
// concurrently, awaits them jointly, then derives blockTime and TPS from
// the slot result.
func (m *Monitor) collectProvider(ctx context.Context, conn *rpc.Conn) (*NetworkSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := conn.Client
	start := time.Now()

	var (
		wg sync.WaitGroup

		slot    uint64
		slotErr error

		height    uint64
		heightErr error

		epoch    *rpc.EpochInfo
		epochErr error

		supply *rpc.Supply
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		slot, slotErr = c.GetSlot()
	}()
	go func() {
		defer wg.Done()
		height, heightErr = c.GetBlockHeight()
	}()
	go func() {
		defer wg.Done()
		epoch, epochErr = c.GetEpochInfo()
	}()
	go func() {
		defer wg.Done()
		// Best-effort. A missing supply degrades to null, not failure.
		s, err := c.GetSupply()
		if err != nil {
			zap.S().Debugw("supply fetch failed", "provider", conn.Provider.Name, "error", err)
			return
		}
		supply = s
	}()
	wg.Wait()

	latency := time.Since(start).Milliseconds()

	if slotErr != nil {
		return nil, slotErr
	}
	if heightErr != nil {
		return nil, heightErr
	}
	if epochErr != nil {
		return nil, epochErr
	}

	tps, blockTime := m.deriveTPS(c, slot)

	th := m.gctx.Config().Monitor.Thresholds
	status := classifyNetwork(latency, tps, th.NetworkLatencyDownMs, th.NetworkLatencyDegradedMs, th.NetworkMinTPS)

	sample := &NetworkSample{
		Provider:    conn.Provider.Name,
		Slot:        slot,
		BlockHeight: height,
		BlockTime:   blockTime,
		LatencyMs:   latency,
		TPS:         tps,
		Healthy:     status == StatusHealthy,
		Epoch:       epoch.Epoch,
		Status:      status,
		Timestamp:   time.Now(),
	}
	if supply != nil {
		total := supply.Total
		sample.Supply = &total
	}

	return sample, nil
}

func classifyNetwork(latencyMs int64, tps float64, downMs, degradedMs int64, minTPS float64) Status {
	switch {
	case latencyMs > downMs:
		return StatusDown
	case latencyMs > degradedMs || tps < minTPS:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// deriveTPS compares the block at the current slot with the block twelve
// slots earlier. Either block missing, or a non-positive time delta,
// yields zero.
func (m *Monitor) deriveTPS(c *rpc.Client, slot uint64) (float64, *int64) {
	cur, err := c.GetBlock(slot)
	if err != nil || cur == nil {
		return 0, nil
	}

	blockTime := cur.BlockTime

	if slot < tpsSlotLookback {
		return 0, blockTime
	}

	prev, err := c.GetBlock(slot - tpsSlotLookback)
	if err != nil || prev == nil {
		return 0, blockTime
	}

	if cur.BlockTime == nil || prev.BlockTime == nil {
		return 0, blockTime
	}

	dt := *cur.BlockTime - *prev.BlockTime
	if dt <= 0 {
		return 0, blockTime
	}

	tps := float64(cur.TxCount()-prev.TxCount()) / float64(dt)
	if tps < 0 {
		tps = 0
	}

	return tps, blockTime
}
