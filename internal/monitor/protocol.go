package monitor

import (
	"context"
	"time"

	"github.com/solforge/netmon/internal/alert"
	"github.com/solforge/netmon/internal/bus"
	"github.com/solforge/netmon/internal/configure"
	"github.com/solforge/netmon/internal/rpc"
	"go.uber.org/zap"
)

// collectProtocols runs one protocol tick over the primary connection.
func (m *Monitor) collectProtocols(ctx context.Context, mgr *rpc.Manager) {
	primary := mgr.Primary()

	for _, p := range m.gctx.Config().Protocols {
		if ctx.Err() != nil {
			return
		}

		sample := m.collectProtocol(primary.Client, p)

		m.store.Append("protocol."+p.Name, sample)
		if mm := m.metrics(); mm != nil {
			mm.SamplesStored.Inc()
		}

		m.events.Publish(bus.EventProtocolMetrics, sample)

		m.engine.Evaluate(p.Name, map[alert.Condition]float64{
			alert.ConditionLatency:      float64(sample.LatencyMs),
			alert.ConditionAvailability: sample.AvailabilityPct,
			alert.ConditionErrorRate:    sample.ErrorRatePct,
		}, sample)
	}
}

func (m *Monitor) collectProtocol(c *rpc.Client, p configure.Protocol) ProtocolSample {
	start := time.Now()

	account, err := c.GetAccountInfo(p.ProgramID)
	if err != nil {
		zap.S().Warnw("protocol collection failed",
			"protocol", p.Name,
			"error", err,
		)
		if mm := m.metrics(); mm != nil {
			mm.RPCErrors.Inc()
		}
		m.events.Publish(bus.EventProtocolError, bus.ProtocolErrorPayload{
			Protocol: p.Name,
			Error:    err.Error(),
		})
		return unreachableSample(p, time.Since(start).Milliseconds())
	}

	if account == nil {
		zap.S().Warnw("program account not found", "protocol", p.Name, "program_id", p.ProgramID)
		return unreachableSample(p, time.Since(start).Milliseconds())
	}

	// Best-effort. An empty account sample is not a failed tick.
	accounts, err := c.GetProgramAccounts(p.ProgramID, maxProgramAccounts)
	if err != nil {
		zap.S().Debugw("program accounts fetch failed", "protocol", p.Name, "error", err)
		accounts = nil
	}

	latency := time.Since(start).Milliseconds()

	th := m.gctx.Config().Monitor.Thresholds
	status := classifyProtocol(latency, th.ProtocolLatencyDownMs, th.ProtocolLatencyDegradedMs)

	return ProtocolSample{
		Name:            p.Name,
		ProgramID:       p.ProgramID,
		Status:          status,
		LatencyMs:       latency,
		AvailabilityPct: availabilityFor(status),
		AccountsCount:   len(accounts),
		ErrorRatePct:    errorRateFor(status),
		Timestamp:       time.Now(),
	}
}

// unreachableSample is the collapsed worst case: program absent or the
// tick failed outright.
func unreachableSample(p configure.Protocol, latencyMs int64) ProtocolSample {
	return ProtocolSample{
		Name:            p.Name,
		ProgramID:       p.ProgramID,
		Status:          StatusDown,
		LatencyMs:       latencyMs,
		AvailabilityPct: availabilityDown,
		ErrorRatePct:    errorRateUnreachable,
		Timestamp:       time.Now(),
	}
}

func classifyProtocol(latencyMs, downMs, degradedMs int64) Status {
	switch {
	case latencyMs > downMs:
		return StatusDown
	case latencyMs > degradedMs:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func availabilityFor(status Status) float64 {
	switch status {
	case StatusHealthy:
		return availabilityHealthy
	case StatusDegraded:
		return availabilityDegraded
	default:
		return availabilityDown
	}
}

func errorRateFor(status Status) float64 {
	switch status {
	case StatusHealthy:
		return errorRateHealthy
	case StatusDegraded:
		return errorRateDegraded
	default:
		return errorRateDown
	}
}
