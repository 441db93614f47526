package monitor

import (
	"context"
	"time"

	"github.com/solforge/netmon/internal/alert"
	"github.com/solforge/netmon/internal/bus"
	"github.com/solforge/netmon/internal/util"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// collectHealth probes every configured external status endpoint.
func (m *Monitor) collectHealth(ctx context.Context) {
	for _, p := range m.gctx.Config().Protocols {
		for _, endpoint := range p.HealthEndpoints {
			if ctx.Err() != nil {
				return
			}

			res := m.probeEndpoint(p.Name, endpoint)

			m.store.Append("health."+p.Name, res)
			if mm := m.metrics(); mm != nil {
				mm.SamplesStored.Inc()
			}

			m.events.Publish(bus.EventHealthCheck, bus.HealthCheckPayload{
				Protocol: p.Name,
				Endpoint: endpoint,
				Status:   string(res.Status),
			})

			m.engine.Evaluate(p.Name, map[alert.Condition]float64{
				alert.ConditionLatency: float64(res.LatencyMs),
			}, res)
		}
	}
}

// probeEndpoint issues a GET with the probe timeout. Any HTTP response is
// at least Degraded; only a clean 200 is Healthy; a transport error or
// timeout is Down. Latency is wall time regardless of outcome.
func (m *Monitor) probeEndpoint(protocol, endpoint string) HealthProbeResult {
	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)

	start := time.Now()
	err := m.probe.DoTimeout(req, res, m.probeTimeout)
	latency := time.Since(start).Milliseconds()

	result := HealthProbeResult{
		Protocol:  protocol,
		Endpoint:  endpoint,
		LatencyMs: latency,
		Timestamp: time.Now(),
	}

	if err != nil {
		zap.S().Warnw("health probe failed",
			"protocol", protocol,
			"endpoint", endpoint,
			"error", err,
		)
		if mm := m.metrics(); mm != nil {
			mm.ProbeErrors.Inc()
		}
		m.events.Publish(bus.EventHealthError, bus.HealthErrorPayload{
			Protocol: protocol,
			Endpoint: endpoint,
			Error:    err.Error(),
		})

		result.Status = StatusDown
		return result
	}

	if res.StatusCode() == fasthttp.StatusOK {
		result.Status = StatusHealthy
	} else {
		result.Status = StatusDegraded
	}

	body := res.Body()
	if len(body) > maxRawResponse {
		body = body[:maxRawResponse]
	}
	result.RawResponse = util.B2S(append([]byte(nil), body...))

	return result
}
