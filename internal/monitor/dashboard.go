package monitor

import (
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/solforge/netmon/internal/alert"
	"github.com/solforge/netmon/internal/rpc"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is the consolidated dashboard view: the freshest sample per
// provider and protocol, recent alerts, and derived uptime. It is
// assembled on demand from the store and never triggers collection.
type Snapshot struct {
	Network      map[string]NetworkSample `json:"network"`
	Protocols    []ProtocolSample         `json:"protocols"`
	RecentAlerts []alert.Event            `json:"recent_alerts"`
	Uptime       Uptime                   `json:"uptime"`
	GeneratedAt  time.Time                `json:"generated_at"`
}

// Uptime is the fraction of retained network samples that were healthy.
type Uptime struct {
	Providers  map[string]float64 `json:"providers"`
	OverallPct float64            `json:"overall_pct"`
}

// Export wraps a snapshot with the registry and rule configuration for
// external persistence.
type Export struct {
	ExportedAt time.Time      `json:"exported_at"`
	Network    string         `json:"network"`
	Providers  []rpc.Provider `json:"providers"`
	Rules      []alert.Rule   `json:"rules"`
	Dashboard  Snapshot       `json:"dashboard"`
}

// GetDashboardData reads the most recent stored sample per known key. A
// key appears only once at least one sample has been stored for it.
func (m *Monitor) GetDashboardData() Snapshot {
	snap := Snapshot{
		Network:      make(map[string]NetworkSample),
		Protocols:    []ProtocolSample{},
		RecentAlerts: m.engine.Recent(snapshotAlertWindow),
		Uptime: Uptime{
			Providers: make(map[string]float64),
		},
		GeneratedAt: time.Now(),
	}

	var healthyTotal, sampleTotal int

	for _, key := range m.store.Keys() {
		switch {
		case strings.HasPrefix(key, "network."):
			pts := m.store.Read(key, 1)
			if len(pts) == 0 {
				continue
			}
			sample, ok := pts[0].Sample.(NetworkSample)
			if !ok {
				continue
			}
			provider := strings.TrimPrefix(key, "network.")
			snap.Network[provider] = sample

			healthy, total := m.providerUptime(key)
			if total > 0 {
				snap.Uptime.Providers[provider] = 100 * float64(healthy) / float64(total)
			}
			healthyTotal += healthy
			sampleTotal += total
		case strings.HasPrefix(key, "protocol."):
			pts := m.store.Read(key, 1)
			if len(pts) == 0 {
				continue
			}
			if sample, ok := pts[0].Sample.(ProtocolSample); ok {
				snap.Protocols = append(snap.Protocols, sample)
			}
		}
	}

	if sampleTotal > 0 {
		snap.Uptime.OverallPct = 100 * float64(healthyTotal) / float64(sampleTotal)
	}

	return snap
}

func (m *Monitor) providerUptime(key string) (healthy, total int) {
	for _, pt := range m.store.Read(key, 0) {
		sample, ok := pt.Sample.(NetworkSample)
		if !ok {
			continue
		}
		total++
		if sample.Healthy {
			healthy++
		}
	}
	return healthy, total
}

// ExportData serializes the registry, rule configuration, and current
// snapshot.
func (m *Monitor) ExportData() ([]byte, error) {
	return json.MarshalIndent(Export{
		ExportedAt: time.Now(),
		Network:    m.reg.Network(),
		Providers:  m.reg.Providers(),
		Rules:      m.engine.Rules(),
		Dashboard:  m.GetDashboardData(),
	}, "", "  ")
}
