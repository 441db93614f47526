package monitor

import "time"

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// NetworkSample is one provider's chain liveness/latency/throughput
// reading, produced once per network collector tick.
type NetworkSample struct {
	Provider    string    `json:"provider"`
	Slot        uint64    `json:"slot"`
	BlockHeight uint64    `json:"block_height"`
	BlockTime   *int64    `json:"block_time,omitempty"`
	LatencyMs   int64     `json:"latency_ms"`
	TPS         float64   `json:"tps"`
	Supply      *uint64   `json:"supply,omitempty"`
	Healthy     bool      `json:"healthy"`
	Epoch       uint64    `json:"epoch"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// ProtocolSample is one tracked protocol's on-chain reachability reading,
// produced once per protocol collector tick over the primary connection.
type ProtocolSample struct {
	Name            string  `json:"name"`
	ProgramID       string  `json:"program_id"`
	Status          Status  `json:"status"`
	LatencyMs       int64   `json:"latency_ms"`
	AvailabilityPct float64 `json:"availability_pct"`
	AccountsCount   int     `json:"accounts_count"`
	ErrorRatePct    float64 `json:"error_rate_pct"`

	// Extension points. No collector populates these yet.
	LastTransaction *string  `json:"last_transaction,omitempty"`
	Volume24h       *float64 `json:"volume_24h,omitempty"`
	TVL             *float64 `json:"tvl,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// HealthProbeResult is one external HTTP probe outcome.
type HealthProbeResult struct {
	Protocol    string    `json:"protocol"`
	Endpoint    string    `json:"endpoint"`
	Status      Status    `json:"status"`
	LatencyMs   int64     `json:"latency_ms"`
	RawResponse string    `json:"raw_response,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	// Slots between the two block samples of the TPS derivation, roughly
	// five seconds at typical slot cadence.
	tpsSlotLookback = 12

	availabilityHealthy  = 99.0
	availabilityDegraded = 85.0
	availabilityDown     = 0.0

	errorRateHealthy  = 0.1
	errorRateDegraded = 5.0
	errorRateDown     = 25.0

	// Collapsed values for an absent program or a failed collection tick.
	errorRateUnreachable = 100.0

	// Accounts fetched per protocol tick. Reachability only needs a
	// bounded sample, not the full account set.
	maxProgramAccounts = 100

	// Bytes of probe response body retained on a sample.
	maxRawResponse = 512

	// Alert events attached to a dashboard snapshot.
	snapshotAlertWindow = 20
)
