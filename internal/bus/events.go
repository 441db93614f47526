package bus

import "time"

type EventType string

const (
	EventMonitoringStarted EventType = "monitoring_started"
	EventNetworkMetrics    EventType = "network_metrics"
	EventProtocolMetrics   EventType = "protocol_metrics"
	EventHealthCheck       EventType = "health_check"
	EventHealthError       EventType = "health_error"
	EventAlert             EventType = "alert"
	EventSlotUpdate        EventType = "slot_update"
	EventFinalityUpdate    EventType = "finality_update"
	EventNetworkError      EventType = "network_error"
	EventProtocolError     EventType = "protocol_error"
	EventMonitoringStopped EventType = "monitoring_stopped"
)

// Event is a single monitor notification. Payload holds one of the typed
// payloads below, or a collector sample for the *_metrics events.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

type SlotUpdatePayload struct {
	Provider string `json:"provider"`
	Slot     uint64 `json:"slot"`
	Parent   uint64 `json:"parent"`
	Root     uint64 `json:"root"`
}

type FinalityUpdatePayload struct {
	Provider string `json:"provider"`
	Root     uint64 `json:"root"`
}

type NetworkErrorPayload struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
}

type ProtocolErrorPayload struct {
	Protocol string `json:"protocol"`
	Error    string `json:"error"`
}

type HealthCheckPayload struct {
	Protocol string `json:"protocol"`
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
}

type HealthErrorPayload struct {
	Protocol string `json:"protocol"`
	Endpoint string `json:"endpoint"`
	Error    string `json:"error"`
}
