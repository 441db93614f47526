// Package alert evaluates threshold rules against the freshest collector
// samples. Evaluation is stateless: a rule re-fires on every tick its
// condition holds.
package alert

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/solforge/netmon/internal/bus"
)

type Condition string

const (
	ConditionLatency      Condition = "latency"
	ConditionAvailability Condition = "availability"
	ConditionErrorRate    Condition = "error_rate"
	ConditionTPS          Condition = "tps"
)

type Operator string

const (
	OperatorGt Operator = "gt"
	OperatorLt Operator = "lt"
	OperatorEq Operator = "eq"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Condition Condition `json:"condition"`
	Threshold float64   `json:"threshold"`
	Operator  Operator  `json:"operator"`
	// ProtocolScope limits the rule to one protocol. Empty scope matches
	// network-level samples as well.
	ProtocolScope string `json:"protocol_scope,omitempty"`
	Enabled       bool   `json:"enabled"`
}

type Event struct {
	ID        string      `json:"id"`
	Rule      Rule        `json:"rule"`
	Value     float64     `json:"value"`
	Severity  Severity    `json:"severity"`
	Source    interface{} `json:"source,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type Engine struct {
	mx          sync.Mutex
	rules       []Rule
	recent      []Event
	recentLimit int
	events      *bus.Bus

	// OnFire, when set, observes every emitted alert event.
	OnFire func(Event)
}

func NewEngine(events *bus.Bus, recentLimit int) *Engine {
	if recentLimit <= 0 {
		recentLimit = 100
	}

	e := &Engine{
		recentLimit: recentLimit,
		events:      events,
	}

	for _, r := range DefaultRules() {
		e.AddRule(r)
	}

	return e
}

// DefaultRules are the rules pre-registered at monitor construction.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "high-network-latency", Condition: ConditionLatency, Threshold: 5000, Operator: OperatorGt, Enabled: true},
		{Name: "low-tps", Condition: ConditionTPS, Threshold: 1000, Operator: OperatorLt, Enabled: true},
		{Name: "low-availability", Condition: ConditionAvailability, Threshold: 90, Operator: OperatorLt, Enabled: true},
		{Name: "high-error-rate", Condition: ConditionErrorRate, Threshold: 10, Operator: OperatorGt, Enabled: true},
	}
}

func (e *Engine) AddRule(r Rule) Rule {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	e.mx.Lock()
	e.rules = append(e.rules, r)
	e.mx.Unlock()

	return r
}

func (e *Engine) RemoveRule(id string) bool {
	e.mx.Lock()
	defer e.mx.Unlock()

	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

func (e *Engine) Rules() []Rule {
	e.mx.Lock()
	defer e.mx.Unlock()

	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Recent returns up to limit of the latest alert events, most-recent-last.
func (e *Engine) Recent(limit int) []Event {
	e.mx.Lock()
	defer e.mx.Unlock()

	evs := e.recent
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}

	out := make([]Event, len(evs))
	copy(out, evs)
	return out
}

// Evaluate runs every enabled rule matching the scope against the given
// condition values. Scope is the protocol name, or empty for network
// samples.
func (e *Engine) Evaluate(scope string, values map[Condition]float64, source interface{}) {
	for _, rule := range e.snapshotRules() {
		if !rule.Enabled {
			continue
		}
		if rule.ProtocolScope != "" && rule.ProtocolScope != scope {
			continue
		}

		value, ok := values[rule.Condition]
		if !ok {
			continue
		}

		if !compare(rule.Operator, value, rule.Threshold) {
			continue
		}

		ev := Event{
			ID:        uuid.NewString(),
			Rule:      rule,
			Value:     value,
			Severity:  severityFor(value, rule.Threshold),
			Source:    source,
			Timestamp: time.Now(),
		}

		e.record(ev)

		if e.events != nil {
			e.events.Publish(bus.EventAlert, ev)
		}
		if e.OnFire != nil {
			e.OnFire(ev)
		}
	}
}

func (e *Engine) snapshotRules() []Rule {
	e.mx.Lock()
	defer e.mx.Unlock()

	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

func (e *Engine) record(ev Event) {
	e.mx.Lock()
	defer e.mx.Unlock()

	e.recent = append(e.recent, ev)
	if len(e.recent) > e.recentLimit {
		copy(e.recent, e.recent[len(e.recent)-e.recentLimit:])
		e.recent = e.recent[:e.recentLimit]
	}
}

func compare(op Operator, value, threshold float64) bool {
	switch op {
	case OperatorGt:
		return value > threshold
	case OperatorLt:
		return value < threshold
	case OperatorEq:
		return value == threshold
	default:
		return false
	}
}

// severityFor buckets by the relative deviation from the threshold. A
// zero threshold has no meaningful deviation and stays informational.
func severityFor(value, threshold float64) Severity {
	if threshold == 0 {
		return SeverityInfo
	}

	deviation := math.Abs(value-threshold) / math.Abs(threshold)
	switch {
	case deviation > 0.5:
		return SeverityCritical
	case deviation > 0.2:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
