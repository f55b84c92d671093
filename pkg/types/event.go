package types

import (
	"strings"
	"time"
)

// Priority represents event urgency on the bus
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// priorityRank orders priorities for escalation
var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityNormal:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns the numeric order of a priority (low=0 .. critical=3).
// Unknown priorities rank as normal.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityNormal]
}

// Valid reports whether p is one of the four defined priorities
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Category represents the derived family of an event
type Category string

const (
	CategorySecurity Category = "security"
	CategoryAircraft Category = "aircraft"
	CategoryVehicle  Category = "vehicle"
	CategorySystem   Category = "system"
	CategoryGeneral  Category = "general"
)

// Event is the normalised unit carried by the bus
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Priority  Priority          `json:"priority"`
	Category  Category          `json:"category"`
	Data      map[string]any    `json:"data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SourceSystem is the event source used by the core itself
const SourceSystem = "system"

// Event types produced by the core (connectors emit their own on top)
const (
	EventConnectorCreated         = "connector:created"
	EventConnectorUpdated         = "connector:updated"
	EventConnectorRemoved         = "connector:removed"
	EventConnectorConnected       = "connector:connected"
	EventConnectorDisconnected    = "connector:disconnected"
	EventConnectorConnectionError = "connector:connection-error"
	EventConnectorOpCompleted     = "connector:operation-completed"
	EventConnectorOpError         = "connector:operation-error"
	EventConnectorCapChanged      = "connector:capability-changed"
	EventBusOverflow              = "bus:overflow"
	EventHealthCheck              = "health:check"
	EventAlarmTriggered           = "alarm:triggered"
	EventAlarmAcknowledged        = "alarm:acknowledged"
	EventAlarmResolved            = "alarm:resolved"
)

// categoryRules maps type substrings to categories. Order matters: the
// first matching family wins, so "speed" resolves to vehicle before the
// generic system bucket can claim "system" composites.
var categoryRules = []struct {
	substrings []string
	category   Category
}{
	{[]string{"motion", "smart", "detect", "intrusion", "loitering", "doorbell", "camera", "alarm", "person"}, CategorySecurity},
	{[]string{"adsb", "aircraft", "squawk", "emergency", "aprs"}, CategoryAircraft},
	{[]string{"vehicle", "speed", "plate", "radar"}, CategoryVehicle},
	{[]string{"connector", "system", "health", "bus"}, CategorySystem},
}

// DeriveCategory maps an event type to its category by substring. The
// mapping is deterministic and reproducible so rules can rely on it.
func DeriveCategory(eventType string) Category {
	t := strings.ToLower(eventType)
	for _, rule := range categoryRules {
		for _, s := range rule.substrings {
			if strings.Contains(t, s) {
				return rule.category
			}
		}
	}
	return CategoryGeneral
}

// DerivePriority maps an event type to a default priority when the
// publisher did not set one.
func DerivePriority(eventType string) Priority {
	t := strings.ToLower(eventType)
	switch {
	case containsAny(t, "emergency", "squawk"):
		return PriorityCritical
	case containsAny(t, "intrusion", "loitering", "speed-violation"):
		return PriorityHigh
	case containsAny(t, "motion", "smart-detect", "smartdetect", "vehicle", "person"):
		return PriorityNormal
	case containsAny(t, "connector:status", "system:status", "connector-status", "system-status"):
		return PriorityLow
	default:
		return PriorityNormal
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Normalize fills in derived fields that the publisher left empty.
// ID and Timestamp are filled by the bus, which owns uniqueness.
func (e *Event) Normalize() {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Category == "" {
		e.Category = DeriveCategory(e.Type)
	}
	if e.Priority == "" {
		e.Priority = DerivePriority(e.Type)
	}
}

// DataCondition is a predicate applied to one path inside Event.Data
type DataCondition struct {
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// EventFilter selects events by conjunctive optional predicates.
// An empty filter matches everything.
type EventFilter struct {
	// Types matches if the event type equals any element or contains any
	// element as a substring, so "smartDetect" targets the whole family.
	Types []string `json:"types,omitempty"`

	// Sources matches iff the event source is in the set
	Sources []string `json:"sources,omitempty"`

	// Priorities matches iff the event priority is in the set
	Priorities []Priority `json:"priorities,omitempty"`

	// DataPaths maps dotted paths inside Event.Data to predicates
	DataPaths map[string]DataCondition `json:"dataPaths,omitempty"`
}
