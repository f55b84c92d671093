package types

import "time"

// Operator is a condition/filter comparison operator
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpMin      Operator = "min"
	OpMax      Operator = "max"
	OpIn       Operator = "in"
)

// Condition fields a rule can target beside data.* paths
const (
	ConditionEventType = "eventType"
	ConditionSource    = "source"
	ConditionPriority  = "priority"
	ConditionCategory  = "category"
)

// Condition is one predicate of a rule. Type names the targeted field:
// eventType, source, priority, category, or a data.* path.
type Condition struct {
	Type     string   `json:"type"`
	Value    any      `json:"value"`
	Operator Operator `json:"operator"`
}

// Action types
const (
	ActionNotify   = "notify"
	ActionExecute  = "execute"
	ActionRecord   = "record"
	ActionEscalate = "escalate"
)

// Action is one ordered command of a rule
type Action struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
	Order  int            `json:"order"`
}

// Rule is a persistent predicate over events plus an ordered action list
type Rule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Priority    Priority    `json:"priority,omitempty"`
	Category    Category    `json:"category,omitempty"`
	Enabled     bool        `json:"enabled"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// RuleUpdates is an explicit update record for a rule. Nil fields are
// left untouched; conditions/actions replace wholesale when present.
type RuleUpdates struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Priority    *Priority    `json:"priority,omitempty"`
	Category    *Category    `json:"category,omitempty"`
	Enabled     *bool        `json:"enabled,omitempty"`
	Conditions  *[]Condition `json:"conditions,omitempty"`
	Actions     *[]Action    `json:"actions,omitempty"`
}

// AlarmStatus is the acknowledgement state of a history entry
type AlarmStatus string

const (
	AlarmActive       AlarmStatus = "active"
	AlarmAcknowledged AlarmStatus = "acknowledged"
	AlarmResolved     AlarmStatus = "resolved"
)

// AlarmEntry is one row of the append-only alarm history
type AlarmEntry struct {
	ID          string      `json:"id"`
	RuleID      string      `json:"ruleId"`
	EventType   string      `json:"eventType"`
	EventSource string      `json:"eventSource"`
	EventData   string      `json:"eventData,omitempty"` // serialised payload
	TriggeredAt time.Time   `json:"triggeredAt"`
	ResolvedAt  time.Time   `json:"resolvedAt,omitempty"`
	Status      AlarmStatus `json:"status"`
}

// AlarmAck records who acknowledged an alarm and why
type AlarmAck struct {
	ID             string    `json:"id"`
	AlarmID        string    `json:"alarmId"`
	UserID         string    `json:"userId"`
	AcknowledgedAt time.Time `json:"acknowledgedAt"`
	Notes          string    `json:"notes,omitempty"`
}

// AlarmFilter selects alarm history rows
type AlarmFilter struct {
	RuleID    string      `json:"ruleId,omitempty"`
	Status    AlarmStatus `json:"status,omitempty"`
	EventType string      `json:"eventType,omitempty"`
	Since     time.Time   `json:"since,omitempty"`
}

// StoreStats summarises the rule store contents
type StoreStats struct {
	Rules        int `json:"rules"`
	EnabledRules int `json:"enabledRules"`
	Alarms       int `json:"alarms"`
	ActiveAlarms int `json:"activeAlarms"`
}
