package types

import "time"

// ConnectorStatus represents the lifecycle state of a connector instance
type ConnectorStatus string

const (
	StatusDisconnected ConnectorStatus = "disconnected"
	StatusConnecting   ConnectorStatus = "connecting"
	StatusConnected    ConnectorStatus = "connected"
	StatusError        ConnectorStatus = "error"
)

// ParameterSpec declares one capability parameter
type ParameterSpec struct {
	Type     string `json:"type"` // string, number, boolean, object, array
	Required bool   `json:"required"`
}

// CapabilityDefinition is the declarative schema a connector type exposes
// per capability. Definitions are immutable once the type is registered.
type CapabilityDefinition struct {
	ID                 string                   `json:"id"` // namespaced, e.g. "camera:snapshot"
	Name               string                   `json:"name,omitempty"`
	Operations         []string                 `json:"operations"`
	DataTypes          []string                 `json:"dataTypes,omitempty"`
	Events             []string                 `json:"events,omitempty"`
	Parameters         map[string]ParameterSpec `json:"parameters,omitempty"`
	RequiresConnection bool                     `json:"requiresConnection"`
}

// SupportsOperation reports whether op is declared for this capability
func (c *CapabilityDefinition) SupportsOperation(op string) bool {
	for _, o := range c.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Producer operations increment MessagesSent, consumer operations
// increment MessagesReceived; everything else only touches LastActivity.
var (
	producerOps = map[string]bool{"write": true, "publish": true, "trigger": true, "send": true}
	consumerOps = map[string]bool{"read": true, "subscribe": true, "list": true, "get": true}
)

// IsProducerOp reports whether op counts against MessagesSent
func IsProducerOp(op string) bool { return producerOps[op] }

// IsConsumerOp reports whether op counts against MessagesReceived
func IsConsumerOp(op string) bool { return consumerOps[op] }

// ConnectorStats tracks per-instance activity counters
type ConnectorStats struct {
	MessagesSent     int64     `json:"messagesSent"`
	MessagesReceived int64     `json:"messagesReceived"`
	Errors           int64     `json:"errors"`
	LastActivity     time.Time `json:"lastActivity"`
}

// CapabilitySelection lists explicitly enabled/disabled capability ids
// in a persisted instance document. Capabilities default to enabled.
type CapabilitySelection struct {
	Enabled  []string `json:"enabled,omitempty"`
	Disabled []string `json:"disabled,omitempty"`
}

// InstanceConfig is the persisted, cycle-safe form of a connector
// instance: only the attributes an operator writes, never runtime state.
type InstanceConfig struct {
	ID           string              `json:"id"`
	Type         string              `json:"type"`
	Name         string              `json:"name,omitempty"`
	Description  string              `json:"description,omitempty"`
	Enabled      *bool               `json:"enabled,omitempty"` // nil means true
	Config       map[string]any      `json:"config,omitempty"`
	Capabilities CapabilitySelection `json:"capabilities,omitempty"`
}

// IsEnabled resolves the optional Enabled flag (default true)
func (c *InstanceConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// InstanceUpdates is an explicit update record: only mutable attributes,
// unknown capability ids rejected at apply time.
type InstanceUpdates struct {
	Name                *string        `json:"name,omitempty"`
	Description         *string        `json:"description,omitempty"`
	Config              map[string]any `json:"config,omitempty"`
	EnableCapabilities  []string       `json:"enableCapabilities,omitempty"`
	DisableCapabilities []string       `json:"disableCapabilities,omitempty"`
}

// InstanceStatus is a point-in-time snapshot of a connector instance
type InstanceStatus struct {
	ID                 string          `json:"id"`
	Type               string          `json:"type"`
	Name               string          `json:"name,omitempty"`
	Status             ConnectorStatus `json:"status"`
	Stats              ConnectorStats  `json:"stats"`
	LastConnected      time.Time       `json:"lastConnected,omitempty"`
	LastError          string          `json:"lastError,omitempty"`
	ConnectionAttempts int             `json:"connectionAttempts"`
}

// ConnectorsFile is the on-disk document holding all instance configs
type ConnectorsFile struct {
	Connectors []InstanceConfig `json:"connectors"`
}

// CapabilityMatch pairs a producer instance with a consumer instance
type CapabilityMatch struct {
	ProducerID string `json:"producerId"`
	ConsumerID string `json:"consumerId"`
}

// ConnectorHealth is the per-connector slice of a health snapshot
type ConnectorHealth struct {
	Status ConnectorStatus `json:"status"`
	Errors int64           `json:"errors"`
}

// HealthSnapshot is the payload of the periodic health:check event
type HealthSnapshot struct {
	MemoryBytes uint64                     `json:"memoryBytes"`
	Uptime      time.Duration              `json:"uptime"`
	Connectors  map[string]ConnectorHealth `json:"connectors"`
}
