package connector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/types"
)

// Driver is the type-specific part of a connector. Everything else
// (lifecycle state machine, stats, capability gating, event emission)
// is common and lives on Instance.
type Driver interface {
	// PerformConnect establishes the session with the external system
	PerformConnect(ctx context.Context) error

	// PerformDisconnect tears the session down
	PerformDisconnect(ctx context.Context) error

	// ExecuteCapability runs one validated operation. The dispatcher has
	// already checked capability, operation, connection state, and
	// parameters before this is called.
	ExecuteCapability(ctx context.Context, capID, op string, params map[string]any) (any, error)
}

// Optional lifecycle hooks a driver may implement. All are no-ops when
// absent.
type (
	ConnectHook interface{ OnConnect() }

	DisconnectHook interface{ OnDisconnect() }

	ErrorHook interface{ OnError(err error) }
)

// Lifecycle events emitted through the instance emitter. The registry
// forwards each onto the bus as "connector:<event>".
const (
	EmitConnected       = "connected"
	EmitDisconnected    = "disconnected"
	EmitConnectionError = "connection-error"
	EmitCapChanged      = "capability-changed"
	EmitOpCompleted     = "operation-completed"
	EmitOpError         = "operation-error"
	EmitConfigUpdated   = "config-updated"
)

// EmitFunc receives internal instance events for forwarding
type EmitFunc func(event string, payload map[string]any)

// CapabilityInfo pairs a definition with its per-instance enabled flag
type CapabilityInfo struct {
	Definition types.CapabilityDefinition `json:"definition"`
	Enabled    bool                       `json:"enabled"`
}

// Config assembles an Instance. The registry is the normal caller.
type Config struct {
	ID           string
	Type         string
	Name         string
	Description  string
	Capabilities []types.CapabilityDefinition
	Driver       Driver
	Logger       zerolog.Logger
	Emit         EmitFunc
}

// Instance is one managed connector: a driver plus all common behaviour.
// Lifecycle transitions and capability executions are serialised by a
// per-instance mutex; different instances run in parallel.
type Instance struct {
	id          string
	typ         string
	name        string
	description string
	driver      Driver
	caps        map[string]*types.CapabilityDefinition
	logger      zerolog.Logger
	emit        EmitFunc

	// opMu serialises Connect/Disconnect/execute for this instance
	opMu sync.Mutex

	// stateMu guards the snapshot fields below
	stateMu            sync.RWMutex
	status             types.ConnectorStatus
	stats              types.ConnectorStats
	enabled            map[string]bool
	lastConnected      time.Time
	lastError          string
	connectionAttempts int
}

// New creates an instance in the Disconnected state with every declared
// capability enabled.
func New(cfg Config) *Instance {
	caps := make(map[string]*types.CapabilityDefinition, len(cfg.Capabilities))
	enabled := make(map[string]bool, len(cfg.Capabilities))
	for i := range cfg.Capabilities {
		def := cfg.Capabilities[i]
		caps[def.ID] = &def
		enabled[def.ID] = true
	}
	emit := cfg.Emit
	if emit == nil {
		emit = func(string, map[string]any) {}
	}
	return &Instance{
		id:          cfg.ID,
		typ:         cfg.Type,
		name:        cfg.Name,
		description: cfg.Description,
		driver:      cfg.Driver,
		caps:        caps,
		enabled:     enabled,
		logger:      cfg.Logger,
		emit:        emit,
		status:      types.StatusDisconnected,
	}
}

// ID returns the instance id
func (i *Instance) ID() string { return i.id }

// Type returns the connector type id
func (i *Instance) Type() string { return i.typ }

// Name returns the user-supplied display name
func (i *Instance) Name() string { return i.name }

// Driver exposes the wrapped driver, mainly for tests
func (i *Instance) Driver() Driver { return i.driver }

// Connect drives Disconnected/Error → Connecting → Connected. Calling it
// on a Connected instance is a no-op.
func (i *Instance) Connect(ctx context.Context) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	if i.Status().Status == types.StatusConnected {
		return nil
	}
	i.setStatus(types.StatusConnecting)

	if err := i.driver.PerformConnect(ctx); err != nil {
		i.stateMu.Lock()
		i.status = types.StatusError
		i.connectionAttempts++
		i.lastError = err.Error()
		i.stateMu.Unlock()

		if hook, ok := i.driver.(ErrorHook); ok {
			hook.OnError(err)
		}
		i.emit(EmitConnectionError, map[string]any{"error": err.Error()})
		return errdefs.Wrap(errdefs.KindConnect, err, "connect %s", i.id)
	}

	i.stateMu.Lock()
	i.status = types.StatusConnected
	i.lastConnected = time.Now().UTC()
	i.connectionAttempts = 0
	i.lastError = ""
	i.stateMu.Unlock()

	if hook, ok := i.driver.(ConnectHook); ok {
		hook.OnConnect()
	}
	i.emit(EmitConnected, nil)
	i.logger.Info().Msg("connected")
	return nil
}

// Disconnect drives any state → Disconnected. Calling it on a
// Disconnected instance is a no-op. The instance ends up Disconnected
// even when the driver fails to tear down cleanly.
func (i *Instance) Disconnect(ctx context.Context) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	if i.Status().Status == types.StatusDisconnected {
		return nil
	}

	err := i.driver.PerformDisconnect(ctx)
	i.setStatus(types.StatusDisconnected)

	if hook, ok := i.driver.(DisconnectHook); ok {
		hook.OnDisconnect()
	}
	i.emit(EmitDisconnected, nil)
	if err != nil {
		return errdefs.Wrap(errdefs.KindDisconnect, err, "disconnect %s", i.id)
	}
	i.logger.Info().Msg("disconnected")
	return nil
}

// Reconnect is Disconnect followed by Connect
func (i *Instance) Reconnect(ctx context.Context) error {
	if err := i.Disconnect(ctx); err != nil {
		i.logger.Warn().Err(err).Msg("disconnect before reconnect failed")
	}
	return i.Connect(ctx)
}

// Status returns a point-in-time snapshot
func (i *Instance) Status() types.InstanceStatus {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return types.InstanceStatus{
		ID:                 i.id,
		Type:               i.typ,
		Name:               i.name,
		Status:             i.status,
		Stats:              i.stats,
		LastConnected:      i.lastConnected,
		LastError:          i.lastError,
		ConnectionAttempts: i.connectionAttempts,
	}
}

// Capabilities returns the declared definitions with enabled flags
func (i *Instance) Capabilities() []CapabilityInfo {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	out := make([]CapabilityInfo, 0, len(i.caps))
	for id, def := range i.caps {
		out = append(out, CapabilityInfo{Definition: *def, Enabled: i.enabled[id]})
	}
	return out
}

// Capability looks up one definition and its enabled flag
func (i *Instance) Capability(capID string) (*types.CapabilityDefinition, bool, bool) {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	def, ok := i.caps[capID]
	if !ok {
		return nil, false, false
	}
	return def, i.enabled[capID], true
}

// HasCapabilityEnabled reports whether capID is declared and enabled
func (i *Instance) HasCapabilityEnabled(capID string) bool {
	_, enabled, ok := i.Capability(capID)
	return ok && enabled
}

// SetCapabilityEnabled flips one capability flag. Unknown ids are
// rejected so typos never silently create state.
func (i *Instance) SetCapabilityEnabled(capID string, enabled bool) error {
	i.stateMu.Lock()
	if _, ok := i.caps[capID]; !ok {
		i.stateMu.Unlock()
		return errdefs.New(errdefs.KindCapability, "unknown capability %q on %s", capID, i.id)
	}
	changed := i.enabled[capID] != enabled
	i.enabled[capID] = enabled
	i.stateMu.Unlock()

	if changed {
		i.emit(EmitCapChanged, map[string]any{"capability": capID, "enabled": enabled})
	}
	return nil
}

// EnabledCapabilityIDs returns the ids currently enabled, for persistence
func (i *Instance) EnabledCapabilityIDs() (enabled, disabled []string) {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	for id, on := range i.enabled {
		if on {
			enabled = append(enabled, id)
		} else {
			disabled = append(disabled, id)
		}
	}
	return enabled, disabled
}

func (i *Instance) setStatus(s types.ConnectorStatus) {
	i.stateMu.Lock()
	i.status = s
	i.stateMu.Unlock()
}

// touchActivity updates stats.LastActivity; every dispatched operation
// passes through here once validation succeeds.
func (i *Instance) touchActivity() {
	i.stateMu.Lock()
	i.stats.LastActivity = time.Now().UTC()
	i.stateMu.Unlock()
}

func (i *Instance) recordResult(op string, err error) {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()
	if err != nil {
		i.stats.Errors++
		i.lastError = err.Error()
		return
	}
	switch {
	case types.IsProducerOp(op):
		i.stats.MessagesSent++
	case types.IsConsumerOp(op):
		i.stats.MessagesReceived++
	}
}
