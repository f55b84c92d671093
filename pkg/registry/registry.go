package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/meshworks/relay/pkg/bus"
	"github.com/meshworks/relay/pkg/connector"
	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/log"
	"github.com/meshworks/relay/pkg/types"
)

// Factory builds a driver for one instance. The registry hands the
// driver a scoped logger and a publish-only bus sink; drivers never see
// the registry itself, which keeps the object graph cycle-free and the
// persisted form serialisable.
type Factory func(cfg types.InstanceConfig, logger zerolog.Logger, sink bus.Sink) (connector.Driver, error)

// ValidateFunc checks an instance config document for a type
type ValidateFunc func(config map[string]any) error

// TypeInfo describes one registered connector type
type TypeInfo struct {
	Type         string
	Version      string
	Capabilities []types.CapabilityDefinition
	Factory      Factory
	Validate     ValidateFunc
}

// builder catalog: connector packages self-register at init time so
// auto-discovery can resolve a derived type id to a factory.
var (
	buildersMu sync.RWMutex
	builders   = make(map[string]TypeInfo)
)

// RegisterBuilder adds a type to the global builder catalog. Intended to
// be called from init() in connector packages; later registrations for
// the same id win so tests can substitute fakes.
func RegisterBuilder(info TypeInfo) {
	buildersMu.Lock()
	builders[info.Type] = info
	buildersMu.Unlock()
}

func lookupBuilder(typeID string) (TypeInfo, bool) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	info, ok := builders[typeID]
	return info, ok
}

// RegisterCatalogued registers every builder from the global catalogue
// that this registry does not already know. Built-in types are usable
// without a discovery directory.
func (r *Registry) RegisterCatalogued() {
	buildersMu.RLock()
	catalogue := make([]TypeInfo, 0, len(builders))
	for _, info := range builders {
		catalogue = append(catalogue, info)
	}
	buildersMu.RUnlock()

	for _, info := range catalogue {
		if _, exists := r.TypeInfoFor(info.Type); exists {
			continue
		}
		if err := r.RegisterType(info); err != nil {
			r.logger.Warn().Err(err).Str("type", info.Type).Msg("builder registration failed")
		}
	}
}

// emitEventTypes maps internal instance emitter events to bus types
var emitEventTypes = map[string]string{
	connector.EmitConnected:       types.EventConnectorConnected,
	connector.EmitDisconnected:    types.EventConnectorDisconnected,
	connector.EmitConnectionError: types.EventConnectorConnectionError,
	connector.EmitCapChanged:      types.EventConnectorCapChanged,
	connector.EmitOpCompleted:     types.EventConnectorOpCompleted,
	connector.EmitOpError:         types.EventConnectorOpError,
	connector.EmitConfigUpdated:   types.EventConnectorUpdated,
}

// Registry is the catalogue of connector types and instances
type Registry struct {
	sink   bus.Sink
	logger zerolog.Logger

	mu        sync.RWMutex
	types     map[string]*TypeInfo
	instances map[string]*connector.Instance
	configs   map[string]*types.InstanceConfig

	saver *saver
}

// NewRegistry creates an empty registry publishing to the given sink
func NewRegistry(sink bus.Sink) *Registry {
	return &Registry{
		sink:      sink,
		logger:    log.WithComponent("registry"),
		types:     make(map[string]*TypeInfo),
		instances: make(map[string]*connector.Instance),
		configs:   make(map[string]*types.InstanceConfig),
	}
}

// RegisterType adds a type to this registry's catalogue. Duplicate ids
// and contract violations are rejected.
func (r *Registry) RegisterType(info TypeInfo) error {
	if info.Type == "" {
		return errdefs.New(errdefs.KindConfig, "type id is required")
	}
	if info.Factory == nil {
		return errdefs.New(errdefs.KindConfig, "type %q has no factory", info.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[info.Type]; exists {
		return errdefs.New(errdefs.KindConfig, "type %q already registered", info.Type)
	}
	r.types[info.Type] = &info
	r.logger.Info().Str("type", info.Type).Str("version", info.Version).
		Int("capabilities", len(info.Capabilities)).Msg("type registered")
	return nil
}

// Types lists registered type ids, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TypeInfoFor returns the catalogue entry for a type id
func (r *Registry) TypeInfoFor(typeID string) (*TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[typeID]
	return info, ok
}

// CreateInstance validates the config, builds the driver, wires event
// forwarding, and registers the instance. The new instance starts
// Disconnected; connecting is the supervisor's job.
func (r *Registry) CreateInstance(cfg types.InstanceConfig) (*connector.Instance, error) {
	if cfg.ID == "" {
		return nil, errdefs.New(errdefs.KindConfig, "instance id is required")
	}
	if cfg.Type == "" {
		return nil, errdefs.New(errdefs.KindConfig, "instance %q has no type", cfg.ID)
	}

	r.mu.RLock()
	info, typeOK := r.types[cfg.Type]
	_, dup := r.instances[cfg.ID]
	r.mu.RUnlock()

	if !typeOK {
		return nil, errdefs.New(errdefs.KindConfig, "unknown connector type %q", cfg.Type)
	}
	if dup {
		return nil, errdefs.New(errdefs.KindConfig, "instance id %q already exists", cfg.ID)
	}
	if info.Validate != nil {
		if err := info.Validate(cfg.Config); err != nil {
			return nil, errdefs.Wrap(errdefs.KindConfig, err, "invalid config for %q", cfg.ID)
		}
	}

	logger := log.WithConnectorID(cfg.ID)
	driver, err := info.Factory(cfg, logger, r.sink)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindConfig, err, "build driver for %q", cfg.ID)
	}

	id := cfg.ID
	inst := connector.New(connector.Config{
		ID:           cfg.ID,
		Type:         cfg.Type,
		Name:         cfg.Name,
		Description:  cfg.Description,
		Capabilities: info.Capabilities,
		Driver:       driver,
		Logger:       logger,
		Emit: func(event string, payload map[string]any) {
			r.forward(id, event, payload)
		},
	})

	for _, capID := range cfg.Capabilities.Disabled {
		if err := inst.SetCapabilityEnabled(capID, false); err != nil {
			return nil, errdefs.Wrap(errdefs.KindConfig, err, "instance %q", cfg.ID)
		}
	}

	stored := cfg
	r.mu.Lock()
	if _, raced := r.instances[cfg.ID]; raced {
		r.mu.Unlock()
		return nil, errdefs.New(errdefs.KindConfig, "instance id %q already exists", cfg.ID)
	}
	r.instances[cfg.ID] = inst
	r.configs[cfg.ID] = &stored
	r.mu.Unlock()

	r.publish(types.EventConnectorCreated, map[string]any{
		"connectorId": cfg.ID,
		"type":        cfg.Type,
	})
	r.scheduleSave()
	return inst, nil
}

// UpdateInstance merges config and capability enable/disable state
func (r *Registry) UpdateInstance(id string, updates types.InstanceUpdates) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	cfg := r.configs[id]
	if !ok {
		r.mu.Unlock()
		return errdefs.New(errdefs.KindNotFound, "instance %q not found", id)
	}
	if updates.Name != nil {
		cfg.Name = *updates.Name
	}
	if updates.Description != nil {
		cfg.Description = *updates.Description
	}
	if len(updates.Config) > 0 {
		if cfg.Config == nil {
			cfg.Config = make(map[string]any, len(updates.Config))
		}
		for k, v := range updates.Config {
			cfg.Config[k] = v
		}
	}
	r.mu.Unlock()

	for _, capID := range updates.EnableCapabilities {
		if err := inst.SetCapabilityEnabled(capID, true); err != nil {
			return err
		}
	}
	for _, capID := range updates.DisableCapabilities {
		if err := inst.SetCapabilityEnabled(capID, false); err != nil {
			return err
		}
	}

	r.publish(types.EventConnectorUpdated, map[string]any{"connectorId": id})
	r.scheduleSave()
	return nil
}

// RemoveInstance drops an instance, driving it to Disconnected first
func (r *Registry) RemoveInstance(ctx context.Context, id string) error {
	r.mu.RLock()
	inst, ok := r.instances[id]
	r.mu.RUnlock()
	if !ok {
		return errdefs.New(errdefs.KindNotFound, "instance %q not found", id)
	}

	// Disconnect outside the registry lock; transitions can block on I/O.
	if err := inst.Disconnect(ctx); err != nil {
		r.logger.Warn().Err(err).Str("connector_id", id).Msg("disconnect before removal failed")
	}

	r.mu.Lock()
	delete(r.instances, id)
	delete(r.configs, id)
	r.mu.Unlock()

	r.publish(types.EventConnectorRemoved, map[string]any{"connectorId": id})
	r.scheduleSave()
	return nil
}

// Get returns an instance by id
func (r *Registry) Get(id string) (*connector.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// List returns all instances, sorted by id
func (r *Registry) List() []*connector.Instance {
	r.mu.RLock()
	out := make([]*connector.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ConfigFor returns the stored config document for an instance
func (r *Registry) ConfigFor(id string) (types.InstanceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return types.InstanceConfig{}, false
	}
	return *cfg, true
}

// ConnectAll connects every enabled instance, best effort, and returns
// the per-instance outcome. Disabled instances are skipped with no entry.
func (r *Registry) ConnectAll(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for _, inst := range r.List() {
		if cfg, ok := r.ConfigFor(inst.ID()); ok && !cfg.IsEnabled() {
			continue
		}
		out[inst.ID()] = inst.Connect(ctx)
	}
	return out
}

// DisconnectAll disconnects every instance, best effort
func (r *Registry) DisconnectAll(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for _, inst := range r.List() {
		out[inst.ID()] = inst.Disconnect(ctx)
	}
	return out
}

// FindByCapability returns instances with the capability declared and
// enabled
func (r *Registry) FindByCapability(capID string) []*connector.Instance {
	var out []*connector.Instance
	for _, inst := range r.List() {
		if inst.HasCapabilityEnabled(capID) {
			out = append(out, inst)
		}
	}
	return out
}

// FindCapabilityMatches returns the producer × consumer cross product
// for the two capabilities, excluding self-pairs. Used to wire default
// flows between compatible connectors.
func (r *Registry) FindCapabilityMatches(srcCap, dstCap string) []types.CapabilityMatch {
	producers := r.FindByCapability(srcCap)
	consumers := r.FindByCapability(dstCap)
	var out []types.CapabilityMatch
	for _, p := range producers {
		for _, c := range consumers {
			if p.ID() == c.ID() {
				continue
			}
			out = append(out, types.CapabilityMatch{ProducerID: p.ID(), ConsumerID: c.ID()})
		}
	}
	return out
}

// forward republishes an instance emitter event on the global bus as
// connector:<event> with the connector id merged into the payload.
func (r *Registry) forward(id, event string, payload map[string]any) {
	busType, ok := emitEventTypes[event]
	if !ok {
		busType = "connector:" + event
	}
	data := map[string]any{"connectorId": id}
	for k, v := range payload {
		data[k] = v
	}
	r.publish(busType, data)
}

func (r *Registry) publish(eventType string, data map[string]any) {
	if r.sink == nil {
		return
	}
	err := r.sink.Publish(&types.Event{
		Type:   eventType,
		Source: types.SourceSystem,
		Data:   data,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("event_type", eventType).Msg("publish failed")
	}
}
