package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/relay/pkg/bus"
	"github.com/meshworks/relay/pkg/connector"
	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/types"
)

// recordingSink captures events published by the registry
type recordingSink struct {
	mu     sync.Mutex
	events []*types.Event
}

func (s *recordingSink) Publish(e *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) byType(eventType string) []*types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// nopDriver accepts everything; tests that need behaviour script their own
type nopDriver struct{ connectErr error }

func (d *nopDriver) PerformConnect(context.Context) error    { return d.connectErr }
func (d *nopDriver) PerformDisconnect(context.Context) error { return nil }
func (d *nopDriver) ExecuteCapability(_ context.Context, capID, op string, params map[string]any) (any, error) {
	return nil, nil
}

func cameraTypeInfo(typeID string) TypeInfo {
	return TypeInfo{
		Type:    typeID,
		Version: "1.0.0",
		Capabilities: []types.CapabilityDefinition{
			{ID: "camera:stream", Operations: []string{"read"}},
			{ID: "camera:snapshot", Operations: []string{"get"}},
		},
		Factory: func(cfg types.InstanceConfig, _ zerolog.Logger, _ bus.Sink) (connector.Driver, error) {
			return &nopDriver{}, nil
		},
	}
}

func displayTypeInfo(typeID string) TypeInfo {
	return TypeInfo{
		Type:    typeID,
		Version: "1.0.0",
		Capabilities: []types.CapabilityDefinition{
			{ID: "display:video", Operations: []string{"write"}},
		},
		Factory: func(cfg types.InstanceConfig, _ zerolog.Logger, _ bus.Sink) (connector.Driver, error) {
			return &nopDriver{}, nil
		},
	}
}

func TestRegisterTypeValidation(t *testing.T) {
	r := NewRegistry(&recordingSink{})

	require.NoError(t, r.RegisterType(cameraTypeInfo("unifi-protect")))

	err := r.RegisterType(cameraTypeInfo("unifi-protect"))
	require.Error(t, err, "duplicate type id rejected")
	assert.Equal(t, errdefs.KindConfig, errdefs.KindOf(err))

	assert.Error(t, r.RegisterType(TypeInfo{Type: ""}))
	assert.Error(t, r.RegisterType(TypeInfo{Type: "no-factory"}))

	assert.Equal(t, []string{"unifi-protect"}, r.Types())
}

func TestCreateInstance(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink)
	require.NoError(t, r.RegisterType(cameraTypeInfo("unifi-protect")))

	inst, err := r.CreateInstance(types.InstanceConfig{
		ID:   "cam-7",
		Type: "unifi-protect",
		Name: "Gate camera",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusDisconnected, inst.Status().Status)

	created := sink.byType(types.EventConnectorCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "cam-7", created[0].Data["connectorId"])

	// Unknown type, duplicate id, missing id.
	_, err = r.CreateInstance(types.InstanceConfig{ID: "x", Type: "nope"})
	assert.Equal(t, errdefs.KindConfig, errdefs.KindOf(err))
	_, err = r.CreateInstance(types.InstanceConfig{ID: "cam-7", Type: "unifi-protect"})
	assert.Equal(t, errdefs.KindConfig, errdefs.KindOf(err))
	_, err = r.CreateInstance(types.InstanceConfig{Type: "unifi-protect"})
	assert.Equal(t, errdefs.KindConfig, errdefs.KindOf(err))
}

func TestCreateInstanceConfigValidation(t *testing.T) {
	r := NewRegistry(&recordingSink{})
	info := cameraTypeInfo("unifi-protect")
	info.Validate = func(config map[string]any) error {
		if config["host"] == nil {
			return errors.New("host is required")
		}
		return nil
	}
	require.NoError(t, r.RegisterType(info))

	_, err := r.CreateInstance(types.InstanceConfig{ID: "cam-1", Type: "unifi-protect"})
	require.Error(t, err)
	assert.Equal(t, errdefs.KindConfig, errdefs.KindOf(err))

	_, err = r.CreateInstance(types.InstanceConfig{
		ID: "cam-1", Type: "unifi-protect",
		Config: map[string]any{"host": "10.0.0.5"},
	})
	assert.NoError(t, err)
}

func TestCreateInstanceDisablesConfiguredCapabilities(t *testing.T) {
	r := NewRegistry(&recordingSink{})
	require.NoError(t, r.RegisterType(cameraTypeInfo("unifi-protect")))

	inst, err := r.CreateInstance(types.InstanceConfig{
		ID:   "cam-1",
		Type: "unifi-protect",
		Capabilities: types.CapabilitySelection{
			Disabled: []string{"camera:snapshot"},
		},
	})
	require.NoError(t, err)
	assert.True(t, inst.HasCapabilityEnabled("camera:stream"))
	assert.False(t, inst.HasCapabilityEnabled("camera:snapshot"))
}

func TestInstanceEventForwarding(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink)
	require.NoError(t, r.RegisterType(cameraTypeInfo("unifi-protect")))
	inst, err := r.CreateInstance(types.InstanceConfig{ID: "cam-1", Type: "unifi-protect"})
	require.NoError(t, err)

	require.NoError(t, inst.Connect(context.Background()))

	connected := sink.byType(types.EventConnectorConnected)
	require.Len(t, connected, 1)
	assert.Equal(t, "cam-1", connected[0].Data["connectorId"])
}

func TestUpdateInstance(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink)
	require.NoError(t, r.RegisterType(cameraTypeInfo("unifi-protect")))
	_, err := r.CreateInstance(types.InstanceConfig{
		ID: "cam-1", Type: "unifi-protect",
		Config: map[string]any{"host": "10.0.0.5", "port": 443},
	})
	require.NoError(t, err)

	name := "Back gate"
	err = r.UpdateInstance("cam-1", types.InstanceUpdates{
		Name:                &name,
		Config:              map[string]any{"port": 8443},
		DisableCapabilities: []string{"camera:snapshot"},
	})
	require.NoError(t, err)

	cfg, ok := r.ConfigFor("cam-1")
	require.True(t, ok)
	assert.Equal(t, "Back gate", cfg.Name)
	assert.Equal(t, 8443, cfg.Config["port"])
	assert.Equal(t, "10.0.0.5", cfg.Config["host"], "merge keeps untouched keys")

	inst, _ := r.Get("cam-1")
	assert.False(t, inst.HasCapabilityEnabled("camera:snapshot"))

	assert.Len(t, sink.byType(types.EventConnectorUpdated), 1)

	err = r.UpdateInstance("ghost", types.InstanceUpdates{})
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))

	err = r.UpdateInstance("cam-1", types.InstanceUpdates{EnableCapabilities: []string{"bogus"}})
	assert.Equal(t, errdefs.KindCapability, errdefs.KindOf(err))
}

func TestRemoveInstance(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink)
	require.NoError(t, r.RegisterType(cameraTypeInfo("unifi-protect")))
	inst, err := r.CreateInstance(types.InstanceConfig{ID: "cam-1", Type: "unifi-protect"})
	require.NoError(t, err)
	require.NoError(t, inst.Connect(context.Background()))

	require.NoError(t, r.RemoveInstance(context.Background(), "cam-1"))
	_, found := r.Get("cam-1")
	assert.False(t, found)
	assert.Equal(t, types.StatusDisconnected, inst.Status().Status)
	assert.Len(t, sink.byType(types.EventConnectorRemoved), 1)

	err = r.RemoveInstance(context.Background(), "cam-1")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestConnectAllSkipsDisabled(t *testing.T) {
	r := NewRegistry(&recordingSink{})
	require.NoError(t, r.RegisterType(cameraTypeInfo("unifi-protect")))

	disabled := false
	_, err := r.CreateInstance(types.InstanceConfig{ID: "cam-on", Type: "unifi-protect"})
	require.NoError(t, err)
	_, err = r.CreateInstance(types.InstanceConfig{ID: "cam-off", Type: "unifi-protect", Enabled: &disabled})
	require.NoError(t, err)

	results := r.ConnectAll(context.Background())
	assert.Contains(t, results, "cam-on")
	assert.NotContains(t, results, "cam-off")
	assert.NoError(t, results["cam-on"])

	on, _ := r.Get("cam-on")
	off, _ := r.Get("cam-off")
	assert.Equal(t, types.StatusConnected, on.Status().Status)
	assert.Equal(t, types.StatusDisconnected, off.Status().Status)
}

func TestFindByCapability(t *testing.T) {
	r := NewRegistry(&recordingSink{})
	require.NoError(t, r.RegisterType(cameraTypeInfo("unifi-protect")))
	require.NoError(t, r.RegisterType(displayTypeInfo("web-gui")))

	_, err := r.CreateInstance(types.InstanceConfig{ID: "cam-1", Type: "unifi-protect"})
	require.NoError(t, err)
	_, err = r.CreateInstance(types.InstanceConfig{ID: "gui-1", Type: "web-gui"})
	require.NoError(t, err)

	streams := r.FindByCapability("camera:stream")
	require.Len(t, streams, 1)
	assert.Equal(t, "cam-1", streams[0].ID())

	// Disabled capabilities drop out of discovery.
	inst, _ := r.Get("cam-1")
	require.NoError(t, inst.SetCapabilityEnabled("camera:stream", false))
	assert.Empty(t, r.FindByCapability("camera:stream"))
}

func TestFindCapabilityMatches(t *testing.T) {
	r := NewRegistry(&recordingSink{})
	require.NoError(t, r.RegisterType(cameraTypeInfo("unifi-protect")))
	require.NoError(t, r.RegisterType(displayTypeInfo("web-gui")))

	_, err := r.CreateInstance(types.InstanceConfig{ID: "cam-1", Type: "unifi-protect"})
	require.NoError(t, err)
	_, err = r.CreateInstance(types.InstanceConfig{ID: "gui-1", Type: "web-gui"})
	require.NoError(t, err)

	matches := r.FindCapabilityMatches("camera:stream", "display:video")
	require.Len(t, matches, 1)
	assert.Equal(t, types.CapabilityMatch{ProducerID: "cam-1", ConsumerID: "gui-1"}, matches[0])
}

// bidiTypeInfo declares both sides so self-pairing would be possible
func bidiTypeInfo(typeID string) TypeInfo {
	return TypeInfo{
		Type:    typeID,
		Version: "1.0.0",
		Capabilities: []types.CapabilityDefinition{
			{ID: "camera:stream", Operations: []string{"read"}},
			{ID: "display:video", Operations: []string{"write"}},
		},
		Factory: func(cfg types.InstanceConfig, _ zerolog.Logger, _ bus.Sink) (connector.Driver, error) {
			return &nopDriver{}, nil
		},
	}
}

func TestFindCapabilityMatchesExcludesSelfPairs(t *testing.T) {
	r := NewRegistry(&recordingSink{})
	require.NoError(t, r.RegisterType(bidiTypeInfo("ankke-dvr")))

	_, err := r.CreateInstance(types.InstanceConfig{ID: "dvr-1", Type: "ankke-dvr"})
	require.NoError(t, err)
	_, err = r.CreateInstance(types.InstanceConfig{ID: "dvr-2", Type: "ankke-dvr"})
	require.NoError(t, err)

	matches := r.FindCapabilityMatches("camera:stream", "display:video")
	assert.ElementsMatch(t, []types.CapabilityMatch{
		{ProducerID: "dvr-1", ConsumerID: "dvr-2"},
		{ProducerID: "dvr-2", ConsumerID: "dvr-1"},
	}, matches, "cross pairs only, never an instance with itself")
}
