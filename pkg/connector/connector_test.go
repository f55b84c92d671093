package connector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/log"
	"github.com/meshworks/relay/pkg/types"
)

// fakeDriver is a scriptable driver for instance tests
type fakeDriver struct {
	mu             sync.Mutex
	connectErr     error
	disconnectErr  error
	executeErr     error
	executeResult  any
	connectCalls   int
	execCalls      int
	onErrorCalls   int
	onConnectCalls int
}

func (f *fakeDriver) PerformConnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeDriver) PerformDisconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnectErr
}

func (f *fakeDriver) ExecuteCapability(_ context.Context, capID, op string, params map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls++
	return f.executeResult, f.executeErr
}

func (f *fakeDriver) OnConnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnectCalls++
}

func (f *fakeDriver) OnError(error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onErrorCalls++
}

// emitRecorder captures instance emitter events
type emitRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *emitRecorder) fn(event string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *emitRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testCapabilities() []types.CapabilityDefinition {
	return []types.CapabilityDefinition{
		{
			ID:         "camera:snapshot",
			Name:       "Snapshot",
			Operations: []string{"get"},
			Parameters: map[string]types.ParameterSpec{
				"quality": {Type: "number"},
			},
			RequiresConnection: true,
		},
		{
			ID:         "telegram:send",
			Name:       "Send message",
			Operations: []string{"send"},
			Parameters: map[string]types.ParameterSpec{
				"message": {Type: "string", Required: true},
			},
		},
	}
}

func newTestInstance(driver Driver, emit EmitFunc) *Instance {
	return New(Config{
		ID:           "cam-1",
		Type:         "unifi-protect",
		Name:         "Front camera",
		Capabilities: testCapabilities(),
		Driver:       driver,
		Logger:       log.WithConnectorID("cam-1"),
		Emit:         emit,
	})
}

func TestConnectLifecycle(t *testing.T) {
	driver := &fakeDriver{}
	rec := &emitRecorder{}
	inst := newTestInstance(driver, rec.fn)

	require.Equal(t, types.StatusDisconnected, inst.Status().Status)

	require.NoError(t, inst.Connect(context.Background()))
	st := inst.Status()
	assert.Equal(t, types.StatusConnected, st.Status)
	assert.False(t, st.LastConnected.IsZero())
	assert.Equal(t, 0, st.ConnectionAttempts)
	assert.Equal(t, 1, driver.onConnectCalls)
	assert.Contains(t, rec.list(), EmitConnected)

	// Connect on a connected instance is a no-op.
	require.NoError(t, inst.Connect(context.Background()))
	assert.Equal(t, 1, driver.connectCalls)

	require.NoError(t, inst.Disconnect(context.Background()))
	assert.Equal(t, types.StatusDisconnected, inst.Status().Status)
	assert.Contains(t, rec.list(), EmitDisconnected)

	// Disconnect on a disconnected instance is a no-op.
	require.NoError(t, inst.Disconnect(context.Background()))
}

func TestConnectFailureEntersErrorState(t *testing.T) {
	driver := &fakeDriver{connectErr: errors.New("dial tcp: refused")}
	rec := &emitRecorder{}
	inst := newTestInstance(driver, rec.fn)

	err := inst.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, errdefs.KindConnect, errdefs.KindOf(err))

	st := inst.Status()
	assert.Equal(t, types.StatusError, st.Status)
	assert.Equal(t, 1, st.ConnectionAttempts)
	assert.Contains(t, st.LastError, "refused")
	assert.Equal(t, 1, driver.onErrorCalls)
	assert.Contains(t, rec.list(), EmitConnectionError)
}

func TestReconnectResetsAttemptCounter(t *testing.T) {
	driver := &fakeDriver{connectErr: errors.New("down")}
	inst := newTestInstance(driver, nil)

	for i := 1; i <= 3; i++ {
		require.Error(t, inst.Connect(context.Background()))
		assert.Equal(t, i, inst.Status().ConnectionAttempts)
	}

	// The endpoint comes back; the counter resets on success.
	driver.mu.Lock()
	driver.connectErr = nil
	driver.mu.Unlock()

	require.NoError(t, inst.Connect(context.Background()))
	st := inst.Status()
	assert.Equal(t, types.StatusConnected, st.Status)
	assert.Equal(t, 0, st.ConnectionAttempts)
	assert.Empty(t, st.LastError)
}

func TestDisconnectAlwaysLandsDisconnected(t *testing.T) {
	driver := &fakeDriver{disconnectErr: errors.New("session already gone")}
	inst := newTestInstance(driver, nil)
	require.NoError(t, inst.Connect(context.Background()))

	err := inst.Disconnect(context.Background())
	require.Error(t, err)
	assert.Equal(t, errdefs.KindDisconnect, errdefs.KindOf(err))
	assert.Equal(t, types.StatusDisconnected, inst.Status().Status)
}

func TestCapabilityToggle(t *testing.T) {
	rec := &emitRecorder{}
	inst := newTestInstance(&fakeDriver{}, rec.fn)

	assert.True(t, inst.HasCapabilityEnabled("camera:snapshot"))

	require.NoError(t, inst.SetCapabilityEnabled("camera:snapshot", false))
	assert.False(t, inst.HasCapabilityEnabled("camera:snapshot"))
	assert.Contains(t, rec.list(), EmitCapChanged)

	// Toggling to the same value emits nothing new.
	before := len(rec.list())
	require.NoError(t, inst.SetCapabilityEnabled("camera:snapshot", false))
	assert.Len(t, rec.list(), before)

	err := inst.SetCapabilityEnabled("no-such-cap", true)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindCapability, errdefs.KindOf(err))
}

func TestEnabledCapabilityIDs(t *testing.T) {
	inst := newTestInstance(&fakeDriver{}, nil)
	require.NoError(t, inst.SetCapabilityEnabled("telegram:send", false))

	enabled, disabled := inst.EnabledCapabilityIDs()
	assert.ElementsMatch(t, []string{"camera:snapshot"}, enabled)
	assert.ElementsMatch(t, []string{"telegram:send"}, disabled)
}
