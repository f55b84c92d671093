package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/relay/pkg/errdefs"
)

func TestDispatchGating(t *testing.T) {
	tests := []struct {
		name     string
		capID    string
		op       string
		params   map[string]any
		setup    func(*Instance)
		wantKind errdefs.Kind
	}{
		{
			name:     "unknown capability",
			capID:    "camera:ptz",
			op:       "move",
			wantKind: errdefs.KindCapability,
		},
		{
			name:  "disabled capability",
			capID: "telegram:send",
			op:    "send",
			setup: func(i *Instance) {
				_ = i.SetCapabilityEnabled("telegram:send", false)
			},
			wantKind: errdefs.KindCapability,
		},
		{
			name:     "unsupported operation",
			capID:    "telegram:send",
			op:       "read",
			wantKind: errdefs.KindCapability,
		},
		{
			name:     "connection required but disconnected",
			capID:    "camera:snapshot",
			op:       "get",
			wantKind: errdefs.KindLifecycle,
		},
		{
			name:     "missing required parameter",
			capID:    "telegram:send",
			op:       "send",
			params:   map[string]any{},
			wantKind: errdefs.KindParameter,
		},
		{
			name:     "wrong parameter type",
			capID:    "telegram:send",
			op:       "send",
			params:   map[string]any{"message": 42},
			wantKind: errdefs.KindParameter,
		},
		{
			name:     "undeclared parameter",
			capID:    "telegram:send",
			op:       "send",
			params:   map[string]any{"message": "hi", "ttl": 5},
			wantKind: errdefs.KindParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver := &fakeDriver{}
			rec := &emitRecorder{}
			inst := newTestInstance(driver, rec.fn)
			if tt.setup != nil {
				tt.setup(inst)
			}
			d := NewDispatcher()

			_, err := d.Execute(context.Background(), inst, tt.capID, tt.op, tt.params, 0)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, errdefs.KindOf(err))

			// Gating rejections leave no trace: the driver never ran, stats
			// are untouched, and nothing was emitted.
			assert.Equal(t, 0, driver.execCalls)
			st := inst.Status()
			assert.Zero(t, st.Stats.MessagesSent)
			assert.Zero(t, st.Stats.MessagesReceived)
			assert.Zero(t, st.Stats.Errors)
			for _, e := range rec.list() {
				assert.NotEqual(t, EmitOpError, e)
				assert.NotEqual(t, EmitOpCompleted, e)
			}
		})
	}
}

func TestDispatchSuccess(t *testing.T) {
	driver := &fakeDriver{executeResult: map[string]any{"delivered": true}}
	rec := &emitRecorder{}
	inst := newTestInstance(driver, rec.fn)
	d := NewDispatcher()

	result, err := d.Execute(context.Background(), inst, "telegram:send", "send",
		map[string]any{"message": "hello"}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"delivered": true}, result)

	st := inst.Status()
	assert.EqualValues(t, 1, st.Stats.MessagesSent, "send is a producer operation")
	assert.Zero(t, st.Stats.MessagesReceived)
	assert.False(t, st.Stats.LastActivity.IsZero())
	assert.Contains(t, rec.list(), EmitOpCompleted)
}

func TestDispatchConsumerOpCountsReceived(t *testing.T) {
	driver := &fakeDriver{}
	inst := newTestInstance(driver, nil)
	require.NoError(t, inst.Connect(context.Background()))
	d := NewDispatcher()

	_, err := d.Execute(context.Background(), inst, "camera:snapshot", "get",
		map[string]any{"quality": 90.0}, 0)
	require.NoError(t, err)

	st := inst.Status()
	assert.EqualValues(t, 1, st.Stats.MessagesReceived)
	assert.Zero(t, st.Stats.MessagesSent)
}

func TestDispatchExecutionFailure(t *testing.T) {
	driver := &fakeDriver{executeErr: errors.New("api returned 500")}
	rec := &emitRecorder{}
	inst := newTestInstance(driver, rec.fn)
	d := NewDispatcher()

	_, err := d.Execute(context.Background(), inst, "telegram:send", "send",
		map[string]any{"message": "hello"}, 0)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindExecution, errdefs.KindOf(err))

	st := inst.Status()
	assert.EqualValues(t, 1, st.Stats.Errors)
	assert.Contains(t, st.LastError, "500")
	assert.Equal(t, 1, driver.onErrorCalls)
	assert.Contains(t, rec.list(), EmitOpError)
}

// slowDriver blocks in ExecuteCapability until its context expires
type slowDriver struct{ fakeDriver }

func (s *slowDriver) ExecuteCapability(ctx context.Context, capID, op string, params map[string]any) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDispatchTimeout(t *testing.T) {
	inst := newTestInstance(&slowDriver{}, nil)
	d := NewDispatcher()

	start := time.Now()
	_, err := d.Execute(context.Background(), inst, "telegram:send", "send",
		map[string]any{"message": "hello"}, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindTimeout, errdefs.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDispatchSerialisedPerInstance(t *testing.T) {
	driver := &fakeDriver{}
	inst := newTestInstance(driver, nil)
	d := NewDispatcher()

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := d.Execute(context.Background(), inst, "telegram:send", "send",
				map[string]any{"message": "hello"}, 0)
			done <- err
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, 20, driver.execCalls)
	assert.EqualValues(t, 20, inst.Status().Stats.MessagesSent)
}
