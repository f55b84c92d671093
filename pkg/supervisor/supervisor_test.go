package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/relay/pkg/config"
	"github.com/meshworks/relay/pkg/types"

	_ "github.com/meshworks/relay/pkg/connectors"
)

func TestBackoffDelayGrowth(t *testing.T) {
	tests := []struct {
		attempts int
		base     time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{7, 60 * time.Second},
		{20, 60 * time.Second},
	}

	for _, tt := range tests {
		got := backoffDelay(tt.attempts)
		min := time.Duration(float64(tt.base) * (1 - retryJitter))
		max := time.Duration(float64(tt.base) * (1 + retryJitter))
		assert.GreaterOrEqual(t, got, min, "attempt %d", tt.attempts)
		assert.LessOrEqual(t, got, max, "attempt %d", tt.attempts)
	}
}

func TestBackoffJitterVaries(t *testing.T) {
	seen := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		seen[backoffDelay(3)] = true
	}
	assert.Greater(t, len(seen), 1, "jitter produces varying delays")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.ConnectorsFile = filepath.Join(dir, "connectors.json")
	cfg.TypesDir = ""
	cfg.MetricsListen = ""
	cfg.Health.Interval = config.Duration(time.Hour)
	cfg.Health.RetentionCron = ""
	return cfg
}

func TestBootAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	file := types.ConnectorsFile{Connectors: []types.InstanceConfig{
		{ID: "log-main", Type: "log-notify"},
	}}
	raw, err := json.Marshal(file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.ConnectorsFile, raw, 0o644))

	sup, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background()))

	inst, ok := sup.Registry.Get("log-main")
	require.True(t, ok, "instance loaded from connectors file")
	assert.Equal(t, types.StatusConnected, inst.Status().Status, "connectAll ran at boot")

	// Rules created through the running store are picked up by the engine.
	rule := &types.Rule{
		Name:    "heartbeat watch",
		Enabled: true,
		Conditions: []types.Condition{
			{Type: types.ConditionEventType, Operator: types.OpEquals, Value: "motion"},
		},
		Actions: []types.Action{
			{Type: types.ActionNotify, Order: 1, Config: map[string]any{
				"channels": []any{"log-main"},
				"message":  "motion at {{source}}",
			}},
		},
	}
	require.NoError(t, sup.Store.CreateRule(rule))

	require.NoError(t, sup.Bus.Publish(&types.Event{Type: "motion", Source: "cam-1"}))
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Bus.Drain(drainCtx))

	alarms, err := sup.Store.ListAlarms(types.AlarmFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, alarms, 1)

	ctx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	require.NoError(t, sup.Shutdown(ctx))
	assert.Equal(t, types.StatusDisconnected, inst.Status().Status)
}

func TestAutoDiscoveryAtBoot(t *testing.T) {
	cfg := testConfig(t)
	typesDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(typesDir, "ADSBConnector.json"), []byte("{}"), 0o644))
	cfg.TypesDir = typesDir

	sup, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	}()

	_, ok := sup.Registry.TypeInfoFor("adsb")
	assert.True(t, ok, "discovered type registered")
	_, ok = sup.Registry.TypeInfoFor("log-notify")
	assert.True(t, ok, "built-in builders registered without a types dir")
}
