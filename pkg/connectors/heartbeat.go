package connectors

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshworks/relay/pkg/bus"
	"github.com/meshworks/relay/pkg/connector"
	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/registry"
	"github.com/meshworks/relay/pkg/types"
)

// heartbeat is a built-in event source: while connected it publishes a
// system:heartbeat event on a fixed interval. Useful for keepalive rules
// and for smoke-testing flows without real hardware.
type heartbeat struct {
	id       string
	interval time.Duration
	sink     bus.Sink
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	beats  int64
}

func init() {
	registry.RegisterBuilder(registry.TypeInfo{
		Type:    "heartbeat",
		Version: "1.0.0",
		Capabilities: []types.CapabilityDefinition{
			{
				ID:                 "heartbeat:control",
				Name:               "Heartbeat control",
				Operations:         []string{"trigger", "get"},
				RequiresConnection: true,
			},
		},
		Validate: func(config map[string]any) error {
			if raw, ok := config["interval"].(string); ok {
				if _, err := time.ParseDuration(raw); err != nil {
					return errdefs.Wrap(errdefs.KindConfig, err, "invalid heartbeat interval")
				}
			}
			return nil
		},
		Factory: func(cfg types.InstanceConfig, logger zerolog.Logger, sink bus.Sink) (connector.Driver, error) {
			interval := 30 * time.Second
			if raw, ok := cfg.Config["interval"].(string); ok {
				if d, err := time.ParseDuration(raw); err == nil {
					interval = d
				}
			}
			return &heartbeat{id: cfg.ID, interval: interval, sink: sink, logger: logger}, nil
		},
	})
}

func (h *heartbeat) PerformConnect(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.beat()
			}
		}
	}()
	return nil
}

func (h *heartbeat) PerformDisconnect(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	return nil
}

func (h *heartbeat) ExecuteCapability(_ context.Context, _, op string, _ map[string]any) (any, error) {
	switch op {
	case "trigger":
		h.beat()
		return map[string]any{"triggered": true}, nil
	case "get":
		h.mu.Lock()
		beats := h.beats
		h.mu.Unlock()
		return map[string]any{"beats": beats, "interval": h.interval.String()}, nil
	default:
		return nil, errdefs.New(errdefs.KindCapability, "unsupported operation %q", op)
	}
}

func (h *heartbeat) beat() {
	h.mu.Lock()
	h.beats++
	n := h.beats
	h.mu.Unlock()

	err := h.sink.Publish(&types.Event{
		Type:   "system:heartbeat",
		Source: h.id,
		Data:   map[string]any{"beat": n},
	})
	if err != nil {
		h.logger.Warn().Err(err).Msg("heartbeat publish failed")
	}
}
