package connectors

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/meshworks/relay/pkg/bus"
	"github.com/meshworks/relay/pkg/connector"
	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/registry"
	"github.com/meshworks/relay/pkg/types"
)

// logNotifier is the built-in notification channel: send writes the
// message to the hub log. It is the channel of last resort and the one
// every deployment has.
type logNotifier struct {
	logger zerolog.Logger
}

func init() {
	registry.RegisterBuilder(registry.TypeInfo{
		Type:    "log-notify",
		Version: "1.0.0",
		Capabilities: []types.CapabilityDefinition{
			{
				ID:         "notify:log",
				Name:       "Log notification",
				Operations: []string{"send"},
				Parameters: map[string]types.ParameterSpec{
					"message":  {Type: "string", Required: true},
					"priority": {Type: "string"},
					"metadata": {Type: "object"},
				},
			},
		},
		Factory: func(cfg types.InstanceConfig, logger zerolog.Logger, _ bus.Sink) (connector.Driver, error) {
			return &logNotifier{logger: logger}, nil
		},
	})
}

func (n *logNotifier) PerformConnect(context.Context) error    { return nil }
func (n *logNotifier) PerformDisconnect(context.Context) error { return nil }

func (n *logNotifier) ExecuteCapability(_ context.Context, capID, op string, params map[string]any) (any, error) {
	message, _ := params["message"].(string)
	if message == "" {
		return nil, errdefs.New(errdefs.KindExecution, "empty notification message")
	}
	evt := n.logger.Info().Str("capability", capID)
	if priority, ok := params["priority"].(string); ok && priority != "" {
		evt = evt.Str("priority", priority)
	}
	evt.Msg(message)
	return map[string]any{"delivered": true}, nil
}
