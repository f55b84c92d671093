package connector

import (
	"context"
	"errors"
	"time"

	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/log"
	"github.com/meshworks/relay/pkg/metrics"
	"github.com/meshworks/relay/pkg/types"
)

// Dispatcher validates and executes capability operations against
// connector instances. It is the only path into driver behaviour from
// outside: the registry, the rule engine, and any in-process API all
// dispatch through here.
type Dispatcher struct {
	// DefaultTimeout bounds operations when the caller passes none.
	// Zero means no deadline.
	DefaultTimeout time.Duration
}

// NewDispatcher creates a dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Execute runs (capID, op, params) on the instance after the full
// validation pipeline. Gating rejections (unknown/disabled capability,
// unsupported operation, connection precondition, parameter schema)
// return typed errors before any side effect: stats stay untouched and
// no event is emitted.
func (d *Dispatcher) Execute(ctx context.Context, inst *Instance, capID, op string, params map[string]any, timeout time.Duration) (any, error) {
	def, enabled, declared := inst.Capability(capID)
	if !declared {
		return nil, errdefs.New(errdefs.KindCapability, "capability %q not declared by type %s", capID, inst.Type())
	}
	if !enabled {
		return nil, errdefs.New(errdefs.KindCapability, "capability %q is disabled on %s", capID, inst.ID())
	}
	if !def.SupportsOperation(op) {
		return nil, errdefs.New(errdefs.KindCapability, "operation %q not supported by %s", op, capID)
	}
	if def.RequiresConnection && inst.Status().Status != types.StatusConnected {
		return nil, errdefs.New(errdefs.KindLifecycle, "%s requires a connected instance, %s is %s",
			capID, inst.ID(), inst.Status().Status)
	}
	if err := validateParams(def, params); err != nil {
		return nil, err
	}

	inst.touchActivity()

	if timeout <= 0 {
		timeout = d.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	timer := metrics.NewTimer()
	inst.opMu.Lock()
	result, err := inst.driver.ExecuteCapability(ctx, capID, op, params)
	inst.opMu.Unlock()
	timer.ObserveDuration(metrics.OperationDuration)

	if err != nil {
		inst.recordResult(op, err)
		if hook, ok := inst.driver.(ErrorHook); ok {
			hook.OnError(err)
		}
		kind := errdefs.KindExecution
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = errdefs.KindTimeout
		}
		inst.emit(EmitOpError, map[string]any{
			"capability": capID,
			"operation":  op,
			"error":      err.Error(),
		})
		metrics.ConnectorOperationsTotal.WithLabelValues(op, "error").Inc()
		logger := log.WithConnectorID(inst.ID())
		logger.Warn().Err(err).
			Str("capability", capID).Str("operation", op).Msg("operation failed")
		return nil, errdefs.Wrap(kind, err, "%s %s on %s", op, capID, inst.ID())
	}

	inst.recordResult(op, nil)
	inst.emit(EmitOpCompleted, map[string]any{
		"capability": capID,
		"operation":  op,
	})
	metrics.ConnectorOperationsTotal.WithLabelValues(op, "ok").Inc()
	return result, nil
}

// validateParams checks the supplied params against the capability's
// declared schema: required parameters must be present, present
// parameters must have the declared type, and undeclared parameters are
// rejected.
func validateParams(def *types.CapabilityDefinition, params map[string]any) error {
	for name, spec := range def.Parameters {
		v, ok := params[name]
		if !ok {
			if spec.Required {
				return errdefs.New(errdefs.KindParameter, "missing required parameter %q for %s", name, def.ID)
			}
			continue
		}
		if !typeMatches(spec.Type, v) {
			return errdefs.New(errdefs.KindParameter, "parameter %q of %s must be %s", name, def.ID, spec.Type)
		}
	}
	for name := range params {
		if _, declared := def.Parameters[name]; !declared {
			return errdefs.New(errdefs.KindParameter, "unknown parameter %q for %s", name, def.ID)
		}
	}
	return nil
}

func typeMatches(declared string, v any) bool {
	switch declared {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
