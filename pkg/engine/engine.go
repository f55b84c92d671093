package engine

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/meshworks/relay/pkg/bus"
	"github.com/meshworks/relay/pkg/connector"
	"github.com/meshworks/relay/pkg/log"
	"github.com/meshworks/relay/pkg/metrics"
	"github.com/meshworks/relay/pkg/store"
	"github.com/meshworks/relay/pkg/types"
)

// InstanceSource resolves connector ids for notify/execute actions.
// Satisfied by *registry.Registry.
type InstanceSource interface {
	Get(id string) (*connector.Instance, bool)
}

// Options assembles an Engine
type Options struct {
	Bus        *bus.Broker
	Store      store.Store
	Dispatcher *connector.Dispatcher
	Instances  InstanceSource

	// Cooldown is the minimum gap between two firings of the same rule.
	// Zero disables cooldown.
	Cooldown time.Duration

	// ActionTimeout bounds each dispatched action. Zero means no deadline.
	ActionTimeout time.Duration
}

// Engine evaluates every published event against the enabled rules and
// runs the actions of each matching rule in declared order.
type Engine struct {
	opts   Options
	logger zerolog.Logger

	token bus.Token

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// New creates an engine; Start wires it to the bus
func New(opts Options) *Engine {
	return &Engine{
		opts:      opts,
		logger:    log.WithComponent("engine"),
		lastFired: make(map[string]time.Time),
	}
}

// Start subscribes the engine to every event on the bus
func (e *Engine) Start() error {
	e.token = e.opts.Bus.Subscribe("*", e.handle)
	e.logger.Info().Msg("rule engine started")
	return nil
}

// Stop detaches the engine from the bus
func (e *Engine) Stop() {
	e.opts.Bus.Unsubscribe(e.token)
}

// handle is the bus handler: evaluate every enabled rule against the event
func (e *Engine) handle(event *types.Event) error {
	// The engine's own emissions and bus housekeeping never feed back
	// into evaluation.
	if strings.HasPrefix(event.Type, "alarm:") || event.Type == types.EventBusOverflow {
		return nil
	}

	rules, err := e.opts.Store.ListEnabledRules()
	if err != nil {
		return err
	}

	var dataJSON []byte
	if len(event.Data) > 0 {
		dataJSON, _ = json.Marshal(event.Data)
	}

	for _, rule := range rules {
		metrics.RuleEvaluationsTotal.Inc()
		if !e.matches(rule, event, dataJSON) {
			continue
		}
		if e.inCooldown(rule.ID) {
			e.logger.Debug().Str("rule_id", rule.ID).Msg("rule in cooldown, skipped")
			continue
		}
		e.fire(rule, event, dataJSON)
	}
	return nil
}

// matches evaluates all conditions of a rule, conjunctively
func (e *Engine) matches(rule *types.Rule, event *types.Event, dataJSON []byte) bool {
	for _, cond := range rule.Conditions {
		if !matchCondition(cond, event, dataJSON) {
			return false
		}
	}
	return len(rule.Conditions) > 0
}

func matchCondition(cond types.Condition, event *types.Event, dataJSON []byte) bool {
	switch {
	case cond.Type == types.ConditionEventType:
		return types.Compare(cond.Operator, cond.Value, event.Type)
	case cond.Type == types.ConditionSource:
		return types.Compare(cond.Operator, cond.Value, event.Source)
	case cond.Type == types.ConditionCategory:
		return types.Compare(cond.Operator, cond.Value, string(event.Category))
	case cond.Type == types.ConditionPriority:
		return matchPriority(cond, event.Priority)
	case strings.HasPrefix(cond.Type, "data."):
		if len(dataJSON) == 0 {
			return false
		}
		got := gjson.GetBytes(dataJSON, strings.TrimPrefix(cond.Type, "data."))
		if !got.Exists() {
			return false
		}
		return types.Compare(cond.Operator, cond.Value, got.Value())
	default:
		return false
	}
}

// matchPriority compares priorities by rank for min/max and by name
// otherwise, so {priority, min, high} means "high or critical".
func matchPriority(cond types.Condition, got types.Priority) bool {
	want, _ := cond.Value.(string)
	switch cond.Operator {
	case types.OpMin:
		return got.Rank() >= types.Priority(want).Rank()
	case types.OpMax:
		return got.Rank() <= types.Priority(want).Rank()
	default:
		return types.Compare(cond.Operator, cond.Value, string(got))
	}
}

func (e *Engine) inCooldown(ruleID string) bool {
	if e.opts.Cooldown <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFired[ruleID]
	return ok && time.Since(last) < e.opts.Cooldown
}

// fire records the alarm, runs the actions in order, and announces the
// trigger. A failing action is logged and counted, never aborting the
// rest of the list.
func (e *Engine) fire(rule *types.Rule, event *types.Event, dataJSON []byte) {
	e.mu.Lock()
	e.lastFired[rule.ID] = time.Now()
	e.mu.Unlock()

	entry := &types.AlarmEntry{
		RuleID:      rule.ID,
		EventType:   event.Type,
		EventSource: event.Source,
		EventData:   string(dataJSON),
		Status:      types.AlarmActive,
	}
	if err := e.opts.Store.RecordAlarm(entry); err != nil {
		e.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("alarm record failed")
		return
	}
	metrics.RulesFiredTotal.WithLabelValues(rule.ID).Inc()
	metrics.AlarmsActive.Inc()
	e.logger.Info().Str("rule_id", rule.ID).Str("rule", rule.Name).
		Str("event_type", event.Type).Str("alarm_id", entry.ID).Msg("rule fired")

	for _, action := range sortedActions(rule.Actions) {
		if err := e.runAction(action, event, dataJSON); err != nil {
			metrics.RuleActionFailuresTotal.WithLabelValues(rule.ID, action.Type).Inc()
			e.logger.Warn().Err(err).Str("rule_id", rule.ID).
				Str("action", action.Type).Msg("action failed")
		}
	}

	e.publish(types.EventAlarmTriggered, map[string]any{
		"alarmId":   entry.ID,
		"ruleId":    rule.ID,
		"ruleName":  rule.Name,
		"eventType": event.Type,
	})
}

// Acknowledge marks an alarm acknowledged and announces it
func (e *Engine) Acknowledge(alarmID, userID, notes string) (*types.AlarmAck, error) {
	ack, err := e.opts.Store.AcknowledgeAlarm(alarmID, userID, notes)
	if err != nil {
		return nil, err
	}
	e.publish(types.EventAlarmAcknowledged, map[string]any{
		"alarmId": alarmID,
		"userId":  userID,
	})
	return ack, nil
}

// Resolve marks an alarm resolved and announces it
func (e *Engine) Resolve(alarmID string) error {
	if err := e.opts.Store.ResolveAlarm(alarmID); err != nil {
		return err
	}
	metrics.AlarmsActive.Dec()
	e.publish(types.EventAlarmResolved, map[string]any{"alarmId": alarmID})
	return nil
}

func (e *Engine) publish(eventType string, data map[string]any) {
	err := e.opts.Bus.Publish(&types.Event{
		Type:   eventType,
		Source: types.SourceSystem,
		Data:   data,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("event_type", eventType).Msg("publish failed")
	}
}

func (e *Engine) actionContext() (context.Context, context.CancelFunc) {
	if e.opts.ActionTimeout > 0 {
		return context.WithTimeout(context.Background(), e.opts.ActionTimeout)
	}
	return context.Background(), func() {}
}

func sortedActions(actions []types.Action) []types.Action {
	out := make([]types.Action, len(actions))
	copy(out, actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
