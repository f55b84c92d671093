package engine

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/meshworks/relay/pkg/connector"
	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/types"
)

// runAction executes one action of a fired rule. Each action type fails
// independently; the caller logs and counts failures.
func (e *Engine) runAction(action types.Action, event *types.Event, dataJSON []byte) error {
	switch action.Type {
	case types.ActionNotify:
		return e.runNotify(action.Config, event, dataJSON)
	case types.ActionExecute:
		return e.runExecute(action.Config, event)
	case types.ActionRecord:
		return e.runRecord(action.Config, event, dataJSON)
	case types.ActionEscalate:
		return e.runEscalate(action.Config, event)
	default:
		return errdefs.New(errdefs.KindConfig, "unknown action type %q", action.Type)
	}
}

// runNotify renders the message template and dispatches a send to every
// channel connector. A missing or failing channel fails the action for
// that channel without touching the others.
func (e *Engine) runNotify(config map[string]any, event *types.Event, dataJSON []byte) error {
	message, _ := config["message"].(string)
	rendered := RenderTemplate(message, event, dataJSON)

	var firstErr error
	for _, channel := range asStrings(config["channels"]) {
		inst, ok := e.opts.Instances.Get(channel)
		if !ok {
			firstErr = keepFirst(firstErr, errdefs.New(errdefs.KindExecution,
				"notify channel %q not found", channel))
			continue
		}
		capID, ok := sendCapability(inst)
		if !ok {
			firstErr = keepFirst(firstErr, errdefs.New(errdefs.KindExecution,
				"notify channel %q has no send capability", channel))
			continue
		}
		ctx, cancel := e.actionContext()
		_, err := e.opts.Dispatcher.Execute(ctx, inst, capID, "send",
			map[string]any{"message": rendered}, 0)
		cancel()
		firstErr = keepFirst(firstErr, err)
	}
	return firstErr
}

// runExecute dispatches an arbitrary capability operation
func (e *Engine) runExecute(config map[string]any, event *types.Event) error {
	connectorID, _ := config["connectorId"].(string)
	capID, _ := config["capability"].(string)
	op, _ := config["operation"].(string)
	params, _ := config["params"].(map[string]any)

	inst, ok := e.opts.Instances.Get(connectorID)
	if !ok {
		return errdefs.New(errdefs.KindExecution, "connector %q not found", connectorID)
	}
	ctx, cancel := e.actionContext()
	defer cancel()
	_, err := e.opts.Dispatcher.Execute(ctx, inst, capID, op, params, 0)
	return err
}

// runRecord appends the event payload to a recorder connector. Per
// contract this is non-fatal: any failure is reported to the caller for
// counting but the rule keeps firing.
func (e *Engine) runRecord(config map[string]any, event *types.Event, dataJSON []byte) error {
	channel, _ := config["channel"].(string)
	inst, ok := e.opts.Instances.Get(channel)
	if !ok {
		return errdefs.New(errdefs.KindExecution, "record channel %q not found", channel)
	}
	capID, ok := writeCapability(inst)
	if !ok {
		return errdefs.New(errdefs.KindExecution, "record channel %q has no write capability", channel)
	}
	payload := map[string]any{
		"eventType": event.Type,
		"source":    event.Source,
		"data":      string(dataJSON),
	}
	if extra, ok := config["payload"].(map[string]any); ok {
		for k, v := range extra {
			payload[k] = v
		}
	}
	ctx, cancel := e.actionContext()
	defer cancel()
	_, err := e.opts.Dispatcher.Execute(ctx, inst, capID, "write",
		map[string]any{"entry": payload}, 0)
	return err
}

// runEscalate republishes the event at a raised priority. Escalated
// events are tagged so a matching rule cannot escalate them again.
func (e *Engine) runEscalate(config map[string]any, event *types.Event) error {
	if event.Metadata["escalated"] == "true" {
		return nil
	}
	priority, _ := config["priority"].(string)
	p := types.Priority(priority)
	if !p.Valid() {
		return errdefs.New(errdefs.KindConfig, "escalate: invalid priority %q", priority)
	}
	if p.Rank() <= event.Priority.Rank() {
		return nil
	}

	meta := map[string]string{"escalated": "true"}
	for k, v := range event.Metadata {
		meta[k] = v
	}
	return e.opts.Bus.Publish(&types.Event{
		Type:     event.Type,
		Source:   event.Source,
		Priority: p,
		Category: event.Category,
		Data:     event.Data,
		Metadata: meta,
	})
}

// sendCapability picks the instance's enabled capability that supports
// the "send" operation; notify channels declare exactly one
func sendCapability(inst *connector.Instance) (string, bool) {
	return capabilityFor(inst, "send")
}

func writeCapability(inst *connector.Instance) (string, bool) {
	return capabilityFor(inst, "write")
}

func capabilityFor(inst *connector.Instance, op string) (string, bool) {
	for _, info := range inst.Capabilities() {
		if info.Enabled && info.Definition.SupportsOperation(op) {
			return info.Definition.ID, true
		}
	}
	return "", false
}

func keepFirst(current, next error) error {
	if current != nil {
		return current
	}
	return next
}

func asStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return strings.Split(vv, ",")
	default:
		return nil
	}
}

// RenderTemplate substitutes {{field}} tokens with event fields. Plain
// tokens resolve id, type, source, priority, category; data.* tokens
// resolve paths into the payload. Unresolvable tokens render empty.
func RenderTemplate(template string, event *types.Event, dataJSON []byte) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:start])
		field := strings.TrimSpace(rest[start+2 : start+end])
		b.WriteString(resolveField(field, event, dataJSON))
		rest = rest[start+end+2:]
	}
}

func resolveField(field string, event *types.Event, dataJSON []byte) string {
	switch field {
	case "id":
		return event.ID
	case "type", "eventType":
		return event.Type
	case "source":
		return event.Source
	case "priority":
		return string(event.Priority)
	case "category":
		return string(event.Category)
	}
	if strings.HasPrefix(field, "data.") && len(dataJSON) > 0 {
		if got := gjson.GetBytes(dataJSON, strings.TrimPrefix(field, "data.")); got.Exists() {
			return got.String()
		}
	}
	return ""
}
