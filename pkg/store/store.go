package store

import (
	"time"

	"github.com/meshworks/relay/pkg/types"
)

// Store persists alarm rules and the alarm trail. The rule engine is the
// main consumer; the CLI reads it for rules/alarms subcommands.
type Store interface {
	// Rules
	CreateRule(rule *types.Rule) error
	GetRule(id string) (*types.Rule, error)
	ListRules() ([]*types.Rule, error)
	ListEnabledRules() ([]*types.Rule, error)
	ListRulesByCategory(category types.Category) ([]*types.Rule, error)
	UpdateRule(id string, updates types.RuleUpdates) (*types.Rule, error)
	DeleteRule(id string) error

	// Alarm trail. ListAlarms returns newest first; limit <= 0 means no
	// limit.
	RecordAlarm(entry *types.AlarmEntry) error
	GetAlarm(id string) (*types.AlarmEntry, error)
	ListAlarms(filter types.AlarmFilter, limit, offset int) ([]*types.AlarmEntry, error)
	AcknowledgeAlarm(alarmID, userID, notes string) (*types.AlarmAck, error)
	ResolveAlarm(alarmID string) error
	PruneAlarmHistory(olderThan time.Time) (int, error)

	GetStats() (*types.StoreStats, error)
	Close() error
}
