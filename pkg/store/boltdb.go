package store

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/types"
)

var (
	// Bucket names
	bucketRules = []byte("alarm_rules")
	bucketAlarm = []byte("alarm_history")
	bucketAcks  = []byte("alarm_acknowledgments")
)

// BoltStore implements Store using BoltDB. Rule documents embed their
// conditions and actions, so every rule mutation is one bucket write and
// readers never observe a rule with half its conditions.
type BoltStore struct {
	db *bolt.DB

	// cacheMu guards the rule cache; any rule mutation invalidates it
	cacheMu   sync.RWMutex
	ruleCache map[string]*types.Rule
}

// NewBoltStore opens (creating if needed) relay.db under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "relay.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStore, err, "open database %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRules, bucketAlarm, bucketAcks} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errdefs.Wrap(errdefs.KindStore, err, "create buckets")
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CreateRule persists a new rule. Missing ids are generated; timestamps
// are stamped here so callers never fabricate them.
func (s *BoltStore) CreateRule(rule *types.Rule) error {
	if rule.Name == "" {
		return errdefs.New(errdefs.KindConfig, "rule name is required")
	}
	if len(rule.Conditions) == 0 {
		return errdefs.New(errdefs.KindConfig, "rule %q has no conditions", rule.Name)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		if b.Get([]byte(rule.ID)) != nil {
			return errdefs.New(errdefs.KindConfig, "rule %q already exists", rule.ID)
		}
		data, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		return b.Put([]byte(rule.ID), data)
	})
	if err != nil {
		return wrapStore(err, "create rule %s", rule.ID)
	}
	s.invalidateCache()
	return nil
}

// GetRule returns one rule by id
func (s *BoltStore) GetRule(id string) (*types.Rule, error) {
	rules, err := s.cachedRules()
	if err != nil {
		return nil, err
	}
	rule, ok := rules[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "rule %q not found", id)
	}
	out := *rule
	return &out, nil
}

// ListRules returns all rules
func (s *BoltStore) ListRules() ([]*types.Rule, error) {
	rules, err := s.cachedRules()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Rule, 0, len(rules))
	for _, r := range rules {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

// ListEnabledRules returns only rules with the enabled flag set; this is
// the engine's per-event hot path and always hits the cache
func (s *BoltStore) ListEnabledRules() ([]*types.Rule, error) {
	return s.listWhere(func(r *types.Rule) bool { return r.Enabled })
}

// ListRulesByCategory returns rules tagged with the category
func (s *BoltStore) ListRulesByCategory(category types.Category) ([]*types.Rule, error) {
	return s.listWhere(func(r *types.Rule) bool { return r.Category == category })
}

func (s *BoltStore) listWhere(keep func(*types.Rule) bool) ([]*types.Rule, error) {
	rules, err := s.cachedRules()
	if err != nil {
		return nil, err
	}
	var out []*types.Rule
	for _, r := range rules {
		if keep(r) {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// UpdateRule applies an update record inside a single transaction and
// returns the stored result
func (s *BoltStore) UpdateRule(id string, updates types.RuleUpdates) (*types.Rule, error) {
	var updated types.Rule
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "rule %q not found", id)
		}
		if err := json.Unmarshal(data, &updated); err != nil {
			return err
		}
		if updates.Name != nil {
			updated.Name = *updates.Name
		}
		if updates.Description != nil {
			updated.Description = *updates.Description
		}
		if updates.Priority != nil {
			updated.Priority = *updates.Priority
		}
		if updates.Category != nil {
			updated.Category = *updates.Category
		}
		if updates.Enabled != nil {
			updated.Enabled = *updates.Enabled
		}
		if updates.Conditions != nil {
			if len(*updates.Conditions) == 0 {
				return errdefs.New(errdefs.KindConfig, "rule %q cannot have zero conditions", id)
			}
			updated.Conditions = *updates.Conditions
		}
		if updates.Actions != nil {
			updated.Actions = *updates.Actions
		}
		updated.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(&updated)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return nil, wrapStore(err, "update rule %s", id)
	}
	s.invalidateCache()
	return &updated, nil
}

// DeleteRule removes a rule
func (s *BoltStore) DeleteRule(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		if b.Get([]byte(id)) == nil {
			return errdefs.New(errdefs.KindNotFound, "rule %q not found", id)
		}
		return b.Delete([]byte(id))
	})
	if err != nil {
		return wrapStore(err, "delete rule %s", id)
	}
	s.invalidateCache()
	return nil
}

// RecordAlarm appends one entry to the alarm trail
func (s *BoltStore) RecordAlarm(entry *types.AlarmEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.TriggeredAt.IsZero() {
		entry.TriggeredAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = types.AlarmActive
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlarm)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.ID), data)
	})
	return wrapStore(err, "record alarm %s", entry.ID)
}

// GetAlarm returns one alarm entry by id
func (s *BoltStore) GetAlarm(id string) (*types.AlarmEntry, error) {
	var entry types.AlarmEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAlarm).Get([]byte(id))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "alarm %q not found", id)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, wrapStore(err, "get alarm %s", id)
	}
	return &entry, nil
}

// ListAlarms returns trail entries matching the filter, newest first,
// with limit/offset paging applied after the sort
func (s *BoltStore) ListAlarms(filter types.AlarmFilter, limit, offset int) ([]*types.AlarmEntry, error) {
	var entries []*types.AlarmEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlarm).ForEach(func(k, v []byte) error {
			var entry types.AlarmEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if !matchAlarm(&entry, filter) {
				return nil
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, wrapStore(err, "list alarms")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TriggeredAt.After(entries[j].TriggeredAt)
	})
	if offset > 0 {
		if offset >= len(entries) {
			return nil, nil
		}
		entries = entries[offset:]
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// AcknowledgeAlarm records an acknowledgement and flips the entry to
// acknowledged in one transaction
func (s *BoltStore) AcknowledgeAlarm(alarmID, userID, notes string) (*types.AlarmAck, error) {
	ack := &types.AlarmAck{
		ID:             uuid.New().String(),
		AlarmID:        alarmID,
		UserID:         userID,
		AcknowledgedAt: time.Now().UTC(),
		Notes:          notes,
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		alarms := tx.Bucket(bucketAlarm)
		data := alarms.Get([]byte(alarmID))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "alarm %q not found", alarmID)
		}
		var entry types.AlarmEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		if entry.Status == types.AlarmResolved {
			return errdefs.New(errdefs.KindLifecycle, "alarm %q already resolved", alarmID)
		}
		entry.Status = types.AlarmAcknowledged
		out, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		if err := alarms.Put([]byte(alarmID), out); err != nil {
			return err
		}
		ackData, err := json.Marshal(ack)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAcks).Put([]byte(ack.ID), ackData)
	})
	if err != nil {
		return nil, wrapStore(err, "acknowledge alarm %s", alarmID)
	}
	return ack, nil
}

// ResolveAlarm marks an alarm resolved with the resolution time
func (s *BoltStore) ResolveAlarm(alarmID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlarm)
		data := b.Get([]byte(alarmID))
		if data == nil {
			return errdefs.New(errdefs.KindNotFound, "alarm %q not found", alarmID)
		}
		var entry types.AlarmEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		entry.Status = types.AlarmResolved
		entry.ResolvedAt = time.Now().UTC()
		out, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(alarmID), out)
	})
	return wrapStore(err, "resolve alarm %s", alarmID)
}

// PruneAlarmHistory deletes resolved entries older than the cutoff and
// returns how many were removed. Active and acknowledged entries are
// kept regardless of age.
func (s *BoltStore) PruneAlarmHistory(olderThan time.Time) (int, error) {
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlarm)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var entry types.AlarmEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.Status == types.AlarmResolved && entry.TriggeredAt.Before(olderThan) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return 0, wrapStore(err, "prune alarm history")
	}
	return pruned, nil
}

// GetStats summarises store contents
func (s *BoltStore) GetStats() (*types.StoreStats, error) {
	stats := &types.StoreStats{}
	err := s.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketRules).ForEach(func(k, v []byte) error {
			var rule types.Rule
			if err := json.Unmarshal(v, &rule); err != nil {
				return err
			}
			stats.Rules++
			if rule.Enabled {
				stats.EnabledRules++
			}
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAlarm).ForEach(func(k, v []byte) error {
			var entry types.AlarmEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			stats.Alarms++
			if entry.Status == types.AlarmActive {
				stats.ActiveAlarms++
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrapStore(err, "store stats")
	}
	return stats, nil
}

func (s *BoltStore) cachedRules() (map[string]*types.Rule, error) {
	s.cacheMu.RLock()
	cache := s.ruleCache
	s.cacheMu.RUnlock()
	if cache != nil {
		return cache, nil
	}

	rules := make(map[string]*types.Rule)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRules).ForEach(func(k, v []byte) error {
			var rule types.Rule
			if err := json.Unmarshal(v, &rule); err != nil {
				return err
			}
			rules[rule.ID] = &rule
			return nil
		})
	})
	if err != nil {
		return nil, wrapStore(err, "load rules")
	}

	s.cacheMu.Lock()
	s.ruleCache = rules
	s.cacheMu.Unlock()
	return rules, nil
}

func (s *BoltStore) invalidateCache() {
	s.cacheMu.Lock()
	s.ruleCache = nil
	s.cacheMu.Unlock()
}

func matchAlarm(entry *types.AlarmEntry, f types.AlarmFilter) bool {
	if f.RuleID != "" && entry.RuleID != f.RuleID {
		return false
	}
	if f.Status != "" && entry.Status != f.Status {
		return false
	}
	if f.EventType != "" && entry.EventType != f.EventType {
		return false
	}
	if !f.Since.IsZero() && entry.TriggeredAt.Before(f.Since) {
		return false
	}
	return true
}

// wrapStore tags err with KindStore unless it already carries a kind
func wrapStore(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errdefs.KindOf(err) != "" {
		return err
	}
	return errdefs.Wrap(errdefs.KindStore, err, format, args...)
}
