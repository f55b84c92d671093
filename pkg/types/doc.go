/*
Package types defines the shared data model for the Relay hub.

All structures exchanged between packages live here: the normalised Event
and its filter, capability definitions, connector instance configuration
and status snapshots, rules with their conditions and actions, and the
alarm history entries the rule engine appends.

# Events

Event is the unit carried by the bus: a header (id, type, source,
timestamp, priority, category) plus an opaque Data payload whose shape is
dictated by the emitting capability's definition. Category and Priority
are derived deterministically from the event type when the publisher
leaves them empty; DeriveCategory and DerivePriority document the mapping
and are covered by tests so rules can rely on it.

# Instances

InstanceConfig is the persisted, cycle-safe form of a connector: only the
operator-written attributes (id, type, name, description, config,
capability enabled/disabled sets). Runtime state (status, stats, attempt
counters) lives in InstanceStatus snapshots and is never serialised to the
connectors file.

# Rules

A Rule is a conjunction of Conditions over event fields (eventType,
source, priority, category, or data.* paths) plus an ordered Action list.
Compare implements the closed operator set (equals, contains, min, max,
in) shared by rule conditions and bus filters.
*/
package types
