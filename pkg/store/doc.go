/*
Package store persists alarm rules and the alarm trail in BoltDB.

Three buckets: alarm_rules, alarm_history, alarm_acknowledgments.
Values are JSON documents keyed by id. A rule document embeds its
conditions and actions, so creating or updating a rule is a single
bucket write and readers never see a partially-written rule.

Rules are cached in memory and the cache is invalidated on every rule
mutation; the engine's hot path (one lookup per published event) never
touches disk. Alarm history is append-mostly and read straight from the
bucket.
*/
package store
