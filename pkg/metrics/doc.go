/*
Package metrics exposes Prometheus metrics for the Relay hub.

All collectors are package-level and registered in init(); components
increment them directly. The supervisor serves Handler() on the configured
metrics address.

Collected families:

  - relay_events_*: bus publish/delivery/drop counters and subscriber gauge
  - relay_connectors_total: instance count by lifecycle status
  - relay_connector_operations_total: dispatched operations by result
  - relay_operation_duration_seconds: capability execution latency
  - relay_reconnect_attempts_total: supervisor backoff retries
  - relay_rule_*, relay_alarms_active: rule engine activity
*/
package metrics
