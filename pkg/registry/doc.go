/*
Package registry manages the catalogue of connector types and the set of
live connector instances.

Types enter the catalogue two ways: explicit RegisterType calls, or
AutoDiscoverTypes, which scans a directory and derives type ids from
file names (UnifiProtectConnector.json → unifi-protect). Discovered ids
with a compiled-in builder use that builder's factory; the rest run on a
simulated driver so flows stay testable before the real driver ships.

Instances are created from InstanceConfig documents, individually or in
bulk from a connectors file. Every instance mutation schedules a
debounced save of the connector file, so the on-disk document tracks the
live set without a write per mutation.

The registry forwards each instance's internal lifecycle events onto the
bus as connector:* events with the connector id merged into the payload,
which is what the rule engine and history consumers key on.
*/
package registry
