/*
Package supervisor boots and runs the hub.

Boot order: open the rule store, build the bus, discover connector
types, load instances from the connectors file, start the rule engine,
connect everything. After boot the supervisor runs four background
concerns: reconnection of errored instances (exponential backoff, 1s
doubling to a 60s cap with ±20% jitter), periodic health:check
snapshots, a cron-scheduled alarm retention sweep, and a watch on the
connectors file that picks up hand edits.

Shutdown is the reverse: stop the loops, drain the bus so queued events
still reach their handlers, disconnect every instance, flush the
connector file, close the store.
*/
package supervisor
