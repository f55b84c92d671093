/*
Package connector defines the contract every connector satisfies and the
dispatcher that executes capability operations.

A connector type implements Driver (PerformConnect, PerformDisconnect,
ExecuteCapability) and optionally the ConnectHook/DisconnectHook/ErrorHook
interfaces. Instance wraps a driver with everything common: the lifecycle
state machine, per-instance serialisation, activity stats, capability
enable flags, and the internal event emitter the registry forwards onto
the bus.

# Lifecycle

	Disconnected ──connect──▶ Connecting ──ok──▶ Connected
	     ▲            │                  │
	     │            └──err──▶ Error ◀──┘ (supervisor retries)
	     └──disconnect──────────────────── any state

Connect on a Connected instance and Disconnect on a Disconnected instance
are no-ops. A failed PerformConnect lands in Error with the attempt
counter bumped; a successful connect resets it. All transitions for one
instance are serialised by its mutex; different instances transition in
parallel.

# Dispatch

Dispatcher.Execute is the single entry point for operations. The pipeline
rejects, in order: undeclared capability, disabled capability,
unsupported operation, unmet connection precondition, and parameter
schema violations, each with its own error kind and no observable side
effect. Only then does the driver run, under the instance mutex and an
optional deadline. Success classifies the operation as producer or
consumer for the stats counters and emits operation-completed; failure
bumps the error counter, emits operation-error, and propagates typed.
*/
package connector
