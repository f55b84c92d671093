/*
Package errdefs defines the closed set of error kinds surfaced by the Relay
core.

Every error that crosses a package boundary wraps exactly one Kind, so
callers branch on errdefs.IsConfig(err), errdefs.IsCapability(err) and
friends instead of matching message strings. Errors never cross the bus
silently: a caught error either returns typed to the caller, produces a
recorded event, or both.

Retry policy is part of the contract: Config, Lifecycle, Capability and
Parameter errors are never retried; Connect errors are retried only by the
supervisor's backoff loop; Execution errors are treated by the rule engine
as a failed action that does not abort the remaining actions.
*/
package errdefs
