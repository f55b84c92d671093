/*
Package bus provides the in-process event broker for the Relay hub.

The broker routes normalised events (pkg/types.Event) from publishers to
subscribers. Subscriptions match by literal type, namespace prefix
("camera:*"), wildcard ("*"), or a full event filter; subscriber identity
is a monotonic Token so unsubscribing never depends on pointer equality.

# Delivery model

	Publisher → Publish() → transformers → history ring → fan-out
	                                           │
	               per-subscription mailbox (bounded, default 1024)
	                                           │
	               per-subscription delivery goroutine → Handler

Publish validates the event, fills in id/timestamp, derives
category/priority when absent, and enqueues to every matching mailbox.
Publishers never block longer than the bounded enqueue. Each subscription
is drained by its own goroutine, so two events from one publisher reach a
given subscriber in publish order; no ordering holds across publishers.
Concurrent handler executions are bounded by a worker semaphore
(Options.Workers, default NumCPU).

# Overflow

A full mailbox evicts its oldest queued event. Drops are counted,
coalesced per subscription, and surfaced as a single bus:overflow event
carrying the drop count; the overflow signal itself has capacity one and
coalesces, so it can never overflow.

# Failure model

A handler that panics or returns an error is logged and counted. The bus
neither retries nor unsubscribes; retry policy belongs to the rule engine.

# History

The broker keeps a bounded ring of recent events (default 1000).
History() scans newest first with the same filter semantics used by
filtered subscriptions.
*/
package bus
