/*
Package engine is the rule engine: it watches every event on the bus,
evaluates enabled rules, and runs the actions of each matching rule.

Evaluation is conjunctive over a rule's conditions. Conditions target
eventType, source, priority, category, or data.* paths into the payload;
priority min/max compare by severity rank so {priority min high} reads
"high or worse". A matching rule first passes the per-rule cooldown,
then appends an active row to the alarm trail, runs its actions in
declared order, and publishes alarm:triggered.

Action failures are isolated: a failing notify never blocks a following
execute. Failures are logged and counted per rule. Escalated events
carry a marker so escalation cannot loop, and the engine ignores alarm:*
events entirely for the same reason.

Acknowledge and Resolve are the out-of-band half of the alarm lifecycle,
called from the CLI and announced as alarm:acknowledged/alarm:resolved.
*/
package engine
