// Package engine schedules and executes build closures. It provides a
// serial scheduler and a parallel one with identical semantics, staleness
// checking through the rule layer, thread or process placement of actions,
// an event stream for observers, and a final outcome summary.
package engine
