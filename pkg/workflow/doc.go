// Package workflow runs event-triggered functions in the background.
//
// Functions are registered for an event name. [Client.Send] records one run
// per registered function and queues it; a fixed pool of workers executes
// the runs. Each attempt gets a [step.Runner] bound to the run ID, so steps
// completed by a failed attempt are replayed from the journal when the run
// is retried. Run status is kept in a bounded registry and can be queried
// with [Client.Run].
package workflow
