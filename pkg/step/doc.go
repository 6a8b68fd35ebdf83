// Package step implements memoized, retried units of work for workflow runs.
//
// A [Runner] is bound to one run. Each call to [Run] derives a step ID from
// the step name (repeated names get ordinal suffixes: "terminal",
// "terminal:1", ...), consults the [Journal], and either returns the
// recorded result or executes the function with exponential backoff and
// records its JSON-encoded result. Only successful results are recorded, so
// a failed run attempt replays its completed steps and re-executes the rest.
//
// Step functions must be deterministic in the sequence of steps they start:
// replay maps calls to journal entries by order of appearance.
package step
