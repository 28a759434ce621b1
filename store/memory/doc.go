// Package memory implements store.Store entirely in memory. It honors the
// same contract as the MongoDB backend (natural-order reservation, sweep
// semantics, write-count errors) and is meant for unit tests and local
// development. Inject a clock with WithClock to drive deadlines in tests.
package memory
