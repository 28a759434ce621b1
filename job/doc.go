// Package job defines the job entity, its field names, the filter and
// update shapes used to query it, and the store interface.
//
// # Job Entity
//
// A [Job] moves through a small state machine:
//
//	ready → processing → (completed | failed | removed)
//	ready → processing → ready   (reclaimed: attempts+1)
//
// Fields of note:
//   - WorkerID: set only while processing
//   - Attempts: bumped each time the job is reclaimed
//   - Expires / ExpireMs: overall timeout deadline and its duration
//   - Stalls / StallMs: heartbeat deadline and its duration
//   - Data: every other field, passed through verbatim
//
// # Filters and updates
//
// [Filter] and [Fields] are keyed by domain field names ([FieldID],
// [FieldStatus], ...). Backends translate them to their native shape.
package job
