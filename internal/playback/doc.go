// Package playback owns the active episode and the playback state
// machine. A single coordinator goroutine consumes commands and engine
// events, so transitions are strictly ordered: switching episodes always
// checkpoints the outgoing one before the new one starts buffering.
//
// Status changes (pause, stop, finish, error) write through to the store
// immediately; position-only progress is checkpointed on a debounced
// ticker so backend ticks never translate into write storms. A failed
// position checkpoint is logged and skipped.
package playback
