// Package orchestrator owns the speech capture session: it turns detector
// events into committed segments, dispatches each segment to the selected
// transcription backend, and hands normalized text to a Consumer.
//
// All session state lives on a single event-loop goroutine started with Run.
// Detector callbacks and control calls (Start, Stop) are posted to that loop,
// and backend results are joined there by segment id, so at most one segment
// is ever in flight and a result that arrives after Stop is discarded.
package orchestrator
