// Package publish forwards transcripts and segment failures to Redis.
//
// Each outcome is published as a JSON Event on a pub/sub channel and pushed
// onto a capped history list, so other services can follow the conversation
// input without linking against the orchestrator.
package publish
