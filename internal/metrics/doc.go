// Package metrics exposes Prometheus instrumentation for the orchestrator and
// the per-session latency tracker that times the speech and transcribe phases.
package metrics
