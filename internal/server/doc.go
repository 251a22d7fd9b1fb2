// Package server implements the HTTP control and monitoring API.
// It arms and disarms the capture session, toggles TTS mute, reads and writes
// runtime settings, and exposes transcription statistics, recent transcript
// history and Prometheus metrics.
package server
