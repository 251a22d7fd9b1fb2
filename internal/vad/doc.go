// Package vad provides an energy-based voice activity detector.
// It consumes fixed-size float32 frames, smooths a per-frame speech probability,
// and reports speech start and speech end events with the captured samples
// (including pre-speech padding) to a Handler.
package vad
