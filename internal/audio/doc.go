// Package audio holds captured speech segments and their byte encodings.
// It converts mono 16 kHz float32 PCM into the raw or WAV payloads that
// transcription backends expect, and decodes them back for verification.
package audio
