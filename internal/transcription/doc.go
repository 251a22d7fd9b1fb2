// Package transcription routes committed speech segments to interchangeable
// speech-to-text backends.
//
// A Registry maps backend ids (the stt_backend setting) to Descriptors that carry
// the audio format and prompt support of each backend. The Dispatcher encodes a
// segment for the resolved backend, invokes it off the caller's goroutine, and
// reports exactly one Result per segment on a channel. Normalize strips non-speech
// annotations from raw backend output.
//
// Concrete backends: an in-process model fed raw float32 samples, an
// OpenAI-compatible HTTP service, a whisper.cpp server, and Google Cloud Speech.
package transcription
