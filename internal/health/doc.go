// Package health serves the standard gRPC health checking protocol.
//
// The reported status follows the orchestrator: SERVING while the capture
// session is healthy, NOT_SERVING once the detector has failed or the server
// is shutting down.
package health
