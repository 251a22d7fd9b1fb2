// Command mock-transcriber is a local stand-in for OpenAI-compatible and
// whisper.cpp transcription endpoints. It accepts the same multipart uploads
// and answers with a fixed transcript, which is handy for running the
// orchestrator without network access.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/skypro1111/speech-orchestrator/internal/audio"
)

type transcriptionResponse struct {
	Text string `json:"text"`
}

type mockHandler struct {
	logger *slog.Logger
	text   string
	delay  time.Duration
}

func (h *mockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil { // 10 MB
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	attrs := []any{
		slog.String("filename", header.Filename),
		slog.String("content_type", header.Header.Get("Content-Type")),
		slog.Int("size_bytes", len(audioData)),
		slog.String("model", r.FormValue("model")),
		slog.String("prompt", r.FormValue("prompt")),
	}

	// whisper.cpp and OpenAI uploads are WAV; anything else is rejected like a real server would
	info, err := audio.GetWAVInfo(audioData)
	if err != nil {
		h.logger.Warn("Rejected upload", append(attrs, slog.String("error", err.Error()))...)
		http.Error(w, fmt.Sprintf("invalid audio: %v", err), http.StatusBadRequest)
		return
	}
	attrs = append(attrs,
		slog.Int("audio_format", int(info.AudioFormat)),
		slog.Int("bits_per_sample", int(info.BitsPerSample)),
		slog.Float64("duration_seconds", info.Duration),
	)
	h.logger.Info("Transcription request received", attrs...)

	// Simulate processing time
	select {
	case <-time.After(h.delay):
	case <-r.Context().Done():
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(transcriptionResponse{Text: h.text})
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "Listen address")
	text := flag.String("text", "This is a test transcript.", "Transcript returned for every upload")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	mux := http.NewServeMux()
	handler := &mockHandler{logger: logger, text: *text, delay: *delay}
	mux.Handle("/v1/audio/transcriptions", handler)
	mux.Handle("/inference", handler)

	logger.Info("Mock transcription server starting",
		slog.String("openai_endpoint", "http://"+*addr+"/v1/audio/transcriptions"),
		slog.String("whispercpp_endpoint", "http://"+*addr+"/inference"),
	)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
