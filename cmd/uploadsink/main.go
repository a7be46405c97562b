// Command uploadsink is a development endpoint for archive uploads. It stores
// every received archive in a directory and answers with its location.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

type uploadResponse struct {
	Location   string    `json:"location"`
	SessionID  string    `json:"session_id"`
	Bytes      int64     `json:"bytes"`
	ReceivedAt time.Time `json:"received_at"`
}

type sink struct {
	dir    string
	logger *slog.Logger
}

func (s *sink) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	sessionID := r.FormValue("session_id")
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting archive file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	dest := filepath.Join(s.dir, name)
	out, err := os.Create(dest)
	if err != nil {
		http.Error(w, "Error storing archive", http.StatusInternalServerError)
		return
	}
	n, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		http.Error(w, "Error storing archive", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Archive received",
		slog.String("session_id", sessionID),
		slog.String("file", name),
		slog.Int64("bytes", n),
		slog.String("started_at", r.FormValue("started_at")),
		slog.String("stopped_at", r.FormValue("stopped_at")),
		slog.String("duration", r.FormValue("duration")),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(uploadResponse{
		Location:   "file://" + filepath.ToSlash(dest),
		SessionID:  sessionID,
		Bytes:      n,
		ReceivedAt: time.Now(),
	})
}

func main() {
	addr := flag.String("addr", ":8090", "Listen address")
	dir := flag.String("dir", "uploads", "Directory to store archives in")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := os.MkdirAll(*dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", *dir, err)
		os.Exit(1)
	}

	s := &sink{dir: *dir, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.handleUpload)

	logger.Info("Upload sink listening", slog.String("address", *addr), slog.String("dir", *dir))
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
