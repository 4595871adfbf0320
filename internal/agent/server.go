// ABOUTME: HTTP handler that exposes any Engine over the remote SSE protocol
// ABOUTME: Serves POST /run so a RemoteEngine elsewhere can drive this engine

package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Handler serves engine on POST /run.
func Handler(engine Engine, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine-server")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		events, err := engine.Run(r.Context(), &req)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, ErrEmptyMessage) {
				status = http.StatusBadRequest
			}
			writeJSONError(w, status, err.Error())
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for ev := range events {
			var werr error
			if ev.Err != nil {
				werr = WriteSSE(w, SSEEventError, map[string]string{"error": ev.Err.Error()})
			} else {
				werr = WriteSSE(w, SSEEventEvent, ev)
			}
			if werr != nil {
				logger.Debug("client went away", "error", werr)
				return
			}
			flusher.Flush()
		}
	})
	return mux
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
