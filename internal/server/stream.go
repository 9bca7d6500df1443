package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/selivandex/biaslens/pkg/logger"
)

// handleAnalyzeStream runs one analysis and streams phase events to
// the client as Server-Sent Events. Events arrive in strict phase
// order: items, bias, zero or more discussion events, then a terminal
// done or error event.
func (s *Server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	communityRef := r.URL.Query().Get("redditUrl")
	if communityRef == "" {
		communityRef = r.URL.Query().Get("community")
	}
	if communityRef == "" {
		http.Error(w, "redditUrl or community parameter required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	// Hint proxies to not buffer the event stream
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()

	emit := func(event string, data interface{}) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		payload, err := json.Marshal(data)
		if err != nil {
			logger.Warn("failed to marshal stream event",
				zap.String("event", event),
				zap.Error(err),
			)
			return true
		}

		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return false
		}
		flusher.Flush()

		logger.Debug("stream event emitted", zap.String("event", event))
		return true
	}

	s.controller.Run(ctx, communityRef, emit)
}
