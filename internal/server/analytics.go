package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/biaslens/internal/analytics"
	"github.com/selivandex/biaslens/pkg/logger"
	"github.com/selivandex/biaslens/pkg/models"
)

const analyticsPathPrefix = "/api/analytics/subreddit/"

// handleAnalyticsSeries serves the historical score series for a
// community as JSON or CSV
func (s *Server) handleAnalyticsSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, analyticsPathPrefix)
	name = strings.Trim(name, "/")
	if name == "" {
		http.Error(w, "subreddit name required", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()

	var since *time.Time
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid since timestamp", http.StatusBadRequest)
			return
		}
		since = &t
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	groupBy := q.Get("groupBy")
	switch groupBy {
	case "", analytics.GroupNone:
		groupBy = analytics.GroupNone
	case analytics.GroupDay:
	default:
		http.Error(w, "invalid groupBy", http.StatusBadRequest)
		return
	}

	data, err := s.analytics.Series(r.Context(), name, since, limit, groupBy)
	if err != nil {
		logger.Error("analytics series query failed",
			zap.String("subreddit", name),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"ok":      false,
			"message": "failed to load series",
		})
		return
	}

	if q.Get("format") == "csv" {
		writeCSV(w, data)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"name": name,
		"data": data,
	})
}

func writeCSV(w http.ResponseWriter, points []models.SeriesPoint) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	var sb strings.Builder
	sb.WriteString("t,biasScore,confidence\n")
	for _, p := range points {
		sb.WriteString(p.T.Format(time.RFC3339))
		sb.WriteByte(',')
		if p.BiasScore != nil {
			sb.WriteString(formatFloat(*p.BiasScore))
		}
		sb.WriteByte(',')
		if p.Confidence != nil {
			sb.WriteString(formatFloat(*p.Confidence))
		}
		sb.WriteByte('\n')
	}

	if _, err := fmt.Fprint(w, sb.String()); err != nil {
		logger.Warn("failed to write csv response", zap.Error(err))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
