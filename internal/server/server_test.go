package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/biaslens/internal/pipeline"
	"github.com/selivandex/biaslens/pkg/logger"
	"github.com/selivandex/biaslens/pkg/models"
)

func TestMain(m *testing.M) {
	_ = logger.Init("error", "")
	os.Exit(m.Run())
}

type fakeRunner struct {
	ref    string
	script []struct {
		event string
		data  interface{}
	}
}

func (f *fakeRunner) Run(ctx context.Context, communityRef string, emit pipeline.EmitFunc) {
	f.ref = communityRef
	for _, e := range f.script {
		if !emit(e.event, e.data) {
			return
		}
	}
}

type fakeSeries struct {
	points []models.SeriesPoint
	err    error

	name    string
	since   *time.Time
	limit   int
	groupBy string
}

func (f *fakeSeries) Series(ctx context.Context, community string, since *time.Time, limit int, groupBy string) ([]models.SeriesPoint, error) {
	f.name = community
	f.since = since
	f.limit = limit
	f.groupBy = groupBy
	return f.points, f.err
}

func newTestServer(runner AnalysisRunner, series SeriesProvider) *Server {
	return New("0", runner, series, nil, nil)
}

func TestHandleAnalyzeStream_SSEFormat(t *testing.T) {
	runner := &fakeRunner{script: []struct {
		event string
		data  interface{}
	}{
		{models.EventItems, models.ItemsPayload{Community: "politics", TotalCount: 2}},
		{models.EventDone, models.DonePayload{OK: true}},
	}}

	s := newTestServer(runner, &fakeSeries{})

	req := httptest.NewRequest(http.MethodGet, "/api/analyze/stream?community=politics", nil)
	rec := httptest.NewRecorder()
	s.handleAnalyzeStream(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "politics", runner.ref)

	body := rec.Body.String()
	itemsIdx := strings.Index(body, "event: items\ndata: ")
	doneIdx := strings.Index(body, "event: done\ndata: ")
	require.GreaterOrEqual(t, itemsIdx, 0)
	require.Greater(t, doneIdx, itemsIdx)
	assert.Contains(t, body, `"communityId":"politics"`)
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestHandleAnalyzeStream_RedditURLParam(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(runner, &fakeSeries{})

	req := httptest.NewRequest(http.MethodGet, "/api/analyze/stream?redditUrl=https%3A%2F%2Freddit.com%2Fr%2Fnews", nil)
	rec := httptest.NewRecorder()
	s.handleAnalyzeStream(rec, req)

	assert.Equal(t, "https://reddit.com/r/news", runner.ref)
}

func TestHandleAnalyzeStream_MissingParam(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeSeries{})

	req := httptest.NewRequest(http.MethodGet, "/api/analyze/stream", nil)
	rec := httptest.NewRecorder()
	s.handleAnalyzeStream(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAnalyzeStream_MethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeSeries{})

	req := httptest.NewRequest(http.MethodPost, "/api/analyze/stream?community=x", nil)
	rec := httptest.NewRecorder()
	s.handleAnalyzeStream(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func seriesFixture() []models.SeriesPoint {
	score1, conf1 := 6.4, 0.55
	score2 := 5.0
	return []models.SeriesPoint{
		{T: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), BiasScore: &score1, Confidence: &conf1},
		{T: time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC), BiasScore: &score2},
	}
}

func TestHandleAnalyticsSeries_JSON(t *testing.T) {
	series := &fakeSeries{points: seriesFixture()}
	s := newTestServer(&fakeRunner{}, series)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/subreddit/politics?limit=10&groupBy=day", nil)
	rec := httptest.NewRecorder()
	s.handleAnalyticsSeries(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "politics", series.name)
	assert.Equal(t, 10, series.limit)
	assert.Equal(t, "day", series.groupBy)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestHandleAnalyticsSeries_CSV(t *testing.T) {
	series := &fakeSeries{points: seriesFixture()}
	s := newTestServer(&fakeRunner{}, series)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/subreddit/politics?format=csv", nil)
	rec := httptest.NewRecorder()
	s.handleAnalyticsSeries(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "t,biasScore,confidence", lines[0])
	assert.Equal(t, "2026-08-01T12:00:00Z,6.4,0.55", lines[1])
	// missing confidence renders as an empty cell
	assert.Equal(t, "2026-08-02T12:00:00Z,5,", lines[2])
}

func TestHandleAnalyticsSeries_SinceParsed(t *testing.T) {
	series := &fakeSeries{}
	s := newTestServer(&fakeRunner{}, series)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/subreddit/politics?since=2026-08-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	s.handleAnalyticsSeries(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, series.since)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), series.since.UTC())
}

func TestHandleAnalyticsSeries_Validation(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "missing subreddit", path: "/api/analytics/subreddit/"},
		{name: "bad since", path: "/api/analytics/subreddit/politics?since=yesterday"},
		{name: "bad limit", path: "/api/analytics/subreddit/politics?limit=zero"},
		{name: "negative limit", path: "/api/analytics/subreddit/politics?limit=-5"},
		{name: "bad groupBy", path: "/api/analytics/subreddit/politics?groupBy=hour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeRunner{}, &fakeSeries{})
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			s.handleAnalyticsSeries(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleAnalyticsSeries_QueryFailure(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeSeries{err: errors.New("db down")})

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/subreddit/politics", nil)
	rec := httptest.NewRecorder()
	s.handleAnalyticsSeries(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeSeries{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
