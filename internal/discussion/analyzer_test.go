package discussion

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/biaslens/internal/adapters/ai"
	"github.com/selivandex/biaslens/pkg/logger"
	"github.com/selivandex/biaslens/pkg/models"
)

func TestMain(m *testing.M) {
	_ = logger.Init("error", "")
	os.Exit(m.Run())
}

type fakeThreads struct {
	mu      sync.Mutex
	byLink  map[string][]string // nil value = fetch failure
	fetches int
}

func (f *fakeThreads) GetThreadComments(ctx context.Context, permalink string, timeout time.Duration) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.byLink[permalink]
}

type fakeClassifier struct {
	mu      sync.Mutex
	fn      func(text string, key ai.PromptKey) *models.StanceAssessment
	texts   []string
	keys    []ai.PromptKey
	invoked int
}

func (f *fakeClassifier) Classify(ctx context.Context, text string, key ai.PromptKey) *models.StanceAssessment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked++
	f.texts = append(f.texts, text)
	f.keys = append(f.keys, key)
	if f.fn != nil {
		return f.fn(text, key)
	}
	return &models.StanceAssessment{Alignment: models.AlignmentAligns, Confidence: 0.8}
}

type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache { return &memCache{data: map[string]string{}} }

func (m *memCache) GetString(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", errors.New("miss")
}

func (m *memCache) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func newTestAnalyzer(threads ThreadFetcher, classifier StanceClassifier, cache RunCache, params Params) *Analyzer {
	a := NewAnalyzer(threads, classifier, cache, params)
	a.sleep = func(time.Duration) {}
	a.randFloat = func() float64 { return 0 }
	return a
}

func posts(n int) []models.Post {
	out := make([]models.Post, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Post{
			Title:       "post " + string(rune('a'+i)),
			URL:         "https://example.com/" + string(rune('a'+i)),
			Permalink:   "/r/test/comments/" + string(rune('a'+i)) + "/",
			Score:       100,
			NumComments: 10,
		})
	}
	return out
}

func threadsFor(ps []models.Post, bodies []string) *fakeThreads {
	byLink := make(map[string][]string, len(ps))
	for _, p := range ps {
		byLink[p.Permalink] = bodies
	}
	return &fakeThreads{byLink: byLink}
}

func TestSelectCandidates_PrefersKnownBias(t *testing.T) {
	ps := posts(5)
	biasByURL := map[string]models.BiasRecord{
		ps[1].URL: {Bias: "Left"},
		ps[3].URL: {Bias: "Right"},
	}

	a := newTestAnalyzer(nil, nil, newMemCache(), Params{Limit: 6})
	got := a.SelectCandidates(ps, biasByURL)

	require.Len(t, got, 2)
	assert.Equal(t, ps[1].URL, got[0].URL)
	assert.Equal(t, ps[3].URL, got[1].URL)
}

func TestSelectCandidates_FallbackToTopPosts(t *testing.T) {
	ps := posts(8)
	a := newTestAnalyzer(nil, nil, newMemCache(), Params{Limit: 6})

	got := a.SelectCandidates(ps, nil)
	require.Len(t, got, 6)
	assert.Equal(t, ps[0].URL, got[0].URL)
}

func TestSelectCandidates_CapsAtLimit(t *testing.T) {
	ps := posts(8)
	biasByURL := make(map[string]models.BiasRecord, len(ps))
	for _, p := range ps {
		biasByURL[p.URL] = models.BiasRecord{Bias: "Least Biased"}
	}

	a := newTestAnalyzer(nil, nil, newMemCache(), Params{Limit: 3})
	assert.Len(t, a.SelectCandidates(ps, biasByURL), 3)
}

func TestAnalyze_BatchProgress(t *testing.T) {
	ps := posts(5)
	threads := threadsFor(ps, []string{"comment one", "comment two"})
	classifier := &fakeClassifier{}

	a := newTestAnalyzer(threads, classifier, newMemCache(), Params{Limit: 6, BatchSize: 2})

	var snapshots []Result
	final := a.Analyze(context.Background(), "politics", ps, nil, func(r Result) bool {
		snapshots = append(snapshots, r)
		return true
	})

	// 5 candidates at batch size 2: snapshots after 2, 4 and 5 items
	require.Len(t, snapshots, 3)
	assert.Equal(t, models.Progress{Done: 2, Total: 5}, snapshots[0].Progress)
	assert.Equal(t, models.Progress{Done: 4, Total: 5}, snapshots[1].Progress)
	assert.Equal(t, models.Progress{Done: 5, Total: 5}, snapshots[2].Progress)

	assert.Len(t, final.Samples, 5)
	assert.False(t, final.Cached)
	assert.True(t, final.Completed)
	assert.Equal(t, 5, classifier.invoked)
}

func TestAnalyze_EmitFalseStopsFurtherBatches(t *testing.T) {
	ps := posts(6)
	threads := threadsFor(ps, []string{"c"})

	a := newTestAnalyzer(threads, &fakeClassifier{}, newMemCache(), Params{Limit: 6, BatchSize: 2})

	emits := 0
	final := a.Analyze(context.Background(), "politics", ps, nil, func(r Result) bool {
		emits++
		return false
	})

	assert.Equal(t, 1, emits)
	assert.Equal(t, 2, final.Progress.Done, "only the first batch should run")
	assert.Equal(t, 2, threads.fetches)
	assert.False(t, final.Completed, "an aborted run is not a complete result")
}

func TestAnalyze_AbortedRunNotCached(t *testing.T) {
	ps := posts(4)
	threads := threadsFor(ps, []string{"c"})
	cache := newMemCache()

	a := newTestAnalyzer(threads, &fakeClassifier{}, cache, Params{Limit: 6, BatchSize: 2})
	a.Analyze(context.Background(), "politics", ps, nil, func(Result) bool { return false })

	assert.Empty(t, cache.data)
}

func TestAnalyze_RunCacheHit(t *testing.T) {
	ps := posts(3)
	threads := threadsFor(ps, []string{"c"})
	cache := newMemCache()
	classifier := &fakeClassifier{}

	a := newTestAnalyzer(threads, classifier, cache, Params{Limit: 6, BatchSize: 3})

	first := a.Analyze(context.Background(), "politics", ps, nil, func(Result) bool { return true })
	require.Len(t, first.Samples, 3)
	require.False(t, first.Cached)

	fetchesBefore := threads.fetches
	invokedBefore := classifier.invoked

	var replay Result
	second := a.Analyze(context.Background(), "politics", ps, nil, func(r Result) bool {
		replay = r
		return true
	})

	assert.True(t, second.Cached)
	assert.True(t, second.Completed)
	assert.True(t, replay.Cached)
	assert.Len(t, second.Samples, 3)
	assert.Equal(t, models.Progress{Done: 3, Total: 3}, replay.Progress)
	assert.Equal(t, fetchesBefore, threads.fetches, "cached run must not refetch threads")
	assert.Equal(t, invokedBefore, classifier.invoked, "cached run must not reclassify")
}

func TestLookupRun_OnlyCompleteRunsLand(t *testing.T) {
	ps := posts(2)
	threads := threadsFor(ps, []string{"c"})
	cache := newMemCache()

	a := newTestAnalyzer(threads, &fakeClassifier{}, cache, Params{Limit: 6, BatchSize: 2})
	key := a.CacheKey("politics", ps)

	require.Nil(t, a.LookupRun(context.Background(), key))

	a.Analyze(context.Background(), "politics", ps, nil, func(Result) bool { return true })

	got := a.LookupRun(context.Background(), key)
	require.NotNil(t, got)
	assert.True(t, got.Completed)
	assert.Len(t, got.Samples, 2)
}

func TestAnalyze_ThreadFailureDegradesItem(t *testing.T) {
	ps := posts(2)
	threads := &fakeThreads{byLink: map[string][]string{
		ps[0].Permalink: {"works"},
		ps[1].Permalink: nil, // fetch failure
	}}

	a := newTestAnalyzer(threads, &fakeClassifier{}, newMemCache(), Params{Limit: 6, BatchSize: 2})
	final := a.Analyze(context.Background(), "politics", ps, nil, func(Result) bool { return true })

	require.Len(t, final.Samples, 2)

	withStance, withoutStance := 0, 0
	for _, s := range final.Samples {
		if s.Stance != nil {
			withStance++
		} else {
			withoutStance++
			assert.Nil(t, s.RefinedLean)
		}
	}
	assert.Equal(t, 1, withStance)
	assert.Equal(t, 1, withoutStance)
}

func TestAnalyze_MissingPermalinkDropsItem(t *testing.T) {
	ps := posts(2)
	ps[1].Permalink = ""
	threads := threadsFor(ps[:1], []string{"c"})

	a := newTestAnalyzer(threads, &fakeClassifier{}, newMemCache(), Params{Limit: 6, BatchSize: 2})
	final := a.Analyze(context.Background(), "politics", ps, nil, func(Result) bool { return true })

	assert.Len(t, final.Samples, 1)
	assert.Equal(t, models.Progress{Done: 2, Total: 2}, final.Progress)
}

func TestAnalyze_PromptSelectionAndContext(t *testing.T) {
	ps := posts(2)
	biasByURL := map[string]models.BiasRecord{ps[0].URL: {Bias: "Right"}}
	threads := threadsFor(ps, []string{"b1", "b2", "b3", "b4"})
	classifier := &fakeClassifier{}

	a := newTestAnalyzer(threads, classifier, newMemCache(), Params{Limit: 6, BatchSize: 1})
	final := a.Analyze(context.Background(), "politics", ps, biasByURL, func(Result) bool { return true })

	require.Len(t, classifier.keys, 2)

	keysSeen := map[ai.PromptKey]string{}
	for i, key := range classifier.keys {
		keysSeen[key] = classifier.texts[i]
	}

	sourceText, ok := keysSeen[ai.KeyStanceSource]
	require.True(t, ok, "item with known bias should use the source prompt")
	assert.True(t, strings.HasPrefix(sourceText, "SOURCE_BIAS: label=Right"))
	assert.Contains(t, sourceText, "TITLE: ")

	titleText, ok := keysSeen[ai.KeyStanceTitle]
	require.True(t, ok, "item without bias should use the title prompt")
	assert.NotContains(t, titleText, "SOURCE_BIAS")

	for _, s := range final.Samples {
		assert.LessOrEqual(t, len(s.SampleComments), 3)
	}
}

func TestAnalyze_RefinementFromBias(t *testing.T) {
	ps := posts(1)
	biasByURL := map[string]models.BiasRecord{ps[0].URL: {Bias: "Right"}}
	threads := threadsFor(ps, []string{"agreeing comment"})

	one := 1.0
	classifier := &fakeClassifier{fn: func(string, ai.PromptKey) *models.StanceAssessment {
		return &models.StanceAssessment{
			Alignment:      models.AlignmentAligns,
			AlignmentScore: &one,
			Confidence:     0.8,
		}
	}}

	a := newTestAnalyzer(threads, classifier, newMemCache(), Params{Limit: 6, BatchSize: 1})
	final := a.Analyze(context.Background(), "politics", ps, biasByURL, func(Result) bool { return true })

	require.Len(t, final.Samples, 1)
	s := final.Samples[0]
	require.NotNil(t, s.RefinedLean)
	assert.InDelta(t, 7.857142857, *s.RefinedLean, 1e-6)
	assert.Equal(t, "Right", s.RefinedLabel)
	assert.False(t, s.BaseDefaulted)
	assert.Equal(t, "Right", final.Aggregate.Label)
}

func TestAnalyze_UnresolvedStanceDefaultsToNeutral(t *testing.T) {
	ps := posts(1)
	threads := threadsFor(ps, []string{"c"})

	classifier := &fakeClassifier{fn: func(string, ai.PromptKey) *models.StanceAssessment {
		return &models.StanceAssessment{
			Alignment:   models.AlignmentUnclear,
			StanceLabel: "none",
			Confidence:  0.3,
		}
	}}

	a := newTestAnalyzer(threads, classifier, newMemCache(), Params{Limit: 6, BatchSize: 1})
	final := a.Analyze(context.Background(), "politics", ps, nil, func(Result) bool { return true })

	require.Len(t, final.Samples, 1)
	s := final.Samples[0]
	assert.True(t, s.BaseDefaulted)
	require.NotNil(t, s.RefinedLean)
	assert.InDelta(t, 5.0, *s.RefinedLean, 1e-9)
}

func TestCacheKey_SensitiveToCandidates(t *testing.T) {
	a := newTestAnalyzer(nil, nil, newMemCache(), Params{Limit: 6, TopWindow: "month"})

	ps := posts(3)
	k1 := a.CacheKey("politics", ps)
	k2 := a.CacheKey("politics", ps[:2])
	k3 := a.CacheKey("news", ps)

	assert.True(t, strings.HasPrefix(k1, "disc:"))
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Equal(t, k1, a.CacheKey("politics", ps))
}

func TestDeriveBase(t *testing.T) {
	score := 6.5
	tests := []struct {
		name          string
		biasLabel     string
		stance        *models.StanceAssessment
		wantBase      float64
		wantDefaulted bool
		wantOK        bool
	}{
		{
			name:      "bias label wins",
			biasLabel: "Left",
			stance:    &models.StanceAssessment{StanceScore: &score},
			wantBase:  2.142857142857143,
			wantOK:    true,
		},
		{
			name:     "numeric stance score",
			stance:   &models.StanceAssessment{StanceScore: &score},
			wantBase: 6.5,
			wantOK:   true,
		},
		{
			name:     "categorical stance label",
			stance:   &models.StanceAssessment{StanceLabel: "Right-Center"},
			wantBase: 6.428571428571429,
			wantOK:   true,
		},
		{
			name:          "unresolved defaults to neutral",
			stance:        &models.StanceAssessment{StanceLabel: "none"},
			wantBase:      5,
			wantDefaulted: true,
			wantOK:        true,
		},
		{
			name:   "nil stance",
			stance: nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, defaulted, ok := deriveBase(tt.biasLabel, tt.stance)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.wantBase, base, 1e-9)
				assert.Equal(t, tt.wantDefaulted, defaulted)
			}
		})
	}
}

func TestDeriveAlignmentScore_NumericPreferred(t *testing.T) {
	half := 0.5
	stance := &models.StanceAssessment{
		Alignment:      models.AlignmentOpposes,
		AlignmentScore: &half,
	}
	assert.Equal(t, 0.5, deriveAlignmentScore(stance))

	stance.AlignmentScore = nil
	assert.Equal(t, -1.0, deriveAlignmentScore(stance))

	assert.Equal(t, 0.0, deriveAlignmentScore(nil))
}
