package discussion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/selivandex/biaslens/internal/adapters/ai"
	"github.com/selivandex/biaslens/internal/scoring"
	"github.com/selivandex/biaslens/pkg/logger"
	"github.com/selivandex/biaslens/pkg/models"
)

const (
	jitterMin = 50 * time.Millisecond
	jitterMax = 200 * time.Millisecond
)

// ThreadFetcher fetches top-level comment bodies for one post.
// A nil return means the thread could not be fetched.
type ThreadFetcher interface {
	GetThreadComments(ctx context.Context, permalink string, timeout time.Duration) []string
}

// StanceClassifier classifies comment aggregates against an editorial
// stance. Implementations never fail: degraded results carry
// alignment=unclear with zero confidence.
type StanceClassifier interface {
	Classify(ctx context.Context, text string, key ai.PromptKey) *models.StanceAssessment
}

// RunCache is the short-lived store for completed run results
type RunCache interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}

// Params tune discussion analysis
type Params struct {
	Limit          int
	BatchSize      int
	TopWindow      string
	CommentTimeout time.Duration
	RunCacheTTL    time.Duration
}

// Result is one progressive snapshot of the discussion phase.
// The aggregate is always recomputed from the full sample list, never
// incrementally mutated. Completed is false when the consumer went
// away before every batch ran; such partial results are never cached
// and must not be persisted.
type Result struct {
	Samples   []models.DiscussionSample `json:"samples"`
	Aggregate models.AggregateScore     `json:"aggregate"`
	Progress  models.Progress           `json:"progress"`
	Cached    bool                      `json:"cached,omitempty"`
	Completed bool                      `json:"-"`
}

// EmitFunc receives progressive snapshots. Returning false stops
// further emission and further batches; in-flight work completes.
type EmitFunc func(Result) bool

// Analyzer runs batched concurrent discussion analysis over candidate
// posts
type Analyzer struct {
	threads    ThreadFetcher
	classifier StanceClassifier
	cache      RunCache
	params     Params

	// injectable for tests
	sleep     func(time.Duration)
	randFloat func() float64
}

// NewAnalyzer creates new discussion analyzer
func NewAnalyzer(threads ThreadFetcher, classifier StanceClassifier, cache RunCache, params Params) *Analyzer {
	if params.Limit <= 0 {
		params.Limit = 6
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 3
	}
	if params.CommentTimeout <= 0 {
		params.CommentTimeout = 10 * time.Second
	}
	if params.RunCacheTTL <= 0 {
		params.RunCacheTTL = 10 * time.Minute
	}
	return &Analyzer{
		threads:    threads,
		classifier: classifier,
		cache:      cache,
		params:     params,
		sleep:      time.Sleep,
		randFloat:  rand.Float64,
	}
}

// CacheKey derives the run cache key from the community, the batch
// parameters and the ordered candidate identities.
func (a *Analyzer) CacheKey(subreddit string, candidates []models.Post) string {
	parts := []string{
		subreddit,
		a.params.TopWindow,
		fmt.Sprintf("%d", a.params.Limit),
		fmt.Sprintf("%d", a.params.BatchSize),
	}
	for _, c := range candidates {
		parts = append(parts, c.Permalink)
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "disc:" + hex.EncodeToString(h[:])
}

// SelectCandidates prefers posts whose linked source has a known bias
// record, capped at the configured limit; with none qualifying it
// falls back to the top-ranked posts overall.
func (a *Analyzer) SelectCandidates(posts []models.Post, biasByURL map[string]models.BiasRecord) []models.Post {
	candidates := make([]models.Post, 0, a.params.Limit)
	for _, p := range posts {
		if len(candidates) >= a.params.Limit {
			break
		}
		if rec, ok := biasByURL[p.URL]; ok && rec.Bias != "" {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		if len(posts) > a.params.Limit {
			return posts[:a.params.Limit]
		}
		return posts
	}
	return candidates
}

// Analyze runs the discussion phase over candidate posts, emitting a
// snapshot after every batch. The returned Result is the final state.
func (a *Analyzer) Analyze(ctx context.Context, subreddit string, candidates []models.Post, biasByURL map[string]models.BiasRecord, emit EmitFunc) Result {
	total := len(candidates)
	cacheKey := a.CacheKey(subreddit, candidates)

	if cached := a.LookupRun(ctx, cacheKey); cached != nil {
		cached.Progress = models.Progress{Done: total, Total: total}
		cached.Cached = true
		emit(*cached)
		return *cached
	}

	var (
		mu      sync.Mutex
		samples []models.DiscussionSample
		done    int
	)

	completed := true
	for start := 0; start < total; start += a.params.BatchSize {
		end := start + a.params.BatchSize
		if end > total {
			end = total
		}

		g := new(errgroup.Group)
		for _, post := range candidates[start:end] {
			post := post
			g.Go(func() error {
				sample, ok := a.analyzeOne(ctx, post, biasByURL)
				mu.Lock()
				done++
				if ok {
					samples = append(samples, sample)
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		mu.Lock()
		snapshot := Result{
			Samples:   append([]models.DiscussionSample(nil), samples...),
			Aggregate: scoring.Aggregate(samples, nil),
			Progress:  models.Progress{Done: done, Total: total},
		}
		mu.Unlock()

		if !emit(snapshot) {
			logger.Debug("discussion consumer gone, stopping further batches",
				zap.String("subreddit", subreddit),
			)
			completed = false
			break
		}
	}

	final := Result{
		Samples:   samples,
		Aggregate: scoring.Aggregate(samples, nil),
		Progress:  models.Progress{Done: done, Total: total},
		Completed: completed,
	}

	// Only complete runs are cacheable
	if completed {
		a.storeRun(ctx, cacheKey, final)
	}

	return final
}

// analyzeOne runs the per-item pipeline: thread fetch, stance
// classification, refinement. Failures degrade the item to "no
// stance" rather than failing the batch; ok=false drops the item
// entirely (no thread reference).
func (a *Analyzer) analyzeOne(ctx context.Context, post models.Post, biasByURL map[string]models.BiasRecord) (models.DiscussionSample, bool) {
	// Small jitter to avoid a thundering herd against the feed provider
	a.sleep(jitterMin + time.Duration(a.randFloat()*float64(jitterMax-jitterMin)))

	if post.Permalink == "" {
		return models.DiscussionSample{}, false
	}

	var biasLabel string
	if rec, ok := biasByURL[post.URL]; ok {
		biasLabel = rec.Bias
	}

	sample := models.DiscussionSample{
		Post:       post,
		BiasLabel:  biasLabel,
		Engagement: post.Engagement(),
	}

	bodies := a.threads.GetThreadComments(ctx, post.Permalink, a.params.CommentTimeout)
	if bodies == nil {
		logger.Warn("thread fetch failed, item degraded to no stance",
			zap.String("permalink", post.Permalink),
		)
		return sample, true
	}
	if len(bodies) > 3 {
		sample.SampleComments = bodies[:3]
	} else {
		sample.SampleComments = bodies
	}

	promptKey := ai.KeyStanceTitle
	var lines []string
	if biasLabel != "" {
		promptKey = ai.KeyStanceSource
		if score, ok := scoring.BiasLabelToScore(biasLabel); ok {
			lines = append(lines, fmt.Sprintf("SOURCE_BIAS: label=%s, score=%.2f", biasLabel, score))
		} else {
			lines = append(lines, fmt.Sprintf("SOURCE_BIAS: label=%s", biasLabel))
		}
	}
	lines = append(lines, "TITLE: "+post.Title, "---", strings.Join(bodies, "\n---\n"))

	stance := a.classifier.Classify(ctx, strings.Join(lines, "\n"), promptKey)
	sample.Stance = stance

	base, defaulted, ok := deriveBase(biasLabel, stance)
	if !ok {
		return sample, true
	}
	sample.BaseDefaulted = defaulted

	alignmentScore := deriveAlignmentScore(stance)
	refined := scoring.RefineLean(base, alignmentScore)
	sample.RefinedLean = &refined
	sample.RefinedLabel = scoring.ScoreToLabel(refined)

	return sample, true
}

// deriveBase picks the base stance score: the known source bias wins,
// then the classifier's numeric stance, then its categorical stance
// label. When the classifier itself could not resolve a title stance
// the base defaults to neutral with reduced aggregation weight.
func deriveBase(biasLabel string, stance *models.StanceAssessment) (base float64, defaulted, ok bool) {
	if score, found := scoring.BiasLabelToScore(biasLabel); found {
		return score, false, true
	}
	if stance == nil {
		return 0, false, false
	}
	if stance.StanceScore != nil {
		return *stance.StanceScore, false, true
	}
	if score, found := scoring.BiasLabelToScore(stance.StanceLabel); found {
		return score, false, true
	}
	if stance.StanceLabel == "none" || stance.Alignment == models.AlignmentUnclear {
		return scoring.NeutralLean, true, true
	}
	return 0, false, false
}

// deriveAlignmentScore prefers the explicit numeric score
// unconditionally; the categorical label is only a fallback.
func deriveAlignmentScore(stance *models.StanceAssessment) float64 {
	if stance == nil {
		return 0
	}
	if stance.AlignmentScore != nil {
		return *stance.AlignmentScore
	}
	return scoring.AlignmentToScore(stance.Alignment)
}

// LookupRun loads a completed run from the run cache. Only complete
// runs are ever stored, so a hit is always a full result.
func (a *Analyzer) LookupRun(ctx context.Context, key string) *Result {
	raw, err := a.cache.GetString(ctx, key)
	if err != nil {
		return nil
	}
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		logger.Warn("discarding malformed cached run", zap.Error(err))
		return nil
	}
	result.Completed = true
	return &result
}

func (a *Analyzer) storeRun(ctx context.Context, key string, result Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := a.cache.SetString(ctx, key, string(raw), a.params.RunCacheTTL); err != nil {
		logger.Warn("failed to cache run result", zap.Error(err))
	}
}
