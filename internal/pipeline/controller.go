package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/biaslens/internal/discussion"
	"github.com/selivandex/biaslens/internal/scoring"
	"github.com/selivandex/biaslens/pkg/logger"
	"github.com/selivandex/biaslens/pkg/models"
)

const (
	runLockTTL = 2 * time.Minute

	// When another replica holds the run lock, wait briefly for its
	// result to land in the run cache before running a duplicate.
	peerWaitInterval = 500 * time.Millisecond
	peerWaitAttempts = 4
)

// FeedClient lists ranked posts for a community
type FeedClient interface {
	GetTopPosts(ctx context.Context, subreddit string, limit int, window string) ([]models.Post, error)
}

// BiasIndex resolves linked URLs to source bias records
type BiasIndex interface {
	Lookup(ctx context.Context, urls []string) map[string]models.BiasRecord
}

// Analyzer runs the discussion phase
type Analyzer interface {
	SelectCandidates(posts []models.Post, biasByURL map[string]models.BiasRecord) []models.Post
	CacheKey(subreddit string, candidates []models.Post) string
	LookupRun(ctx context.Context, key string) *discussion.Result
	Analyze(ctx context.Context, subreddit string, candidates []models.Post, biasByURL map[string]models.BiasRecord, emit discussion.EmitFunc) discussion.Result
}

// ResultWriter persists a completed analysis for historical charting
type ResultWriter interface {
	SaveAnalysis(ctx context.Context, community string, score models.AggregateScore, breakdown map[string]int) error
}

// Locker provides best-effort cross-replica single-flight for
// identical runs. Lock failure never blocks a run.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) bool
	Unlock(ctx context.Context, key string)
}

// EmitFunc delivers one phase event to the consumer. Returning false
// signals the consumer is gone; emission stops best-effort while
// in-flight work completes.
type EmitFunc func(event string, data interface{}) bool

// Options tune the pipeline
type Options struct {
	TopLimit  int
	TopWindow string
}

// Controller drives the phase state machine: fetch items, resolve
// bias, analyze discussion in batches. Events are emitted in strict
// phase order ending in a terminal done or error event.
type Controller struct {
	feed     FeedClient
	bias     BiasIndex
	analyzer Analyzer
	writer   ResultWriter
	locker   Locker
	opts     Options

	// injectable for tests
	sleep func(time.Duration)
}

// NewController creates new pipeline controller
func NewController(feed FeedClient, bias BiasIndex, analyzer Analyzer, writer ResultWriter, locker Locker, opts Options) *Controller {
	if opts.TopLimit <= 0 {
		opts.TopLimit = 25
	}
	if opts.TopWindow == "" {
		opts.TopWindow = "month"
	}
	return &Controller{
		feed:     feed,
		bias:     bias,
		analyzer: analyzer,
		writer:   writer,
		locker:   locker,
		opts:     opts,
		sleep:    time.Sleep,
	}
}

var subredditRe = regexp.MustCompile(`(?i)reddit\.com/r/([^/?#]+)`)

// ParseCommunityRef extracts the subreddit name from a full Reddit
// URL, an r/name reference or a bare name.
func ParseCommunityRef(raw string) (string, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return "", fmt.Errorf("empty community reference")
	}

	if strings.Contains(ref, "reddit.com") {
		m := subredditRe.FindStringSubmatch(ref)
		if m == nil {
			return "", fmt.Errorf("could not extract subreddit from %q", raw)
		}
		return m[1], nil
	}

	ref = strings.TrimPrefix(ref, "r/")
	if ref == "" || strings.ContainsAny(ref, "/?#&") {
		return "", fmt.Errorf("invalid subreddit reference %q", raw)
	}
	return ref, nil
}

// Run executes one full analysis for a community reference. Fatal
// failures surface as a terminal error event; everything else
// degrades and the run continues.
func (c *Controller) Run(ctx context.Context, communityRef string, emit EmitFunc) {
	subreddit, err := ParseCommunityRef(communityRef)
	if err != nil {
		emit(models.EventError, models.ErrorPayload{Message: err.Error()})
		return
	}

	// Phase A: feed items. Failure here is fatal to the run.
	posts, err := c.feed.GetTopPosts(ctx, subreddit, c.opts.TopLimit, c.opts.TopWindow)
	if err != nil {
		logger.Error("feed phase failed",
			zap.String("subreddit", subreddit),
			zap.Error(err),
		)
		emit(models.EventError, models.ErrorPayload{Message: "failed to fetch community feed"})
		return
	}

	if !emit(models.EventItems, models.ItemsPayload{
		Community:  subreddit,
		Items:      posts,
		TotalCount: len(posts),
	}) {
		return
	}

	// Phase B: source bias lookup. Degrades to empty on store failure.
	urls := externalURLs(posts)
	biasByURL := c.bias.Lookup(ctx, urls)

	breakdown := make(map[string]int)
	details := make([]models.BiasRecord, 0, len(biasByURL))
	for _, rec := range biasByURL {
		if rec.Bias != "" {
			breakdown[rec.Bias]++
		}
		details = append(details, rec)
	}

	if !emit(models.EventBias, models.BiasPayload{
		BiasBreakdown:    breakdown,
		Details:          details,
		URLsChecked:      len(urls),
		ProvisionalScore: scoring.ProvisionalScore(breakdown),
	}) {
		return
	}

	// Phase C: batched discussion analysis. The lock keeps replicas
	// from running identical analyses concurrently: the loser waits
	// for the winner's cached result instead of duplicating the work.
	candidates := c.analyzer.SelectCandidates(posts, biasByURL)
	cacheKey := c.analyzer.CacheKey(subreddit, candidates)

	lockKey := "lock:" + cacheKey
	if c.locker.TryLock(ctx, lockKey, runLockTTL) {
		defer c.locker.Unlock(ctx, lockKey)
	} else if replay := c.awaitPeerResult(ctx, cacheKey); replay != nil {
		emit(models.EventDiscussion, discussionPayload(*replay, true))
		emit(models.EventDone, models.DonePayload{OK: true, Cached: true})
		return
	}

	result := c.analyzer.Analyze(ctx, subreddit, candidates, biasByURL, func(r discussion.Result) bool {
		return emit(models.EventDiscussion, discussionPayload(r, r.Cached))
	})

	// Persist for historical charting, best effort. Aborted runs stay
	// out of history: a first-batch-only aggregate is not a community
	// score.
	if result.Completed && !result.Cached {
		if err := c.writer.SaveAnalysis(ctx, "r/"+subreddit, result.Aggregate, breakdown); err != nil {
			logger.Warn("failed to persist analysis result",
				zap.String("subreddit", subreddit),
				zap.Error(err),
			)
		}
	}

	emit(models.EventDone, models.DonePayload{OK: true, Cached: result.Cached})
}

// awaitPeerResult polls the run cache for the result of an identical
// run in flight on another replica. Returns nil when none lands within
// the wait budget; the caller then runs the analysis itself.
func (c *Controller) awaitPeerResult(ctx context.Context, cacheKey string) *discussion.Result {
	logger.Debug("identical run in flight elsewhere, awaiting its result",
		zap.String("cache_key", cacheKey),
	)
	for attempt := 0; attempt < peerWaitAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		c.sleep(peerWaitInterval)
		if r := c.analyzer.LookupRun(ctx, cacheKey); r != nil {
			return r
		}
	}
	return nil
}

func discussionPayload(r discussion.Result, cached bool) models.DiscussionPayload {
	return models.DiscussionPayload{
		Samples:        r.Samples,
		LeanRaw:        r.Aggregate.LeanRaw,
		LeanNormalized: r.Aggregate.LeanNormalized,
		Label:          r.Aggregate.Label,
		Confidence:     r.Aggregate.Confidence,
		Progress:       r.Progress,
		Cached:         cached,
	}
}

func externalURLs(posts []models.Post) []string {
	urls := make([]string, 0, len(posts))
	for _, p := range posts {
		if strings.HasPrefix(p.URL, "http://") || strings.HasPrefix(p.URL, "https://") {
			urls = append(urls, p.URL)
		}
	}
	return urls
}
