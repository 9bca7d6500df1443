package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/selivandex/biaslens/pkg/logger"
	"github.com/selivandex/biaslens/pkg/models"
)

// ResultCache is the short-lived key-value layer in front of the
// durable store
type ResultCache interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}

// ResultStore is the durable classification result store. Get returns
// (nil, nil) when no result exists for the hash.
type ResultStore interface {
	Get(ctx context.Context, hash string) (*models.StanceAssessment, error)
	Save(ctx context.Context, rec *ResultRecord) error
}

// ResultRecord is one persisted classification result
type ResultRecord struct {
	Hash          string
	PromptKey     string
	PromptVersion string
	Assessment    models.StanceAssessment
}

// Adapter orchestrates stance classification: prompt resolution,
// hash-keyed caching, ordered provider fallback and write-through
// persistence. Classification is deterministic-ish and expensive, so
// cached results live long (default 30 days).
type Adapter struct {
	providers     []Classifier
	cache         ResultCache
	store         ResultStore
	promptVersion string
	inputCharCap  int
	resultTTL     time.Duration
}

// Options tune adapter behavior
type Options struct {
	PromptVersion string
	InputCharCap  int
	ResultTTL     time.Duration
}

// NewAdapter creates new stance inference adapter. Providers are
// tried in the given order.
func NewAdapter(providers []Classifier, cache ResultCache, store ResultStore, opts Options) *Adapter {
	if opts.PromptVersion == "" {
		opts.PromptVersion = DefaultPromptVersion
	}
	if opts.InputCharCap <= 0 {
		opts.InputCharCap = 8000
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 30 * 24 * time.Hour
	}
	return &Adapter{
		providers:     providers,
		cache:         cache,
		store:         store,
		promptVersion: opts.PromptVersion,
		inputCharCap:  opts.InputCharCap,
		resultTTL:     opts.ResultTTL,
	}
}

// Classify runs stance classification over text. It never returns an
// error: empty input yields a neutral result, and exhaustion of all
// providers yields an unclear zero-confidence sentinel.
func (a *Adapter) Classify(ctx context.Context, text string, key PromptKey) *models.StanceAssessment {
	if strings.TrimSpace(text) == "" {
		return &models.StanceAssessment{
			Provider:  "heuristic",
			Model:     "none",
			Alignment: models.AlignmentUnclear,
			Reasoning: "empty text",
		}
	}

	text = truncateToCap(text, a.inputCharCap)

	hash := contentHash(key, a.promptVersion, text)

	if cached := a.lookupCached(ctx, hash); cached != nil {
		return cached
	}

	prompt, err := ResolvePrompt(key, a.promptVersion)
	if err != nil {
		logger.Error("prompt resolution failed", zap.Error(err))
		return sentinelAssessment()
	}

	for _, provider := range a.providers {
		if !provider.Enabled() {
			continue
		}

		content, err := provider.Classify(ctx, prompt, text)
		if err != nil {
			logger.Warn("stance provider failed, trying next",
				zap.String("provider", provider.Name()),
				zap.Error(err),
			)
			continue
		}

		assessment, err := parseAssessment(content, provider.Name(), provider.Model())
		if err != nil {
			logger.Warn("stance provider returned malformed JSON, trying next",
				zap.String("provider", provider.Name()),
				zap.Error(err),
			)
			continue
		}

		a.persist(ctx, hash, key, assessment)
		return assessment
	}

	logger.Warn("all stance providers failed", zap.String("prompt_key", string(key)))
	return sentinelAssessment()
}

// lookupCached checks the short-lived cache, then the durable store.
// A durable hit is written back to the cache.
func (a *Adapter) lookupCached(ctx context.Context, hash string) *models.StanceAssessment {
	cacheKey := "ai:" + hash

	if raw, err := a.cache.GetString(ctx, cacheKey); err == nil {
		var assessment models.StanceAssessment
		if err := json.Unmarshal([]byte(raw), &assessment); err == nil {
			return &assessment
		}
	}

	assessment, err := a.store.Get(ctx, hash)
	if err != nil {
		logger.Warn("classification store lookup failed", zap.Error(err))
		return nil
	}
	if assessment == nil {
		return nil
	}

	if raw, err := json.Marshal(assessment); err == nil {
		_ = a.cache.SetString(ctx, cacheKey, string(raw), a.resultTTL)
	}
	return assessment
}

// persist writes through the cache and, best effort, the durable
// store. Persistence failure never fails the classification.
func (a *Adapter) persist(ctx context.Context, hash string, key PromptKey, assessment *models.StanceAssessment) {
	if raw, err := json.Marshal(assessment); err == nil {
		if err := a.cache.SetString(ctx, "ai:"+hash, string(raw), a.resultTTL); err != nil {
			logger.Warn("failed to cache classification result", zap.Error(err))
		}
	}

	rec := &ResultRecord{
		Hash:          hash,
		PromptKey:     string(key),
		PromptVersion: a.promptVersion,
		Assessment:    *assessment,
	}
	if err := a.store.Save(ctx, rec); err != nil {
		logger.Warn("failed to persist classification result",
			zap.String("hash", hash),
			zap.Error(err),
		)
	}
}

func sentinelAssessment() *models.StanceAssessment {
	return &models.StanceAssessment{
		Provider:  "fallback",
		Model:     "none",
		Alignment: models.AlignmentUnclear,
		Reasoning: "all providers failed",
	}
}

// truncateToCap cuts text to at most cap bytes on a rune boundary, so
// the hash and the provider payload never carry a split UTF-8 sequence.
func truncateToCap(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// contentHash computes the stable cache key over prompt identity and
// input text
func contentHash(key PromptKey, version, text string) string {
	h := sha256.Sum256([]byte(string(key) + "|" + version + "|" + text))
	return hex.EncodeToString(h[:])
}
