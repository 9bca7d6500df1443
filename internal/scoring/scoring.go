package scoring

import (
	"github.com/selivandex/biaslens/pkg/models"
)

// KnownBiasLabels is the ordered bias scale, far left to far right.
// Segment i of an equal 7-way partition of [0,10] maps to label i.
var KnownBiasLabels = []string{
	"Extreme-Left",
	"Left",
	"Left-Center",
	"Least Biased",
	"Right-Center",
	"Right",
	"Extreme-Right",
}

const (
	// LabelQuestionable carries a fixed editorial policy score rather
	// than a computed partition midpoint.
	LabelQuestionable     = "Questionable"
	QuestionableScore     = 7.0
	NeutralLean           = 5.0
	segmentWidth          = 10.0 / 7.0
	emptyAggregateConf    = 0.4
	confidencePerSample   = 0.07
	maxConfidence         = 0.95
	defaultedStanceWeight = 0.4
)

// BiasLabelToScore maps a bias label to its position on the 0..10 scale.
// Unknown labels return ok=false and are excluded from aggregation,
// never defaulted to center.
func BiasLabelToScore(label string) (float64, bool) {
	if label == LabelQuestionable {
		return QuestionableScore, true
	}
	for i, l := range KnownBiasLabels {
		if l == label {
			return (float64(i) + 0.5) * segmentWidth, true
		}
	}
	return 0, false
}

// ScoreToLabel maps a 0..10 score back to the bias category whose
// partition segment contains it.
func ScoreToLabel(score float64) string {
	s := clamp(score, 0, 10)
	idx := int(s / segmentWidth)
	if idx < 0 {
		idx = 0
	}
	if idx > 6 {
		idx = 6
	}
	return KnownBiasLabels[idx]
}

// RefineLean adjusts a base stance by how strongly commentary aligns
// with it. alignment=+1 preserves the base, -1 mirrors it across the
// neutral midpoint, 0 collapses to neutral.
func RefineLean(base, alignment float64) float64 {
	a := clamp(alignment, -1, 1)
	return clamp(NeutralLean+(base-NeutralLean)*a, 0, 10)
}

// AlignmentToScore maps a categorical alignment to its numeric default.
// Used only when the classifier omitted an explicit numeric score.
func AlignmentToScore(alignment string) float64 {
	switch alignment {
	case models.AlignmentAligns:
		return 1
	case models.AlignmentOpposes:
		return -1
	case models.AlignmentMixed:
		return 0.25
	default:
		return 0
	}
}

// Aggregate recomputes the weighted rollup from the full sample list.
// It is pure and replay safe: no running state survives between calls.
// A nil confidenceOverride uses the sample count heuristic.
func Aggregate(samples []models.DiscussionSample, confidenceOverride *float64) models.AggregateScore {
	var sumWeighted, sumWeight float64

	for _, s := range samples {
		if s.Stance == nil || s.RefinedLean == nil {
			continue
		}
		weight := s.Engagement * (1 + s.Stance.Confidence)
		if s.BaseDefaulted {
			weight *= defaultedStanceWeight
		}
		sumWeighted += *s.RefinedLean * weight
		sumWeight += weight
	}

	leanRaw := NeutralLean
	if sumWeight > 0 {
		leanRaw = sumWeighted / sumWeight
	}
	leanNormalized := clamp(leanRaw, 0, 10)

	confidence := emptyAggregateConf + confidencePerSample*float64(len(samples))
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	if confidenceOverride != nil {
		confidence = *confidenceOverride
	}

	return models.AggregateScore{
		LeanRaw:        leanRaw,
		LeanNormalized: leanNormalized,
		Label:          ScoreToLabel(leanNormalized),
		Confidence:     confidence,
	}
}

// ProvisionalScore computes an early estimate from the bias breakdown
// alone, before any discussion analysis. Returns nil when no linked
// source resolved to a known label.
func ProvisionalScore(breakdown map[string]int) *models.AggregateScore {
	var sumWeighted float64
	var sumCount int

	for label, count := range breakdown {
		val, ok := BiasLabelToScore(label)
		if !ok {
			continue
		}
		sumWeighted += val * float64(count)
		sumCount += count
	}

	if sumCount == 0 {
		return nil
	}

	score := sumWeighted / float64(sumCount)
	normalized := clamp(score, 0, 10)
	return &models.AggregateScore{
		LeanRaw:        score,
		LeanNormalized: normalized,
		Label:          ScoreToLabel(normalized),
		Confidence:     0.5,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
