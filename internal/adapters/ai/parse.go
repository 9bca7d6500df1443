package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/selivandex/biaslens/pkg/models"
)

var codeBlockRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// parseAssessment parses a provider's raw output into a normalized
// StanceAssessment. Missing fields default to neutral/absent values;
// only structurally invalid JSON is an error.
func parseAssessment(content, provider, model string) (*models.StanceAssessment, error) {
	jsonStr := extractJSON(content)

	var response struct {
		Alignment      string   `json:"alignment"`
		AlignmentScore *float64 `json:"alignment_score"`
		Confidence     *float64 `json:"confidence"`
		StanceLabel    string   `json:"stance_label"`
		StanceScore    *float64 `json:"stance_score"`
		Reasoning      string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w (content: %s)", err, jsonStr)
	}

	assessment := &models.StanceAssessment{
		Provider:    provider,
		Model:       model,
		Alignment:   normalizeAlignment(response.Alignment),
		StanceLabel: response.StanceLabel,
		Reasoning:   response.Reasoning,
	}

	if response.AlignmentScore != nil {
		s := clampFloat(*response.AlignmentScore, -1, 1)
		assessment.AlignmentScore = &s
	}
	if response.Confidence != nil {
		assessment.Confidence = clampFloat(*response.Confidence, 0, 1)
	}
	if response.StanceScore != nil {
		s := clampFloat(*response.StanceScore, 0, 10)
		assessment.StanceScore = &s
	}

	return assessment, nil
}

func normalizeAlignment(alignment string) string {
	switch strings.ToLower(strings.TrimSpace(alignment)) {
	case models.AlignmentAligns:
		return models.AlignmentAligns
	case models.AlignmentOpposes:
		return models.AlignmentOpposes
	case models.AlignmentMixed:
		return models.AlignmentMixed
	default:
		return models.AlignmentUnclear
	}
}

// extractJSON strips markdown fences and surrounding prose from a
// model response
func extractJSON(text string) string {
	matches := codeBlockRe.FindStringSubmatch(text)
	if len(matches) > 1 {
		text = matches[1]
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return strings.TrimSpace(text[start : end+1])
	}

	return strings.TrimSpace(text)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
