package models

import "time"

// Alignment categories returned by stance classification
const (
	AlignmentAligns  = "aligns"
	AlignmentOpposes = "opposes"
	AlignmentMixed   = "mixed"
	AlignmentUnclear = "unclear"
)

// BiasRecord represents one row of the media source bias table.
// Records are immutable during analysis; many hostnames may resolve
// to the same record via suffix matching.
type BiasRecord struct {
	SourceName       string `json:"source_name,omitempty" db:"source_name"`
	SourceURL        string `json:"source_url" db:"source_url"`
	Bias             string `json:"bias,omitempty" db:"bias"`
	Credibility      string `json:"credibility,omitempty" db:"credibility"`
	FactualReporting string `json:"factual_reporting,omitempty" db:"factual_reporting"`
	MediaType        string `json:"media_type,omitempty" db:"media_type"`
	Country          string `json:"country,omitempty" db:"country"`
}

// Post represents single feed item fetched from Reddit
type Post struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Permalink   string `json:"permalink"`
	Author      string `json:"author"`
	Score       int    `json:"score"`
	NumComments int    `json:"num_comments"`
}

// Engagement is a proxy for discussion volume used to weight samples
func (p Post) Engagement() float64 {
	return float64(p.NumComments) + float64(p.Score)/100.0
}

// StanceAssessment is the normalized output of one stance classification.
// AlignmentScore and StanceScore are nil when the provider omitted them.
type StanceAssessment struct {
	Provider       string   `json:"provider"`
	Model          string   `json:"model"`
	Alignment      string   `json:"alignment"`
	AlignmentScore *float64 `json:"alignment_score,omitempty"`
	Confidence     float64  `json:"confidence"`
	StanceLabel    string   `json:"stance_label,omitempty"`
	StanceScore    *float64 `json:"stance_score,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
}

// DiscussionSample is one analyzed discussion thread
type DiscussionSample struct {
	Post           Post              `json:"post"`
	BiasLabel      string            `json:"bias,omitempty"`
	Stance         *StanceAssessment `json:"stance,omitempty"`
	Engagement     float64           `json:"engagement"`
	RefinedLean    *float64          `json:"refined_lean,omitempty"`
	RefinedLabel   string            `json:"refined_label,omitempty"`
	BaseDefaulted  bool              `json:"base_defaulted,omitempty"`
	SampleComments []string          `json:"sample_comments,omitempty"`
}

// AggregateScore is the rollup over all samples gathered so far
type AggregateScore struct {
	LeanRaw        float64 `json:"lean_raw"`
	LeanNormalized float64 `json:"lean_normalized"`
	Label          string  `json:"label"`
	Confidence     float64 `json:"confidence"`
}

// SeriesPoint is one historical analysis result for charting
type SeriesPoint struct {
	T          time.Time `json:"t"`
	BiasScore  *float64  `json:"biasScore"`
	Confidence *float64  `json:"confidence"`
}
