package ai

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/selivandex/biaslens/internal/adapters/database"
	"github.com/selivandex/biaslens/pkg/models"
)

// Repository persists classification results in postgres
type Repository struct {
	db *database.DB
}

// NewRepository creates new classification result repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Get loads a prior result by content hash. Returns (nil, nil) when
// no result exists.
func (r *Repository) Get(ctx context.Context, hash string) (*models.StanceAssessment, error) {
	var row struct {
		Provider       string          `db:"provider"`
		Model          string          `db:"model"`
		Alignment      sql.NullString  `db:"alignment"`
		AlignmentScore sql.NullFloat64 `db:"alignment_score"`
		StanceLabel    sql.NullString  `db:"stance_label"`
		StanceScore    sql.NullFloat64 `db:"stance_score"`
		Confidence     sql.NullFloat64 `db:"confidence"`
		Meta           []byte          `db:"meta"`
	}

	err := r.db.DB().GetContext(ctx, &row, `
		SELECT provider, model, alignment, alignment_score,
		       stance_label, stance_score, confidence, meta
		FROM ai_results
		WHERE hash = $1
	`, hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ai result: %w", err)
	}

	assessment := &models.StanceAssessment{
		Provider:    row.Provider,
		Model:       row.Model,
		Alignment:   models.AlignmentUnclear,
		StanceLabel: row.StanceLabel.String,
	}
	if row.Alignment.Valid && row.Alignment.String != "" {
		assessment.Alignment = row.Alignment.String
	}
	if row.AlignmentScore.Valid {
		s := row.AlignmentScore.Float64
		assessment.AlignmentScore = &s
	}
	if row.StanceScore.Valid {
		s := row.StanceScore.Float64
		assessment.StanceScore = &s
	}
	if row.Confidence.Valid {
		assessment.Confidence = row.Confidence.Float64
	}
	if len(row.Meta) > 0 {
		var meta struct {
			Reasoning string `json:"reasoning"`
		}
		if err := json.Unmarshal(row.Meta, &meta); err == nil {
			assessment.Reasoning = meta.Reasoning
		}
	}

	return assessment, nil
}

// Save upserts a classification result keyed by content hash
func (r *Repository) Save(ctx context.Context, rec *ResultRecord) error {
	meta, err := json.Marshal(map[string]string{"reasoning": rec.Assessment.Reasoning})
	if err != nil {
		meta = []byte("{}")
	}

	_, err = r.db.DB().ExecContext(ctx, `
		INSERT INTO ai_results (
			hash, provider, model, prompt_key, prompt_version,
			alignment, alignment_score, stance_label, stance_score,
			confidence, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (hash) DO UPDATE SET
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			alignment = EXCLUDED.alignment,
			alignment_score = EXCLUDED.alignment_score,
			stance_label = EXCLUDED.stance_label,
			stance_score = EXCLUDED.stance_score,
			confidence = EXCLUDED.confidence,
			meta = EXCLUDED.meta
	`,
		rec.Hash,
		rec.Assessment.Provider,
		rec.Assessment.Model,
		rec.PromptKey,
		rec.PromptVersion,
		rec.Assessment.Alignment,
		nullableFloat(rec.Assessment.AlignmentScore),
		nullableString(rec.Assessment.StanceLabel),
		nullableFloat(rec.Assessment.StanceScore),
		rec.Assessment.Confidence,
		meta,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ai result: %w", err)
	}

	return nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
