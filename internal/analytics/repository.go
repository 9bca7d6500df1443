package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/selivandex/biaslens/internal/adapters/database"
	"github.com/selivandex/biaslens/pkg/models"
)

const (
	platform     = "reddit"
	maxLimit     = 1000
	defaultLimit = 200
)

// GroupBy selects series granularity
const (
	GroupNone = "none"
	GroupDay  = "day"
)

// Repository reads and writes historical analysis results
type Repository struct {
	db *database.DB
}

// NewRepository creates new analytics repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// SaveAnalysis stores one completed run's scalar score for charting.
// Scores are rounded to the column precision before insert.
func (r *Repository) SaveAnalysis(ctx context.Context, community string, score models.AggregateScore, breakdown map[string]int) error {
	signalBreakdown, err := json.Marshal(breakdown)
	if err != nil {
		signalBreakdown = []byte("{}")
	}

	biasScore := decimal.NewFromFloat(score.LeanNormalized).Round(1)
	confidence := decimal.NewFromFloat(score.Confidence).Round(2)

	_, err = r.db.DB().ExecContext(ctx, `
		INSERT INTO analysis_results (
			community_name, platform, bias_score, confidence,
			analysis_date, signal_breakdown
		) VALUES ($1, $2, $3, $4, $5, $6)
	`,
		community,
		platform,
		biasScore,
		confidence,
		time.Now().UTC(),
		signalBreakdown,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis result: %w", err)
	}

	return nil
}

// Series returns historical (timestamp, biasScore, confidence) tuples
// for a community. groupBy "day" averages per UTC day; "none" returns
// raw rows ordered by time.
func (r *Repository) Series(ctx context.Context, community string, since *time.Time, limit int, groupBy string) ([]models.SeriesPoint, error) {
	base := strings.TrimPrefix(community, "r/")
	names := []string{base, "r/" + base}

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var (
		query string
		args  []interface{}
	)

	where := "community_name = ANY($1) AND platform = $2"
	args = append(args, pq.Array(names), platform)
	if since != nil {
		where += " AND analysis_date >= $3"
		args = append(args, *since)
	}

	switch groupBy {
	case GroupDay:
		query = fmt.Sprintf(`
			SELECT date_trunc('day', analysis_date AT TIME ZONE 'UTC') AS t,
			       AVG(bias_score) AS bias_score,
			       AVG(confidence) AS confidence
			FROM analysis_results
			WHERE %s
			GROUP BY 1
			ORDER BY 1
			LIMIT %d
		`, where, limit)
	default:
		query = fmt.Sprintf(`
			SELECT analysis_date AS t, bias_score, confidence
			FROM analysis_results
			WHERE %s
			ORDER BY analysis_date
			LIMIT %d
		`, where, limit)
	}

	rows, err := r.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	points := make([]models.SeriesPoint, 0)
	for rows.Next() {
		var (
			t          time.Time
			biasScore  decimal.NullDecimal
			confidence decimal.NullDecimal
		)
		if err := rows.Scan(&t, &biasScore, &confidence); err != nil {
			return nil, fmt.Errorf("failed to scan series row: %w", err)
		}
		points = append(points, models.SeriesPoint{
			T:          t.UTC(),
			BiasScore:  nullDecimalFloat(biasScore),
			Confidence: nullDecimalFloat(confidence),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read series rows: %w", err)
	}

	return points, nil
}

func nullDecimalFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f, _ := d.Decimal.Float64()
	return &f
}
