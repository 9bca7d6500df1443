package bias

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/selivandex/biaslens/internal/adapters/database"
	"github.com/selivandex/biaslens/pkg/logger"
	"github.com/selivandex/biaslens/pkg/models"
)

// Index resolves externally linked URLs to source bias records.
// Lookups are read-only; a backing store failure degrades to
// "no bias data" rather than failing the analysis run.
type Index struct {
	db *database.DB
}

// NewIndex creates new source bias index
func NewIndex(db *database.DB) *Index {
	return &Index{db: db}
}

// Lookup resolves each URL to a bias record when one exists. Keys of
// the returned map are the original URLs; unresolved URLs are absent.
func (i *Index) Lookup(ctx context.Context, urls []string) map[string]models.BiasRecord {
	result := make(map[string]models.BiasRecord)

	hostnames := make(map[string]string, len(urls)) // url -> hostname
	for _, u := range urls {
		if host, ok := Hostname(u); ok {
			hostnames[u] = host
		}
	}
	if len(hostnames) == 0 {
		return result
	}

	records, err := i.fetchCandidates(ctx, hostnames)
	if err != nil {
		logger.Warn("bias lookup failed, proceeding without bias data",
			zap.Int("urls", len(urls)),
			zap.Error(err),
		)
		return result
	}

	for u, host := range hostnames {
		if rec, ok := Match(host, records); ok {
			result[u] = rec
		}
	}

	return result
}

// fetchCandidates pulls every record that could match any of the
// hostnames: exact root-domain keys plus suffix matches.
func (i *Index) fetchCandidates(ctx context.Context, hostnames map[string]string) (map[string]models.BiasRecord, error) {
	query, args := candidateQuery(hostnames)

	var rows []models.BiasRecord
	if err := i.db.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	records := make(map[string]models.BiasRecord, len(rows))
	for _, r := range rows {
		records[r.SourceURL] = r
	}
	return records, nil
}

// candidateQuery builds one batched candidate query: per hostname, an
// exact root-domain clause plus a byte-wise suffix clause. The suffix
// comparison uses right()/length() rather than LIKE so that %/_ in
// stored source_url values stay literal.
func candidateQuery(hostnames map[string]string) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT source_name, source_url, COALESCE(bias, '') AS bias,
		       COALESCE(credibility, '') AS credibility,
		       COALESCE(factual_reporting, '') AS factual_reporting,
		       COALESCE(media_type, '') AS media_type,
		       COALESCE(country, '') AS country
		FROM mbfc_sources
		WHERE `)

	args := make([]interface{}, 0, len(hostnames)*2)
	first := true
	for _, host := range hostnames {
		if !first {
			sb.WriteString(" OR ")
		}
		first = false
		args = append(args, rootDomain(host), host)
		sb.WriteString("(source_url = $")
		sb.WriteString(strconv.Itoa(len(args) - 1))
		sb.WriteString(" OR right($")
		sb.WriteString(strconv.Itoa(len(args)))
		sb.WriteString(", length(source_url)) = source_url)")
	}

	return sb.String(), args
}

// Match resolves a hostname against stored domain keys. Tiers, first
// match wins: exact hostname, root domain (last two labels), then any
// stored key the hostname ends with. Source tables register canonical
// root domains while real links use arbitrary subdomains.
func Match(hostname string, records map[string]models.BiasRecord) (models.BiasRecord, bool) {
	if rec, ok := records[hostname]; ok {
		return rec, true
	}
	if rec, ok := records[rootDomain(hostname)]; ok {
		return rec, true
	}
	for key, rec := range records {
		if strings.HasSuffix(hostname, key) {
			return rec, true
		}
	}
	return models.BiasRecord{}, false
}

// Hostname normalizes a raw URL to its hostname with any leading
// "www." stripped. Returns false for unparseable URLs.
func Hostname(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return strings.TrimPrefix(u.Hostname(), "www."), true
}

func rootDomain(hostname string) string {
	parts := strings.Split(hostname, ".")
	if len(parts) <= 2 {
		return hostname
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

