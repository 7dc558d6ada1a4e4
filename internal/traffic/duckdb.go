package traffic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"changeguard/internal/domain"
)

var _ domain.TrafficSource = (*DuckDBSource)(nil)

// DuckDBSource scans a local file with an in-memory DuckDB, so exported
// access logs can be used as-is in parquet, CSV or JSON form.
type DuckDBSource struct {
	path string
}

// NewDuckDBSource creates a DuckDBSource for path.
func NewDuckDBSource(path string) *DuckDBSource {
	return &DuckDBSource{path: path}
}

// Load runs one query over the file. A missing file is reported as
// unavailable.
func (s *DuckDBSource) Load(ctx context.Context) ([]domain.TrafficRecord, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("traffic file %s: %w", s.path, domain.ErrTrafficUnavailable)
		}
		return nil, fmt.Errorf("stat traffic file: %w", err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close() //nolint:errcheck

	rows, err := db.QueryContext(ctx, scanQuery(s.path))
	if err != nil {
		return nil, fmt.Errorf("scan traffic file: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var records []domain.TrafficRecord
	for rows.Next() {
		var (
			rec      domain.TrafficRecord
			endpoint sql.NullString
			latency  sql.NullInt64
		)
		if err := rows.Scan(&endpoint, &rec.Status, &latency); err != nil {
			return nil, fmt.Errorf("scan traffic row: %w", err)
		}
		rec.Endpoint = endpoint.String
		rec.LatencyMS = int(latency.Int64)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traffic rows: %w", err)
	}
	return records, nil
}

// scanQuery selects the three sample columns using the table function that
// matches the file extension.
func scanQuery(path string) string {
	fn := "read_json_auto"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		fn = "read_parquet"
	case ".csv", ".tsv":
		fn = "read_csv_auto"
	}
	return fmt.Sprintf(
		`SELECT CAST(endpoint AS VARCHAR), CAST(status AS INTEGER), CAST(latency_ms AS BIGINT) FROM %s(%s)`,
		fn, quoteLiteral(path))
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
