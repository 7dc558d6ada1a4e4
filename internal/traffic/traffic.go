// Package traffic loads the historical request sample that simulations run
// against. Sources are chosen by a location string:
//
//	sample_data/traffic.jsonl        JSON lines file
//	s3://bucket/path/traffic.jsonl   JSON lines object in S3-compatible storage
//	duckdb:logs/traffic.parquet      any file DuckDB can scan (parquet, csv, json)
package traffic

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"changeguard/internal/domain"
)

const duckdbPrefix = "duckdb:"

// S3Options configures access to S3-compatible storage.
type S3Options struct {
	Region    string
	Endpoint  string
	KeyID     string
	Secret    string
	PathStyle bool
}

// New returns the source for location. An empty location yields nil, and
// the runner uses its built-in sample.
func New(location string, s3opts S3Options) (domain.TrafficSource, error) {
	location = strings.TrimSpace(location)
	switch {
	case location == "":
		return nil, nil
	case strings.HasPrefix(location, "s3://"):
		return NewS3Source(location, s3opts)
	case strings.HasPrefix(location, duckdbPrefix):
		path := strings.TrimPrefix(location, duckdbPrefix)
		if path == "" {
			return nil, domain.ErrValidation("duckdb traffic source requires a file path")
		}
		return NewDuckDBSource(path), nil
	default:
		return NewFileSource(location), nil
	}
}

// maxLineBytes bounds a single JSON line.
const maxLineBytes = 1 << 20

// decodeJSONLines reads one record per non-blank line.
func decodeJSONLines(r io.Reader) ([]domain.TrafficRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var records []domain.TrafficRecord
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec domain.TrafficRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("traffic line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read traffic sample: %w", err)
	}
	return records, nil
}
