package traffic

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"changeguard/internal/domain"
)

var _ domain.TrafficSource = (*FileSource)(nil)

// FileSource reads a JSON lines file from local disk on every Load.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load reads the file. A missing file is reported as unavailable.
func (s *FileSource) Load(_ context.Context) ([]domain.TrafficRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("traffic file %s: %w", s.path, domain.ErrTrafficUnavailable)
		}
		return nil, fmt.Errorf("open traffic file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	return decodeJSONLines(f)
}
