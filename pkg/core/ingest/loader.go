package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"dcf_valuation/pkg/core/assumption"

	"go.uber.org/zap"
)

// SyntheticFileName is where generated series are written under the data dir.
const SyntheticFileName = "synthetic_revenue.csv"

// Loader resolves revenue data relative to a data directory.
type Loader struct {
	dataDir string
	log     *zap.Logger
}

// NewLoader creates a loader rooted at dataDir. A nil logger is replaced by a no-op.
func NewLoader(dataDir string, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{dataDir: dataDir, log: log.Named("ingest")}
}

// DataDir is the directory relative paths are resolved against.
func (l *Loader) DataDir() string { return l.dataDir }

// Resolve returns path unchanged when absolute, else joined onto the data dir.
func (l *Loader) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.dataDir, path)
}

// Load reads a revenue CSV, resolving relative paths under the data dir.
func (l *Loader) Load(path string) (*Series, error) {
	full := l.Resolve(path)
	s, err := LoadCSV(full)
	if err != nil {
		return nil, err
	}
	l.log.Info("loaded revenue history", zap.String("path", full), zap.Int("rows", s.Len()))
	return s, nil
}

// Synthesize generates a seeded series and writes it to the data dir.
func (l *Loader) Synthesize(a assumption.Assumptions, periods int, seed int64) (*Series, string, error) {
	s, err := GenerateSynthetic(a, periods, seed)
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(l.dataDir, 0755); err != nil {
		return nil, "", fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(l.dataDir, SyntheticFileName)
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("create synthetic CSV: %w", err)
	}
	defer f.Close()
	if err := WriteCSV(f, s); err != nil {
		return nil, "", fmt.Errorf("write synthetic CSV: %w", err)
	}
	l.log.Info("generated synthetic revenue", zap.String("path", path), zap.Int("periods", periods), zap.Int64("seed", seed))
	return s, path, nil
}
