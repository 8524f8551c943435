package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"visionpharma/internal/config"
	"visionpharma/internal/logger"
	"visionpharma/internal/model"
)

// URLPrefix is the path under which stored result images are served.
const URLPrefix = "results"

// Encoder turns frames into JPEG bytes.
type Encoder interface {
	EncodeJPEG(f model.Frame) ([]byte, error)
}

// ResultStore writes inspection step images to disk and periodically prunes
// the directory.
type ResultStore struct {
	dir       string
	retention time.Duration
	maxSize   int64
	interval  time.Duration

	encoder Encoder
	logger  *logger.Logger
	now     func() time.Time
}

// NewResultStore creates a ResultStore rooted at the configured results
// directory.
func NewResultStore(cfg *config.Config, encoder Encoder, logger *logger.Logger) *ResultStore {
	return &ResultStore{
		dir:       cfg.ResultsDirectory,
		retention: cfg.ResultRetention,
		maxSize:   cfg.MaxResultsDirSize,
		interval:  cfg.CleanupInterval,
		encoder:   encoder,
		logger:    logger.Named("storage"),
		now:       time.Now,
	}
}

// Dir returns the results directory.
func (s *ResultStore) Dir() string {
	return s.dir
}

// FileName returns the on-disk name of a step image.
func FileName(step string, stamp int64) string {
	return fmt.Sprintf("%s_%d.jpg", step, stamp)
}

// Save encodes f as JPEG and writes it as <step>_<stamp>.jpg. It returns the
// URL path relative to the server root.
func (s *ResultStore) Save(step string, stamp int64, f model.Frame) (string, error) {
	data, err := s.encoder.EncodeJPEG(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s image: %w", step, err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	name := FileName(step, stamp)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to save image %s: %w", name, err)
	}

	return URLPrefix + "/" + name, nil
}

// Path resolves a file name inside the results directory. Names that would
// escape it are rejected.
func (s *ResultStore) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid result file name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Clear deletes every stored result image and returns how many were removed.
func (s *ResultStore) Clear() (int, error) {
	files, err := s.list()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			s.logger.Error("Error deleting file %s: %v", f.path, err)
			continue
		}
		removed++
	}
	s.logger.Info("All results cleared from directory: %s", s.dir)
	return removed, nil
}

// Size returns the total size of stored results in bytes.
func (s *ResultStore) Size() (int64, error) {
	files, err := s.list()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total, nil
}

// Run starts a ticker loop that prunes old results until ctx is cancelled.
func (s *ResultStore) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(); err != nil {
				s.logger.Error("Result cleanup failed: %v", err)
			}
		}
	}
}

type resultFile struct {
	path    string
	size    int64
	modTime time.Time
}

func (s *ResultStore) list() ([]resultFile, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	files := make([]resultFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".jpg") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, resultFile{
			path:    filepath.Join(s.dir, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

// Cleanup removes results older than the retention period, then the oldest
// results until the directory fits the size limit. It returns the number of
// files removed.
func (s *ResultStore) Cleanup() (int, error) {
	files, err := s.list()
	if err != nil {
		return 0, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	var total int64
	for _, f := range files {
		total += f.size
	}

	removed := 0
	cutoff := s.now().Add(-s.retention)
	for _, f := range files {
		expired := s.retention > 0 && f.modTime.Before(cutoff)
		oversize := s.maxSize > 0 && total > s.maxSize
		if !expired && !oversize {
			break
		}
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			s.logger.Error("Error deleting file %s: %v", f.path, err)
			continue
		}
		total -= f.size
		removed++
	}

	if removed > 0 {
		s.logger.Info("Removed %d result image(s), %d bytes remain", removed, total)
	}
	return removed, nil
}
