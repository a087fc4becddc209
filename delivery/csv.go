package delivery

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CSVConnector appends one row per delivery to a CSV file, rotating the
// file when it exceeds maxBytes. Rotated files are renamed with a UTC
// timestamp suffix.
type CSVConnector struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
}

// NewCSVConnector creates a CSV connector appending to path.
// maxBytes <= 0 disables rotation.
func NewCSVConnector(path string, maxBytes int64) *CSVConnector {
	return &CSVConnector{path: path, maxBytes: maxBytes}
}

// Type returns "csv".
func (c *CSVConnector) Type() string { return "csv" }

// Deliver appends a (timestamp, subject_id, payload) row.
func (c *CSVConnector) Deliver(_ context.Context, subjectID string, data []byte, _ map[string]string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.rotateIfNeeded(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", c.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	row := []string{time.Now().UTC().Format(time.RFC3339), subjectID, string(data)}
	if err := w.Write(row); err != nil {
		return nil, fmt.Errorf("csv: append to %s: %w", c.path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv: flush %s: %w", c.path, err)
	}

	return &Result{ResponseData: c.path}, nil
}

// rotateIfNeeded renames the current file aside once it passes maxBytes.
// Caller holds mu.
func (c *CSVConnector) rotateIfNeeded() error {
	if c.maxBytes <= 0 {
		return nil
	}

	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("csv: stat %s: %w", c.path, err)
	}
	if info.Size() < c.maxBytes {
		return nil
	}

	ext := filepath.Ext(c.path)
	base := c.path[:len(c.path)-len(ext)]
	rotated := fmt.Sprintf("%s.%s%s", base, time.Now().UTC().Format("20060102T150405"), ext)
	if err := os.Rename(c.path, rotated); err != nil {
		return fmt.Errorf("csv: rotate %s: %w", c.path, err)
	}
	return nil
}
