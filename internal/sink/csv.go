package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"link_grader/internal/flatten"
	"link_grader/internal/models"
)

type CSVWriter struct {
	path     string
	uploader Uploader
	logger   *slog.Logger
}

// NewCSVWriter writes to a local path, or to S3 when path is s3://bucket/key.
func NewCSVWriter(path string, uploader Uploader, logger *slog.Logger) *CSVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{path: path, uploader: uploader, logger: logger}
}

func (w *CSVWriter) Name() string {
	return "csv"
}

func (w *CSVWriter) Write(ctx context.Context, runID string, rows []models.ResultRow) error {
	data, err := EncodeCSV(rows)
	if err != nil {
		return err
	}

	if strings.HasPrefix(w.path, "s3://") {
		bucket, key, ok := ParseS3Path(w.path)
		if !ok {
			return fmt.Errorf("invalid s3 path %q", w.path)
		}
		if w.uploader == nil {
			return fmt.Errorf("no S3 uploader configured for %s", w.path)
		}
		if err := w.uploader.Upload(ctx, bucket, key, data, "text/csv"); err != nil {
			return err
		}
		w.logger.Info("Results uploaded", "path", w.path, "rows", len(rows))
		return nil
	}

	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}

	w.logger.Info("Results saved", "path", w.path, "rows", len(rows))
	return nil
}

// EncodeCSV renders rows under the union header of all rows.
func EncodeCSV(rows []models.ResultRow) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	header := flatten.Header(rows)
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(flatten.Values(row, header)); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
