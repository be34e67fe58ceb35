package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"link_grader/internal/models"

	"github.com/mattn/go-runewidth"
)

const maxCellWidth = 60

// MarkdownSummary renders an aligned markdown table of judged links.
type MarkdownSummary struct {
	path   string
	out    io.Writer
	logger *slog.Logger
}

// NewMarkdownSummary writes to path when set, and always to out when it is
// not nil.
func NewMarkdownSummary(path string, out io.Writer, logger *slog.Logger) *MarkdownSummary {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkdownSummary{path: path, out: out, logger: logger}
}

func (s *MarkdownSummary) Name() string {
	return "summary"
}

func (s *MarkdownSummary) Write(ctx context.Context, runID string, rows []models.ResultRow) error {
	table := Summary(rows)

	if s.out != nil {
		if _, err := io.WriteString(s.out, table); err != nil {
			return fmt.Errorf("failed to print summary: %w", err)
		}
	}

	if s.path == "" {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create summary directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, []byte(table), 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	s.logger.Info("Summary saved", "path", s.path, "rows", len(rows))
	return nil
}

func Summary(rows []models.ResultRow) string {
	table := [][]string{{"Person", "Blog", "Link", "Overall"}}
	for _, row := range rows {
		overall := strconv.FormatFloat(row.OverallScore, 'f', 1, 64)
		if row.JudgeError != "" {
			overall = "error"
		}
		table = append(table, []string{
			cell(row.Person),
			cell(row.BlogTitle),
			cell(row.LinkURL),
			overall,
		})
	}

	widths := make([]int, len(table[0]))
	for _, r := range table {
		for i, c := range r {
			widths[i] = max(widths[i], runewidth.StringWidth(c), 3)
		}
	}

	var sb strings.Builder
	for i, r := range table {
		writeRow(&sb, r, widths)
		if i == 0 {
			sep := make([]string, len(widths))
			for j, w := range widths {
				sep[j] = strings.Repeat("-", w)
			}
			writeRow(&sb, sep, widths)
		}
	}
	return sb.String()
}

func writeRow(sb *strings.Builder, row []string, widths []int) {
	sb.WriteString("|")
	for i, c := range row {
		sb.WriteString(" ")
		sb.WriteString(runewidth.FillRight(c, widths[i]))
		sb.WriteString(" |")
	}
	sb.WriteString("\n")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, maxCellWidth, "...")
}
