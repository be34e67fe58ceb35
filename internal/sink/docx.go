package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"link_grader/internal/models"

	"github.com/gingfrederik/docx"
)

// DocxReport writes a readable per person, per blog report of the run.
type DocxReport struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

func NewDocxReport(path string, logger *slog.Logger) *DocxReport {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocxReport{path: path, logger: logger, now: time.Now}
}

func (r *DocxReport) Name() string {
	return "docx"
}

func (r *DocxReport) Write(ctx context.Context, runID string, rows []models.ResultRow) error {
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating report dir: %w", err)
		}
	}

	f := docx.NewFile()

	f.AddParagraph().AddText("Outbound Link Quality Report").Size(20)
	f.AddParagraph().AddText(fmt.Sprintf("Run: %s", runID))
	f.AddParagraph().AddText(fmt.Sprintf("Generated: %s", r.now().Format("2006-01-02 15:04")))
	f.AddParagraph().AddText(fmt.Sprintf("Links judged: %d", len(rows)))
	f.AddParagraph()

	lastPerson, lastBlog := "", ""
	for i, row := range rows {
		newPerson := i == 0 || row.Person != lastPerson
		if newPerson {
			f.AddParagraph().AddText(row.Person).Size(16)
		}
		if newPerson || row.BlogTitle != lastBlog {
			f.AddParagraph().AddText(row.BlogTitle).Size(13)
		}
		lastPerson, lastBlog = row.Person, row.BlogTitle

		f.AddParagraph().AddText(fmt.Sprintf("%s  (overall %.1f)", row.LinkURL, row.OverallScore))
		if row.JudgeError != "" {
			f.AddParagraph().AddText("Not judged: " + row.JudgeError).Color("C00000")
			continue
		}
		for _, m := range row.Metrics {
			f.AddParagraph().AddText(fmt.Sprintf("- %s: %d. %s", m.Name, m.Score, m.Justification))
		}
		f.AddParagraph()
	}

	if err := f.Save(r.path); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}

	r.logger.Info("Report saved", "path", r.path, "rows", len(rows))
	return nil
}
