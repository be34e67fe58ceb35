package article

import (
	"strings"
	"unicode/utf8"

	"link_grader/internal/models"
)

const unknown = "unknown"

// Format renders a scraped record as the text block handed to the judge.
// Content beyond maxChars runes is cut.
func Format(rec models.ArticleRecord, maxChars int) string {
	var sb strings.Builder

	sb.WriteString("URL: " + rec.URL + "\n")

	if rec.Failed() {
		sb.WriteString("Content: unavailable (" + rec.Error + ")\n")
		return sb.String()
	}

	sb.WriteString("Title: " + orUnknown(rec.Title) + "\n")
	if len(rec.Authors) > 0 {
		sb.WriteString("Authors: " + strings.Join(rec.Authors, ", ") + "\n")
	} else {
		sb.WriteString("Authors: " + unknown + "\n")
	}
	sb.WriteString("Publish date: " + orUnknown(rec.PublishDate) + "\n")
	sb.WriteString("Update date: " + orUnknown(rec.UpdateDate) + "\n")
	sb.WriteString("Content:\n" + truncateRunes(rec.Content, maxChars) + "\n")

	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + " [truncated]"
}
