package flatten

import (
	"sort"
	"strconv"

	"link_grader/internal/models"
)

const (
	ColumnPerson       = "person"
	ColumnBlogTitle    = "blog_title"
	ColumnLinkURL      = "link_url"
	ColumnOverallScore = "overall_score"
	ColumnJudgeError   = "judge_error"
)

// Flatten emits one row per judged link, persons first, then blogs, then
// links, in the order they appear in results.
func Flatten(results models.Results) []models.ResultRow {
	rows := make([]models.ResultRow, 0, results.LinkCount())

	for _, person := range results {
		for _, blog := range person.Blogs {
			for _, link := range blog.Links {
				rows = append(rows, models.ResultRow{
					Person:       person.Person,
					BlogTitle:    blog.Title,
					LinkURL:      link.LinkURL,
					OverallScore: link.OverallScore,
					Metrics:      metricCells(link.Metrics),
					JudgeError:   link.Failure,
				})
			}
		}
	}

	return rows
}

// metricCells orders rubric metrics canonically and any other keys after them.
func metricCells(metrics map[string]models.MetricScore) []models.MetricCell {
	cells := make([]models.MetricCell, 0, len(metrics))
	seen := make(map[string]bool, len(metrics))

	for _, name := range models.RubricMetrics {
		if m, ok := metrics[name]; ok {
			cells = append(cells, models.MetricCell{Name: name, Score: m.Score, Justification: m.Justification})
			seen[name] = true
		}
	}

	var extra []string
	for name := range metrics {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		m := metrics[name]
		cells = append(cells, models.MetricCell{Name: name, Score: m.Score, Justification: m.Justification})
	}

	return cells
}

func ScoreColumn(metric string) string {
	return metric + "_score"
}

func JustificationColumn(metric string) string {
	return metric + "_justification"
}

// Columns lists the columns a single row carries.
func Columns(row models.ResultRow) []string {
	cols := []string{ColumnPerson, ColumnBlogTitle, ColumnLinkURL, ColumnOverallScore}
	for _, c := range row.Metrics {
		cols = append(cols, ScoreColumn(c.Name), JustificationColumn(c.Name))
	}
	if row.JudgeError != "" {
		cols = append(cols, ColumnJudgeError)
	}
	return cols
}

// Header is the union of all row columns in first-seen order.
func Header(rows []models.ResultRow) []string {
	header := []string{ColumnPerson, ColumnBlogTitle, ColumnLinkURL, ColumnOverallScore}
	seen := map[string]bool{}
	for _, h := range header {
		seen[h] = true
	}

	for _, row := range rows {
		for _, col := range Columns(row) {
			if !seen[col] {
				seen[col] = true
				header = append(header, col)
			}
		}
	}
	return header
}

// Record maps a row's present columns to their rendered values.
func Record(row models.ResultRow) map[string]string {
	rec := map[string]string{
		ColumnPerson:       row.Person,
		ColumnBlogTitle:    row.BlogTitle,
		ColumnLinkURL:      row.LinkURL,
		ColumnOverallScore: strconv.FormatFloat(row.OverallScore, 'f', -1, 64),
	}
	for _, c := range row.Metrics {
		rec[ScoreColumn(c.Name)] = strconv.Itoa(c.Score)
		rec[JustificationColumn(c.Name)] = c.Justification
	}
	if row.JudgeError != "" {
		rec[ColumnJudgeError] = row.JudgeError
	}
	return rec
}

// Values renders a row against header; absent columns become empty cells.
func Values(row models.ResultRow, header []string) []string {
	rec := Record(row)
	out := make([]string, len(header))
	for i, col := range header {
		out[i] = rec[col]
	}
	return out
}
