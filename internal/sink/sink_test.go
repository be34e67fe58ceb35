package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"link_grader/internal/config"
	"link_grader/internal/models"
)

func testRows() []models.ResultRow {
	return []models.ResultRow{
		{
			Person:       "alice",
			BlogTitle:    "Blog A",
			LinkURL:      "https://example.com/u1",
			OverallScore: 8,
			Metrics: []models.MetricCell{
				{Name: models.MetricSourceCredibility, Score: 8, Justification: "ok"},
				{Name: models.MetricLinkNecessity, Score: 6, Justification: "helpful, not critical"},
			},
		},
		{
			Person:     "bob",
			BlogTitle:  "Blog B",
			LinkURL:    "https://example.com/u2",
			JudgeError: "judge call failed: timeout",
		},
	}
}

func TestCSVWriterLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "results.csv")
	w := NewCSVWriter(path, nil, nil)

	if err := w.Write(context.Background(), "run-1", testRows()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Expected file to exist: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d", len(records))
	}

	header := strings.Join(records[0], ",")
	want := "person,blog_title,link_url,overall_score,source_credibility_score,source_credibility_justification,link_necessity_score,link_necessity_justification,judge_error"
	if header != want {
		t.Errorf("Expected header %q, got %q", want, header)
	}
	if records[1][0] != "alice" || records[1][3] != "8" || records[1][7] != "helpful, not critical" {
		t.Errorf("Unexpected first row %v", records[1])
	}
	if records[2][4] != "" || records[2][8] != "judge call failed: timeout" {
		t.Errorf("Expected empty metric cells and judge error, got %v", records[2])
	}
}

type fakeUploader struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (u *fakeUploader) Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	u.bucket, u.key, u.body, u.contentType = bucket, key, body, contentType
	return u.err
}

func TestCSVWriterS3(t *testing.T) {
	up := &fakeUploader{}
	w := NewCSVWriter("s3://grades/runs/latest.csv", up, nil)

	if err := w.Write(context.Background(), "run-1", testRows()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if up.bucket != "grades" || up.key != "runs/latest.csv" || up.contentType != "text/csv" {
		t.Errorf("Unexpected upload target %+v", up)
	}
	if !bytes.HasPrefix(up.body, []byte("person,blog_title")) {
		t.Errorf("Expected csv body, got %q", up.body)
	}

	up.err = errors.New("denied")
	if err := w.Write(context.Background(), "run-1", testRows()); err == nil {
		t.Error("Expected upload error to propagate")
	}

	if err := NewCSVWriter("s3://grades/x.csv", nil, nil).Write(context.Background(), "r", nil); err == nil {
		t.Error("Expected error without uploader")
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		ok          bool
	}{
		{"s3://b/k.csv", "b", "k.csv", true},
		{"s3://b/deep/k.csv", "b", "deep/k.csv", true},
		{"s3://b", "", "", false},
		{"results/out.csv", "", "", false},
	}
	for _, tt := range tests {
		b, k, ok := ParseS3Path(tt.in)
		if b != tt.bucket || k != tt.key || ok != tt.ok {
			t.Errorf("ParseS3Path(%q): expected %q %q %v, got %q %q %v", tt.in, tt.bucket, tt.key, tt.ok, b, k, ok)
		}
	}
}

func TestEncodeCSVEmpty(t *testing.T) {
	data, err := EncodeCSV(nil)
	if err != nil {
		t.Fatalf("EncodeCSV failed: %v", err)
	}
	if string(data) != "person,blog_title,link_url,overall_score\n" {
		t.Errorf("Expected header only, got %q", data)
	}
}

func TestSQLStoreSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.SQLConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "grades.db")}

	store, err := OpenSQLStore(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("OpenSQLStore failed: %v", err)
	}

	rows := testRows()
	if err := store.Write(ctx, "run-1", rows); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Write(ctx, "run-2", rows[:1]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := store.Rows(ctx, "run-1")
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 rows for run-1, got %d", len(got))
	}
	if got[0].Person != "alice" || len(got[0].Metrics) != 2 || got[0].Metrics[1].Name != models.MetricLinkNecessity {
		t.Errorf("Unexpected first row %+v", got[0])
	}
	if got[1].JudgeError == "" || len(got[1].Metrics) != 0 {
		t.Errorf("Unexpected failed row %+v", got[1])
	}
	store.Close()

	// reopening runs the migrations again without error
	reopened, err := OpenSQLStore(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	again, err := reopened.Rows(ctx, "run-2")
	if err != nil || len(again) != 1 {
		t.Errorf("Expected 1 row for run-2, got %d (%v)", len(again), err)
	}
}

func TestOpenSQLStoreRejectsDriver(t *testing.T) {
	_, err := OpenSQLStore(context.Background(), config.SQLConfig{Driver: "mysql"}, nil)
	if !errors.Is(err, config.ErrInvalidSQLDriver) {
		t.Errorf("Expected ErrInvalidSQLDriver, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	s := &SQLStore{driver: "postgres"}
	if got := s.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("Unexpected rebind %q", got)
	}
	s.driver = "sqlite"
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Errorf("Expected sqlite query unchanged, got %q", got)
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "summary.md")

	if err := NewMarkdownSummary(path, &buf, nil).Write(context.Background(), "run-1", testRows()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "| ---") {
		t.Errorf("Expected separator row, got %q", lines[1])
	}
	for _, l := range lines[1:] {
		if len([]rune(l)) != len([]rune(lines[0])) {
			t.Errorf("Expected aligned rows, got %q vs %q", l, lines[0])
		}
	}
	if !strings.Contains(lines[2], "8.0") || !strings.Contains(lines[3], "error") {
		t.Errorf("Unexpected scores in %q", buf.String())
	}

	saved, err := os.ReadFile(path)
	if err != nil || string(saved) != buf.String() {
		t.Errorf("Expected summary file to match printed output, err=%v", err)
	}
}

func TestSummaryWideRunes(t *testing.T) {
	out := Summary([]models.ResultRow{{Person: "日本語", BlogTitle: "b", LinkURL: "u", OverallScore: 5}})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if !strings.Contains(lines[2], "| 日本語 |") {
		t.Errorf("Expected wide name to fill the column, got %q", lines[2])
	}
}

func TestDocxReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "report.docx")
	if err := NewDocxReport(path, nil).Write(context.Background(), "run-1", testRows()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected report file: %v", err)
	}
	if info.Size() == 0 {
		t.Error("Expected non-empty report")
	}
}
