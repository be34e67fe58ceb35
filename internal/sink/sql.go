package sink

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"link_grader/internal/config"
	"link_grader/internal/models"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// SQLStore keeps every run's rows in link_scores with one link_metrics row
// per metric.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

func OpenSQLStore(ctx context.Context, cfg config.SQLConfig, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Driver != "sqlite" && cfg.Driver != "postgres" {
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidSQLDriver, cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	s := &SQLStore{db: db, driver: cfg.Driver, logger: logger}
	version, err := s.migrate()
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQL store ready", "driver", cfg.Driver, "schema_version", version)
	return s, nil
}

func (s *SQLStore) migrate() (uint, error) {
	var driver database.Driver
	var err error
	switch s.driver {
	case "sqlite":
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{})
	case "postgres":
		driver, err = postgres.WithInstance(s.db, &postgres.Config{})
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create %s migration driver: %w", s.driver, err)
	}

	source, err := iofs.New(migrationFS, "migrations/"+s.driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, s.driver, driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) Name() string {
	return "sql"
}

func (s *SQLStore) Write(ctx context.Context, runID string, rows []models.ResultRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertScore := s.rebind(`INSERT INTO link_scores (run_id, person, blog_title, link_url, overall_score, judge_error)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
	insertMetric := s.rebind(`INSERT INTO link_metrics (score_id, metric, score, justification) VALUES (?, ?, ?, ?)`)

	for _, row := range rows {
		var id int64
		err := tx.QueryRowContext(ctx, insertScore,
			runID, row.Person, row.BlogTitle, row.LinkURL, row.OverallScore, row.JudgeError,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert score for %s: %w", row.LinkURL, err)
		}

		for _, m := range row.Metrics {
			if _, err := tx.ExecContext(ctx, insertMetric, id, m.Name, m.Score, m.Justification); err != nil {
				return fmt.Errorf("failed to insert metric %s for %s: %w", m.Name, row.LinkURL, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}

	s.logger.Info("Results stored", "run_id", runID, "rows", len(rows))
	return nil
}

// Rows loads a stored run back in insertion order.
func (s *SQLStore) Rows(ctx context.Context, runID string) ([]models.ResultRow, error) {
	rs, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT ls.id, ls.person, ls.blog_title, ls.link_url, ls.overall_score, ls.judge_error,
		       lm.metric, lm.score, lm.justification
		FROM link_scores ls
		LEFT JOIN link_metrics lm ON lm.score_id = ls.id
		WHERE ls.run_id = ?
		ORDER BY ls.id`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rs.Close()

	var rows []models.ResultRow
	index := map[int64]int{}
	for rs.Next() {
		var (
			id           int64
			row          models.ResultRow
			metric, just sql.NullString
			score        sql.NullInt64
		)
		if err := rs.Scan(&id, &row.Person, &row.BlogTitle, &row.LinkURL, &row.OverallScore, &row.JudgeError,
			&metric, &score, &just); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		i, ok := index[id]
		if !ok {
			rows = append(rows, row)
			i = len(rows) - 1
			index[id] = i
		}
		if metric.Valid {
			rows[i].Metrics = append(rows[i].Metrics, models.MetricCell{
				Name:          metric.String,
				Score:         int(score.Int64),
				Justification: just.String,
			})
		}
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}

	for i := range rows {
		sortCells(rows[i].Metrics)
	}
	return rows, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func sortCells(cells []models.MetricCell) {
	rank := make(map[string]int, len(models.RubricMetrics))
	for i, name := range models.RubricMetrics {
		rank[name] = i
	}
	key := func(c models.MetricCell) int {
		if r, ok := rank[c.Name]; ok {
			return r
		}
		return len(rank)
	}

	sort.SliceStable(cells, func(i, j int) bool {
		ki, kj := key(cells[i]), key(cells[j])
		if ki != kj {
			return ki < kj
		}
		return cells[i].Name < cells[j].Name
	})
}
