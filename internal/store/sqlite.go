package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amishk599/careerscan/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS prompts (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	criteria TEXT NOT NULL,
	active   INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS sites (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	url       TEXT NOT NULL,
	selector  TEXT NOT NULL,
	prompt_id TEXT NOT NULL,
	active    INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS scrape_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	total        INTEGER NOT NULL DEFAULT 0,
	successful   INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	new_postings INTEGER NOT NULL DEFAULT 0,
	comment      TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	completed_at TEXT
);
CREATE TABLE IF NOT EXISTS scrape_tasks (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES scrape_runs(id),
	site_id      TEXT NOT NULL,
	result       TEXT NOT NULL,
	new_postings INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	UNIQUE (run_id, site_id)
);
CREATE TABLE IF NOT EXISTS job_postings (
	id                   TEXT PRIMARY KEY,
	site_id              TEXT NOT NULL,
	run_id               TEXT NOT NULL,
	title                TEXT NOT NULL,
	url                  TEXT NOT NULL,
	location             TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	recommendation       TEXT NOT NULL DEFAULT '',
	recommended          INTEGER NOT NULL DEFAULT 0,
	posted_date          TEXT,
	status               TEXT NOT NULL,
	duplicate_status     TEXT NOT NULL,
	duplication_identity TEXT NOT NULL,
	created_at           TEXT NOT NULL,
	seq                  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_postings_identity ON job_postings (duplication_identity);
CREATE TABLE IF NOT EXISTS change_records (
	site_id           TEXT NOT NULL,
	content_hash      TEXT NOT NULL,
	prompt_hash       TEXT NOT NULL,
	instructions_hash TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	PRIMARY KEY (site_id, content_hash, prompt_hash, instructions_hash)
);
CREATE TABLE IF NOT EXISTS api_usage (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL,
	site_id           TEXT NOT NULL,
	model             TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens      INTEGER NOT NULL,
	prompt            TEXT NOT NULL,
	scraped_content   TEXT NOT NULL,
	output            TEXT NOT NULL,
	created_at        TEXT NOT NULL
);
`

// SQLiteStore persists sites, prompts, runs, tasks, postings, change records
// and the usage log in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ model.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures the
// schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One writer at a time; the orchestrator and readers share this handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SyncCatalog upserts the given prompts and sites. Existing rows are
// overwritten; rows not mentioned are left untouched.
func (s *SQLiteStore) SyncCatalog(ctx context.Context, prompts []model.Prompt, sites []model.Site) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog sync: %w", err)
	}
	defer tx.Rollback()

	for _, p := range prompts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO prompts (id, name, criteria, active) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, criteria = excluded.criteria, active = excluded.active`,
			p.ID, p.Name, p.Criteria, boolInt(p.Active))
		if err != nil {
			return fmt.Errorf("upserting prompt %s: %w", p.ID, err)
		}
	}
	for _, site := range sites {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sites (id, name, url, selector, prompt_id, active) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, url = excluded.url, selector = excluded.selector,
				prompt_id = excluded.prompt_id, active = excluded.active`,
			site.ID, site.Name, site.URL, site.Selector, site.PromptID, boolInt(site.Active))
		if err != nil {
			return fmt.Errorf("upserting site %s: %w", site.ID, err)
		}
	}
	return tx.Commit()
}

// Sites returns every site, active or not, ordered by name.
func (s *SQLiteStore) Sites(ctx context.Context) ([]model.Site, error) {
	return s.querySites(ctx, `SELECT id, name, url, selector, prompt_id, active FROM sites ORDER BY name, id`)
}

// ActiveSites returns active sites, restricted to ids when non-empty.
func (s *SQLiteStore) ActiveSites(ctx context.Context, ids []string) ([]model.Site, error) {
	query := `SELECT id, name, url, selector, prompt_id, active FROM sites WHERE active = 1`
	args := make([]any, 0, len(ids))
	if len(ids) > 0 {
		query += ` AND id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY name, id`
	return s.querySites(ctx, query, args...)
}

func (s *SQLiteStore) querySites(ctx context.Context, query string, args ...any) ([]model.Site, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sites: %w", err)
	}
	defer rows.Close()

	var sites []model.Site
	for rows.Next() {
		var site model.Site
		var active int
		if err := rows.Scan(&site.ID, &site.Name, &site.URL, &site.Selector, &site.PromptID, &active); err != nil {
			return nil, fmt.Errorf("scanning site: %w", err)
		}
		site.Active = active == 1
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// Prompt returns the prompt with the given id or model.ErrNotFound.
func (s *SQLiteStore) Prompt(ctx context.Context, id string) (model.Prompt, error) {
	var p model.Prompt
	var active int
	err := s.db.QueryRowContext(ctx, `SELECT id, name, criteria, active FROM prompts WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Criteria, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Prompt{}, fmt.Errorf("prompt %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Prompt{}, fmt.Errorf("loading prompt %s: %w", id, err)
	}
	p.Active = active == 1
	return p, nil
}

// DuplicationIdentities returns every identity token across all stored postings.
func (s *SQLiteStore) DuplicationIdentities(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT duplication_identity FROM job_postings`)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// HasChangeRecord returns true if the exact (site, content, prompt, instructions) key exists.
func (s *SQLiteStore) HasChangeRecord(ctx context.Context, rec model.ChangeRecord) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM change_records WHERE site_id = ? AND content_hash = ? AND prompt_hash = ? AND instructions_hash = ?`,
		rec.SiteID, rec.ContentHash, rec.PromptHash, rec.InstructionsHash).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking change record for %s: %w", rec.SiteID, err)
	}
	return true, nil
}

// CreateChangeRecord stores rec. Re-recording an existing key is a no-op.
func (s *SQLiteStore) CreateChangeRecord(ctx context.Context, rec model.ChangeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO change_records (site_id, content_hash, prompt_hash, instructions_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.SiteID, rec.ContentHash, rec.PromptHash, rec.InstructionsHash, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating change record for %s: %w", rec.SiteID, err)
	}
	return nil
}

// CreateRun inserts a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run model.ScrapeRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, status, total, successful, failed, new_postings, comment, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Total, run.Successful, run.Failed, run.NewPostings, run.Comment,
		formatTime(run.StartedAt), nullableTime(run.CompletedAt))
	if err != nil {
		return fmt.Errorf("creating run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRun overwrites a run's status, counters and completion time.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run model.ScrapeRun) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_runs SET status = ?, total = ?, successful = ?, failed = ?, new_postings = ?, completed_at = ?
		WHERE id = ?`,
		string(run.Status), run.Total, run.Successful, run.Failed, run.NewPostings, nullableTime(run.CompletedAt), run.ID)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating run %s: %w", run.ID, model.ErrNotFound)
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// Run loads a run by id or returns model.ErrNotFound.
func (s *SQLiteStore) Run(ctx context.Context, id string) (model.ScrapeRun, error) {
	var run model.ScrapeRun
	var status, started string
	var completed sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, total, successful, failed, new_postings, comment, started_at, completed_at
		FROM scrape_runs WHERE id = ?`, id).
		Scan(&run.ID, &status, &run.Total, &run.Successful, &run.Failed, &run.NewPostings, &run.Comment, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScrapeRun{}, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.ScrapeRun{}, fmt.Errorf("loading run %s: %w", id, err)
	}
	run.Status = model.RunStatus(status)
	run.StartedAt = parseTime(started)
	if completed.Valid {
		t := parseTime(completed.String)
		run.CompletedAt = &t
	}
	return run, nil
}

// CreateTask inserts a task. A second task for the same (run, site) fails.
func (s *SQLiteStore) CreateTask(ctx context.Context, task model.ScrapeTask) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_tasks (id, run_id, site_id, result, new_postings, error, started_at, completed_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COUNT(*) FROM scrape_tasks WHERE run_id = ?))`,
		task.ID, task.RunID, task.SiteID, string(task.Result), task.NewPostings, task.Error,
		formatTime(task.StartedAt), formatTime(task.CompletedAt), task.RunID)
	if err != nil {
		return fmt.Errorf("creating task for site %s in run %s: %w", task.SiteID, task.RunID, err)
	}
	return nil
}

// Tasks returns a run's tasks in the order they were recorded.
func (s *SQLiteStore) Tasks(ctx context.Context, runID string) ([]model.ScrapeTask, error) {
	return s.queryTasks(ctx, `SELECT id, run_id, site_id, result, new_postings, error, started_at, completed_at
		FROM scrape_tasks WHERE run_id = ? ORDER BY seq`, runID)
}

// ErrorTasks returns a run's tasks whose result is error.
func (s *SQLiteStore) ErrorTasks(ctx context.Context, runID string) ([]model.ScrapeTask, error) {
	return s.queryTasks(ctx, `SELECT id, run_id, site_id, result, new_postings, error, started_at, completed_at
		FROM scrape_tasks WHERE run_id = ? AND result = 'error' ORDER BY seq`, runID)
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]model.ScrapeTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.ScrapeTask
	for rows.Next() {
		var t model.ScrapeTask
		var result, started, completed string
		if err := rows.Scan(&t.ID, &t.RunID, &t.SiteID, &result, &t.NewPostings, &t.Error, &started, &completed); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		t.Result = model.TaskResult(result)
		t.StartedAt = parseTime(started)
		t.CompletedAt = parseTime(completed)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CreatePostings inserts postings atomically.
func (s *SQLiteStore) CreatePostings(ctx context.Context, postings []model.JobPosting) error {
	if len(postings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin postings insert: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_postings`).Scan(&seq); err != nil {
		return fmt.Errorf("counting postings: %w", err)
	}

	for _, p := range postings {
		var posted any
		if p.PostedDate != nil {
			posted = *p.PostedDate
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO job_postings (id, site_id, run_id, title, url, location, description, recommendation,
				recommended, posted_date, status, duplicate_status, duplication_identity, created_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.SiteID, p.RunID, p.Title, p.URL, p.Location, p.Description, p.Recommendation,
			boolInt(p.Recommended), posted, string(p.Status), string(p.DuplicateStatus), p.DuplicationIdentity,
			formatTime(p.CreatedAt), seq)
		if err != nil {
			return fmt.Errorf("inserting posting %q: %w", p.Title, err)
		}
		seq++
	}
	return tx.Commit()
}

// Postings returns the postings created by a run in insertion order.
func (s *SQLiteStore) Postings(ctx context.Context, runID string) ([]model.JobPosting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, site_id, run_id, title, url, location, description, recommendation, recommended,
			posted_date, status, duplicate_status, duplication_identity, created_at
		FROM job_postings WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying postings: %w", err)
	}
	defer rows.Close()

	var out []model.JobPosting
	for rows.Next() {
		var p model.JobPosting
		var recommended int
		var posted sql.NullString
		var status, dup, created string
		if err := rows.Scan(&p.ID, &p.SiteID, &p.RunID, &p.Title, &p.URL, &p.Location, &p.Description,
			&p.Recommendation, &recommended, &posted, &status, &dup, &p.DuplicationIdentity, &created); err != nil {
			return nil, fmt.Errorf("scanning posting: %w", err)
		}
		p.Recommended = recommended == 1
		if posted.Valid {
			v := posted.String
			p.PostedDate = &v
		}
		p.Status = model.JobStatus(status)
		p.DuplicateStatus = model.DuplicateStatus(dup)
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateUsage appends an API usage audit entry.
func (s *SQLiteStore) CreateUsage(ctx context.Context, u model.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_usage (id, run_id, site_id, model, prompt_tokens, completion_tokens, total_tokens,
			prompt, scraped_content, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.RunID, u.SiteID, u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens,
		u.Prompt, u.ScrapedContent, u.Output, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating usage record for site %s: %w", u.SiteID, err)
	}
	return nil
}
