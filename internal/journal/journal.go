// Package journal keeps a bounded SQLite history of fetch outcomes for
// offline analysis. Rows hold metadata only: hashed URLs, never content.
package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/valpere/FetchPilot/internal/utils"
)

// pruneEvery controls how often the row cap is enforced.
const pruneEvery = 500

// Entry is one recorded fetch outcome.
type Entry struct {
	Domain     string
	URLHash    string
	Tier       string
	Success    bool
	FellBack   bool
	Cached     bool
	DurationMs int64
	Attempts   int
	ErrorKind  string
	FetchedAt  time.Time
}

// Summary aggregates a domain's journal rows.
type Summary struct {
	Domain    string  `json:"domain"`
	Total     int64   `json:"total"`
	Successes int64   `json:"successes"`
	AvgMs     float64 `json:"avg_ms"`
}

// Journal is the SQLite-backed outcome log.
type Journal struct {
	db      *sql.DB
	maxRows int

	mu      sync.Mutex
	inserts int
}

const schema = `
CREATE TABLE IF NOT EXISTS fetch_outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	fetched_at  INTEGER NOT NULL,
	url_hash    TEXT NOT NULL,
	domain      TEXT NOT NULL,
	tier        TEXT NOT NULL,
	success     INTEGER NOT NULL,
	fell_back   INTEGER NOT NULL,
	cached      INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	attempts    INTEGER NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_outcomes_domain ON fetch_outcomes(domain);
CREATE INDEX IF NOT EXISTS idx_outcomes_fetched_at ON fetch_outcomes(fetched_at);
`

// Open opens or creates the journal database.
func Open(path string, maxRows int) (*Journal, error) {
	if maxRows <= 0 {
		maxRows = 100000
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrCodeDatabaseError, "failed to open journal")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, utils.WrapError(err, utils.ErrCodeDatabaseError, "failed to migrate journal")
	}
	return &Journal{db: db, maxRows: maxRows}, nil
}

// HashURL derives the stored URL key.
func HashURL(rawURL string) string {
	return utils.ContentHash([]byte(rawURL))
}

// Record inserts one outcome row and occasionally enforces the row cap.
func (j *Journal) Record(entry Entry) error {
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now()
	}

	_, err := j.db.Exec(`
		INSERT INTO fetch_outcomes
		(fetched_at, url_hash, domain, tier, success, fell_back, cached, duration_ms, attempts, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.FetchedAt.Unix(), entry.URLHash, entry.Domain, entry.Tier,
		boolInt(entry.Success), boolInt(entry.FellBack), boolInt(entry.Cached),
		entry.DurationMs, entry.Attempts, entry.ErrorKind)
	if err != nil {
		return utils.WrapError(err, utils.ErrCodeDatabaseError, "failed to record outcome")
	}

	j.mu.Lock()
	j.inserts++
	shouldPrune := j.inserts%pruneEvery == 0
	j.mu.Unlock()
	if shouldPrune {
		return j.prune()
	}
	return nil
}

// prune drops the oldest rows beyond the cap.
func (j *Journal) prune() error {
	_, err := j.db.Exec(`
		DELETE FROM fetch_outcomes WHERE id <= (
			SELECT id FROM fetch_outcomes ORDER BY id DESC LIMIT 1 OFFSET ?
		)`, j.maxRows)
	if err != nil {
		return utils.WrapError(err, utils.ErrCodeDatabaseError, "failed to prune journal")
	}
	return nil
}

// DomainSummary aggregates one domain's history.
func (j *Journal) DomainSummary(domain string) (Summary, error) {
	row := j.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(duration_ms), 0)
		FROM fetch_outcomes WHERE domain = ?`, domain)

	s := Summary{Domain: domain}
	if err := row.Scan(&s.Total, &s.Successes, &s.AvgMs); err != nil {
		return s, utils.WrapError(err, utils.ErrCodeDatabaseError, "failed to summarise domain")
	}
	return s, nil
}

// Count returns the number of stored rows.
func (j *Journal) Count() (int64, error) {
	var n int64
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM fetch_outcomes`).Scan(&n); err != nil {
		return 0, utils.WrapError(err, utils.ErrCodeDatabaseError, "failed to count journal rows")
	}
	return n, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
