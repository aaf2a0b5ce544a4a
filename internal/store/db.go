// Package store persists fuzzing run state: the SQLite index of runs,
// per-resolver stats, diff fingerprints, and corpus membership, plus the
// flat-file dump directory layout (diffs/<fingerprint>/,
// corpus/<resolver>/, coverage/<resolver>/baseline.bin,
// stats/<timestamp>.json) that keeps a run's output directory
// self-describing without the database.
//
// The SQLite half is golang-migrate + modernc.org/sqlite with WAL mode and
// bounded connection pooling; the tables hold fuzzing run/diff/corpus
// bookkeeping.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a SQLite database connection indexing one or more fuzzing runs.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open opens or creates a SQLite database at path, running migrations and
// leaving it ready to index runs.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{conn: conn}
	if err := db.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) runMigrations() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Health checks database connectivity, used by the status API's /healthz.
func (db *DB) Health() error {
	return db.conn.Ping()
}

// NewRun records the start of a fuzzing run and returns its row id.
func (db *DB) NewRun(seed int64, note string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(`INSERT INTO runs (seed, note) VALUES (?, ?)`, seed, note)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// UpsertResolverStats records one resolver's accumulated stats for a run.
func (db *DB) UpsertResolverStats(runID int64, resolverID string, casesRun, corpusAdds, crashes int, disabled bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`
		INSERT INTO resolver_stats (run_id, resolver_id, cases_run, corpus_adds, crashes, disabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(run_id, resolver_id) DO UPDATE SET
			cases_run = excluded.cases_run,
			corpus_adds = excluded.corpus_adds,
			crashes = excluded.crashes,
			disabled = excluded.disabled,
			updated_at = CURRENT_TIMESTAMP
	`, runID, resolverID, casesRun, corpusAdds, crashes, boolToInt(disabled))
	if err != nil {
		return fmt.Errorf("upsert resolver stats: %w", err)
	}
	return nil
}

// RecordDiff indexes a newly-discovered divergence fingerprint.
func (db *DB) RecordDiff(runID int64, fingerprint, resolverA, resolverB, caseUUID, categories string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`
		INSERT INTO diffs (fingerprint, run_id, resolver_a, resolver_b, case_uuid, categories)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, fingerprint, runID, resolverA, resolverB, caseUUID, categories)
	if err != nil {
		return fmt.Errorf("record diff: %w", err)
	}
	return nil
}

// RecordCorpusEntry indexes a case admitted to a resolver's corpus.
func (db *DB) RecordCorpusEntry(resolverID, caseUUID string, score, wireSize int, fromCacheCheck bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`
		INSERT INTO corpus_entries (resolver_id, case_uuid, score, wire_size, from_cache_check)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(resolver_id, case_uuid) DO UPDATE SET
			score = excluded.score,
			wire_size = excluded.wire_size
	`, resolverID, caseUUID, score, wireSize, boolToInt(fromCacheCheck))
	if err != nil {
		return fmt.Errorf("record corpus entry: %w", err)
	}
	return nil
}

// RecordBaseline records that resolverID's coverage baseline has been
// calibrated, for /stats and reconnect bookkeeping. Bitmap sizes are not
// stable across processes, so the coordinator re-fetches on reconnect, but
// the fact that calibration happened is still worth indexing.
func (db *DB) RecordBaseline(resolverID string, bitmapSize int) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`
		INSERT INTO coverage_baselines (resolver_id, bitmap_size, calibrated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(resolver_id) DO UPDATE SET
			bitmap_size = excluded.bitmap_size,
			calibrated_at = CURRENT_TIMESTAMP
	`, resolverID, bitmapSize)
	if err != nil {
		return fmt.Errorf("record baseline: %w", err)
	}
	return nil
}

// DiffCount returns how many distinct diff fingerprints a run has indexed.
func (db *DB) DiffCount(runID int64) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM diffs WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count diffs: %w", err)
	}
	return n, nil
}

// ResolverDiff looks up a previously indexed diff by fingerprint, for the
// /diffs/:fingerprint status API endpoint.
type ResolverDiff struct {
	Fingerprint string
	ResolverA   string
	ResolverB   string
	CaseUUID    string
	Categories  string
	DiscoveredAt time.Time
}

// GetDiff looks up one diff row by fingerprint.
func (db *DB) GetDiff(fingerprint string) (ResolverDiff, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var d ResolverDiff
	err := db.conn.QueryRow(`
		SELECT fingerprint, resolver_a, resolver_b, case_uuid, categories, discovered_at
		FROM diffs WHERE fingerprint = ?
	`, fingerprint).Scan(&d.Fingerprint, &d.ResolverA, &d.ResolverB, &d.CaseUUID, &d.Categories, &d.DiscoveredAt)
	if err == sql.ErrNoRows {
		return ResolverDiff{}, false, nil
	}
	if err != nil {
		return ResolverDiff{}, false, fmt.Errorf("get diff: %w", err)
	}
	return d, true, nil
}

// CorpusSize reports how many cases are currently indexed for resolverID,
// for the /corpus/:resolver status API endpoint.
func (db *DB) CorpusSize(resolverID string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM corpus_entries WHERE resolver_id = ?`, resolverID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count corpus: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
