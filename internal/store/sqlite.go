package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/tracehound/tracehound/internal/errkind"
	"github.com/tracehound/tracehound/internal/models"
)

// SQLite is the persistent signature store.
type SQLite struct {
	db     *sql.DB
	dbPath string

	schemaMu   sync.Mutex
	schemaDone bool
}

// NewSQLite opens (or creates) the signature database under dataDir.
func NewSQLite(dataDir string) (*SQLite, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "signatures.db")

	// Pragmas in the DSN so every pool connection is configured.
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open signature database: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, dbPath: dbPath}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("dbPath", dbPath).Msg("Signature store opened")
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ensureSchema creates tables and indexes. Idempotent and double-checked
// under a lock so concurrent first-use is safe.
func (s *SQLite) ensureSchema() error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaDone {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS signatures (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		stack_hash TEXT NOT NULL,
		error_type TEXT NOT NULL,
		service TEXT NOT NULL,
		message_template TEXT NOT NULL,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		occurrence_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		diagnosis TEXT,
		tags TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_signatures_fingerprint ON signatures(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_signatures_status ON signatures(status);
	CREATE INDEX IF NOT EXISTS idx_signatures_service ON signatures(service);
	CREATE INDEX IF NOT EXISTS idx_signatures_last_seen ON signatures(last_seen DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.schemaDone = true
	return nil
}

const signatureColumns = `id, fingerprint, stack_hash, error_type, service, message_template,
	first_seen, last_seen, occurrence_count, status, diagnosis, tags`

// GetByID returns the signature with the given id.
func (s *SQLite) GetByID(ctx context.Context, id string) (*models.Signature, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+signatureColumns+` FROM signatures WHERE id = ?`, id)
	sig, err := scanSignature(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errkind.NotFound("store.get_by_id", id)
	}
	if err != nil {
		return nil, errkind.Transport("store.get_by_id", err)
	}
	return sig, nil
}

// GetByFingerprint returns the signature with the given fingerprint.
func (s *SQLite) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Signature, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+signatureColumns+` FROM signatures WHERE fingerprint = ?`, fingerprint)
	sig, err := scanSignature(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errkind.NotFound("store.get_by_fingerprint", fingerprint)
	}
	if err != nil {
		return nil, errkind.Transport("store.get_by_fingerprint", err)
	}
	return sig, nil
}

// Save upserts the signature keyed on fingerprint.
func (s *SQLite) Save(ctx context.Context, sig *models.Signature) error {
	if err := sig.Validate(); err != nil {
		return errkind.Validation("store.save", err)
	}

	var diagJSON any
	if sig.Diagnosis != nil {
		raw, err := json.Marshal(sig.Diagnosis)
		if err != nil {
			return errkind.Validation("store.save", err)
		}
		diagJSON = string(raw)
	}
	var tagsJSON any
	if len(sig.Tags) > 0 {
		raw, err := json.Marshal(sig.Tags)
		if err != nil {
			return errkind.Validation("store.save", err)
		}
		tagsJSON = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signatures (`+signatureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			stack_hash = excluded.stack_hash,
			error_type = excluded.error_type,
			service = excluded.service,
			message_template = excluded.message_template,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			occurrence_count = excluded.occurrence_count,
			status = excluded.status,
			diagnosis = excluded.diagnosis,
			tags = excluded.tags`,
		sig.ID, sig.Fingerprint, sig.StackHash, sig.ErrorType, sig.Service, sig.MessageTemplate,
		sig.FirstSeen.UTC().Format(time.RFC3339Nano), sig.LastSeen.UTC().Format(time.RFC3339Nano),
		sig.OccurrenceCount, string(sig.Status), diagJSON, tagsJSON)
	if err != nil {
		return errkind.Transport("store.save", err)
	}
	return nil
}

// Update has the same upsert semantics as Save.
func (s *SQLite) Update(ctx context.Context, sig *models.Signature) error {
	return s.Save(ctx, sig)
}

// GetPendingInvestigation returns all NEW signatures ordered by last_seen
// desc, then occurrence_count desc.
func (s *SQLite) GetPendingInvestigation(ctx context.Context) ([]*models.Signature, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+signatureColumns+` FROM signatures
		 WHERE status = ?
		 ORDER BY last_seen DESC, occurrence_count DESC`, string(models.StatusNew))
	if err != nil {
		return nil, errkind.Transport("store.get_pending", err)
	}
	defer rows.Close()
	return scanSignatures(rows, "store.get_pending")
}

// GetSimilar returns signatures sharing service and error type, excluding
// sig itself.
func (s *SQLite) GetSimilar(ctx context.Context, sig *models.Signature, limit int) ([]*models.Signature, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+signatureColumns+` FROM signatures
		 WHERE service = ? AND error_type = ? AND id != ?
		 ORDER BY last_seen DESC LIMIT ?`,
		sig.Service, sig.ErrorType, sig.ID, limit)
	if err != nil {
		return nil, errkind.Transport("store.get_similar", err)
	}
	defer rows.Close()
	return scanSignatures(rows, "store.get_similar")
}

// List returns signatures, optionally filtered by status.
func (s *SQLite) List(ctx context.Context, status models.Status) ([]*models.Signature, error) {
	query := `SELECT ` + signatureColumns + ` FROM signatures ORDER BY last_seen DESC`
	args := []any{}
	if status != "" {
		query = `SELECT ` + signatureColumns + ` FROM signatures WHERE status = ? ORDER BY last_seen DESC`
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errkind.Transport("store.list", err)
	}
	defer rows.Close()
	return scanSignatures(rows, "store.list")
}

// GetStats returns a rollup of the stored signatures.
func (s *SQLite) GetStats(ctx context.Context) (*models.StoreStats, error) {
	stats := &models.StoreStats{
		ByStatus:  make(map[models.Status]int),
		ByService: make(map[string]int),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(occurrence_count), 0),
		       COALESCE(AVG(occurrence_count), 0), COALESCE(MIN(first_seen), '')
		FROM signatures`)
	var oldestRaw string
	if err := row.Scan(&stats.TotalSignatures, &stats.TotalErrorsSeen, &stats.AvgOccurrenceCount, &oldestRaw); err != nil {
		return nil, errkind.Transport("store.get_stats", err)
	}
	if oldestRaw != "" {
		if oldest, err := time.Parse(time.RFC3339Nano, oldestRaw); err == nil {
			stats.OldestSignatureAgeHours = time.Since(oldest).Hours()
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM signatures GROUP BY status`)
	if err != nil {
		return nil, errkind.Transport("store.get_stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errkind.Transport("store.get_stats", err)
		}
		stats.ByStatus[models.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Transport("store.get_stats", err)
	}

	svcRows, err := s.db.QueryContext(ctx, `SELECT service, COUNT(*) FROM signatures GROUP BY service`)
	if err != nil {
		return nil, errkind.Transport("store.get_stats", err)
	}
	defer svcRows.Close()
	for svcRows.Next() {
		var service string
		var count int
		if err := svcRows.Scan(&service, &count); err != nil {
			return nil, errkind.Transport("store.get_stats", err)
		}
		stats.ByService[service] = count
	}
	if err := svcRows.Err(); err != nil {
		return nil, errkind.Transport("store.get_stats", err)
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignature(row rowScanner) (*models.Signature, error) {
	var sig models.Signature
	var firstSeen, lastSeen, status string
	var diagJSON, tagsJSON sql.NullString

	err := row.Scan(&sig.ID, &sig.Fingerprint, &sig.StackHash, &sig.ErrorType, &sig.Service,
		&sig.MessageTemplate, &firstSeen, &lastSeen, &sig.OccurrenceCount, &status,
		&diagJSON, &tagsJSON)
	if err != nil {
		return nil, err
	}

	if sig.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return nil, fmt.Errorf("corrupt first_seen %q: %w", firstSeen, err)
	}
	if sig.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return nil, fmt.Errorf("corrupt last_seen %q: %w", lastSeen, err)
	}
	sig.Status = models.Status(status)

	if diagJSON.Valid && diagJSON.String != "" {
		var diag models.Diagnosis
		if err := json.Unmarshal([]byte(diagJSON.String), &diag); err != nil {
			return nil, fmt.Errorf("corrupt diagnosis for %s: %w", sig.ID, err)
		}
		sig.Diagnosis = &diag
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &sig.Tags); err != nil {
			return nil, fmt.Errorf("corrupt tags for %s: %w", sig.ID, err)
		}
	}
	return &sig, nil
}

func scanSignatures(rows *sql.Rows, op string) ([]*models.Signature, error) {
	var out []*models.Signature
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, errkind.Transport(op, err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Transport(op, err)
	}
	return out, nil
}
