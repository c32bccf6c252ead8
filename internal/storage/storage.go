// Package storage provides SQLite-backed persistence for the outlier model artifact and assessment history.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rewired-gh/pharmguard/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db             *sqlx.DB
	maxAssessments int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/pharmguard/data.db.
func New(dbPath string, maxAssessments int) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "pharmguard", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; model saves never interleave
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxAssessments: maxAssessments}
	if err := s.createTables(); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS models (
			name           TEXT PRIMARY KEY,
			payload        BLOB NOT NULL,
			training_days  INTEGER NOT NULL,
			trained_at     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS assessments (
			id               TEXT PRIMARY KEY,
			analysis_date    TEXT NOT NULL,
			branch_id        TEXT NOT NULL DEFAULT '',
			total_risk_score INTEGER NOT NULL,
			risk_level       TEXT NOT NULL,
			requires_alert   INTEGER NOT NULL,
			payload          TEXT NOT NULL,
			created_at       INTEGER NOT NULL,
			notified         INTEGER NOT NULL DEFAULT 0,
			UNIQUE (analysis_date, branch_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_score ON assessments(total_risk_score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_created_at ON assessments(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ModelInfo describes a stored model artifact without its payload.
type ModelInfo struct {
	Name         string    `db:"name"`
	TrainingDays int       `db:"training_days"`
	TrainedAt    time.Time `db:"-"`
	TrainedNano  int64     `db:"trained_at"`
}

// SaveModel stores payload under name, replacing any previous artifact.
func (s *Storage) SaveModel(name string, payload []byte, trainingDays int) error {
	if len(payload) == 0 {
		return errors.New("model payload is empty")
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO models (name, payload, training_days, trained_at)
		VALUES (?,?,?,?)`,
		name, payload, trainingDays, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return tx.Commit()
}

// LoadModel returns the stored payload for name, or nil if none exists.
func (s *Storage) LoadModel(name string) ([]byte, error) {
	var payload []byte
	err := s.db.Get(&payload, `SELECT payload FROM models WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return payload, nil
}

// GetModelInfo returns metadata for the named artifact, or nil if none exists.
func (s *Storage) GetModelInfo(name string) (*ModelInfo, error) {
	var info ModelInfo
	err := s.db.Get(&info, `SELECT name, training_days, trained_at FROM models WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model info: %w", err)
	}
	info.TrainedAt = time.Unix(0, info.TrainedNano)
	return &info, nil
}

// StoredAssessment is an assessment as recorded in history.
type StoredAssessment struct {
	ID         string
	CreatedAt  time.Time
	Notified   bool
	Assessment *models.Assessment
}

type assessmentRow struct {
	ID            string `db:"id"`
	AnalysisDate  string `db:"analysis_date"`
	BranchID      string `db:"branch_id"`
	Score         int    `db:"total_risk_score"`
	Level         string `db:"risk_level"`
	RequiresAlert int    `db:"requires_alert"`
	Payload       string `db:"payload"`
	CreatedAt     int64  `db:"created_at"`
	Notified      int    `db:"notified"`
}

const assessmentCols = `id, analysis_date, branch_id, total_risk_score, risk_level,
	requires_alert, payload, created_at, notified`

func (r assessmentRow) decode() (*StoredAssessment, error) {
	var a models.Assessment
	if err := json.Unmarshal([]byte(r.Payload), &a); err != nil {
		return nil, fmt.Errorf("failed to decode assessment %s: %w", r.ID, err)
	}
	return &StoredAssessment{
		ID:         r.ID,
		CreatedAt:  time.Unix(0, r.CreatedAt),
		Notified:   r.Notified != 0,
		Assessment: &a,
	}, nil
}

// SaveAssessment records a into history and returns its id. Re-assessing the same day and branch
// replaces the stored result but keeps its id and notified flag.
func (s *Storage) SaveAssessment(a *models.Assessment) (string, error) {
	if a == nil || a.Date.IsZero() {
		return "", fmt.Errorf("%w: assessment has no date", models.ErrInvalidInput)
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to encode assessment: %w", err)
	}

	row := assessmentRow{
		ID:            uuid.New().String(),
		AnalysisDate:  a.Date.Format(models.DateLayout),
		BranchID:      a.BranchID,
		Score:         a.TotalRiskScore,
		Level:         string(a.RiskLevel),
		RequiresAlert: boolToInt(a.RequiresAlert),
		Payload:       string(payload),
		CreatedAt:     time.Now().UnixNano(),
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.NamedExec(`
		INSERT INTO assessments
			(id, analysis_date, branch_id, total_risk_score, risk_level,
			 requires_alert, payload, created_at, notified)
		VALUES (:id, :analysis_date, :branch_id, :total_risk_score, :risk_level,
			:requires_alert, :payload, :created_at, 0)
		ON CONFLICT (analysis_date, branch_id) DO UPDATE SET
			total_risk_score = excluded.total_risk_score,
			risk_level       = excluded.risk_level,
			requires_alert   = excluded.requires_alert,
			payload          = excluded.payload,
			created_at       = excluded.created_at`, row); err != nil {
		return "", fmt.Errorf("failed to insert assessment: %w", err)
	}

	var id string
	if err := tx.Get(&id, `SELECT id FROM assessments WHERE analysis_date = ? AND branch_id = ?`,
		row.AnalysisDate, row.BranchID); err != nil {
		return "", fmt.Errorf("failed to read assessment id: %w", err)
	}

	if err := rotate(tx, s.maxAssessments); err != nil {
		return "", err
	}
	return id, tx.Commit()
}

// GetAssessment returns the stored assessment for a day and branch, or nil.
func (s *Storage) GetAssessment(date time.Time, branchID string) (*StoredAssessment, error) {
	var row assessmentRow
	err := s.db.Get(&row, `SELECT `+assessmentCols+` FROM assessments WHERE analysis_date = ? AND branch_id = ?`,
		models.Day(date).Format(models.DateLayout), branchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return row.decode()
}

// GetTopAssessments returns up to k assessments by score, highest first and oldest date first on ties.
func (s *Storage) GetTopAssessments(k int) ([]StoredAssessment, error) {
	var rows []assessmentRow
	err := s.db.Select(&rows, `SELECT `+assessmentCols+` FROM assessments
		ORDER BY total_risk_score DESC, analysis_date ASC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	out := make([]StoredAssessment, 0, len(rows))
	for _, r := range rows {
		sa, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, *sa)
	}
	return out, nil
}

// WasNotified reports whether an alert for this day and branch was already sent.
func (s *Storage) WasNotified(date time.Time, branchID string) (bool, error) {
	var notified int
	err := s.db.Get(&notified, `SELECT notified FROM assessments WHERE analysis_date = ? AND branch_id = ?`,
		models.Day(date).Format(models.DateLayout), branchID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read notified flag: %w", err)
	}
	return notified != 0, nil
}

// MarkNotified flags the assessment with the given id as sent.
func (s *Storage) MarkNotified(id string) error {
	res, err := s.db.Exec(`UPDATE assessments SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark assessment notified: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("assessment not found: %s", id)
	}
	return nil
}

// ClearAssessments removes all history.
func (s *Storage) ClearAssessments() error {
	if _, err := s.db.Exec(`DELETE FROM assessments`); err != nil {
		return fmt.Errorf("failed to clear assessments: %w", err)
	}
	return nil
}

// rotate keeps at most limit newest rows by created_at.
func rotate(db sqlx.Execer, limit int) error {
	if limit <= 0 {
		return nil
	}
	_, err := db.Exec(`
		DELETE FROM assessments WHERE id NOT IN (
			SELECT id FROM assessments ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, limit)
	if err != nil {
		return fmt.Errorf("failed to rotate assessments: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
