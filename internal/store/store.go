// Package store handles SQLite persistence of raw sessions, session profiles
// and the retrain counter.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/verte-zerg/keyprint/internal/features"
	"github.com/verte-zerg/keyprint/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for keystroke data.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps transactions and the retrain counter serialized.
	db.SetMaxOpenConns(1)
	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raw_sessions (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			press_times TEXT NOT NULL,
			release_times TEXT NOT NULL,
			backspace_count INTEGER,
			error_rate REAL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_profiles (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			press_press_interval_mean REAL NOT NULL,
			release_interval_mean REAL NOT NULL,
			hold_time_mean REAL NOT NULL,
			press_press_interval_variance REAL NOT NULL,
			release_interval_variance REAL NOT NULL,
			hold_time_variance REAL NOT NULL,
			backspace_count INTEGER NOT NULL,
			error_rate REAL NOT NULL,
			total_typing_time REAL NOT NULL,
			typing_speed_cps REAL NOT NULL,
			source TEXT NOT NULL,
			press_time_mean_norm REAL,
			release_time_mean_norm REAL,
			interval_time_mean_norm REAL,
			press_to_release_ratio REAL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS retrain_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			sessions_since_retrain INTEGER NOT NULL,
			last_trained_at TEXT,
			generation TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO retrain_state (id, sessions_since_retrain, last_trained_at, generation) VALUES (1, 0, NULL, '');`,
		`CREATE INDEX IF NOT EXISTS idx_raw_sessions_user ON raw_sessions(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_session_profiles_user ON session_profiles(user_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// InsertSession stores a captured raw session together with its live profile
// and bumps the retrain counter in the same transaction. It returns the raw
// session id and the counter after the increment.
func (s *Store) InsertSession(ctx context.Context, raw model.RawSession, profile model.SessionProfile) (id int64, sinceRetrain int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	created := raw.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	id, err = insertRaw(ctx, tx, model.StoredRawSession{
		UserID:         raw.UserID,
		PressTimes:     features.FormatTimestamps(raw.PressTimes),
		ReleaseTimes:   features.FormatTimestamps(raw.ReleaseTimes),
		BackspaceCount: raw.BackspaceCount,
		ErrorRate:      raw.ErrorRate,
		CreatedAt:      created,
	})
	if err != nil {
		return 0, 0, err
	}

	profile.UserID = raw.UserID
	profile.Source = model.SourceLive
	profile.Normalized = nil
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = created
	}
	if err = insertProfiles(ctx, tx, []model.SessionProfile{profile}); err != nil {
		return 0, 0, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE retrain_state SET sessions_since_retrain = sessions_since_retrain + 1 WHERE id = 1`); err != nil {
		return 0, 0, err
	}
	if err = tx.QueryRowContext(ctx, `SELECT sessions_since_retrain FROM retrain_state WHERE id = 1`).Scan(&sinceRetrain); err != nil {
		return 0, 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, 0, err
	}
	return id, sinceRetrain, nil
}

// ImportRawSessions stores raw sessions exactly as given, without deriving
// profiles. Used to load historical captures for batch preprocessing.
func (s *Store) ImportRawSessions(ctx context.Context, rows []model.StoredRawSession) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()
	for _, row := range rows {
		if row.CreatedAt.IsZero() {
			row.CreatedAt = s.now()
		}
		if _, err = insertRaw(ctx, tx, row); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRawSessions returns every stored raw session in insertion order with
// timestamps still in their stored text form.
func (s *Store) ListRawSessions(ctx context.Context) ([]model.StoredRawSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, press_times, release_times, backspace_count, error_rate, created_at
		FROM raw_sessions ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.StoredRawSession
	for rows.Next() {
		var (
			raw       model.StoredRawSession
			backspace sql.NullInt64
			errorRate sql.NullFloat64
			createdAt string
		)
		if err := rows.Scan(&raw.ID, &raw.UserID, &raw.PressTimes, &raw.ReleaseTimes, &backspace, &errorRate, &createdAt); err != nil {
			return nil, err
		}
		if backspace.Valid {
			v := int(backspace.Int64)
			raw.BackspaceCount = &v
		}
		if errorRate.Valid {
			v := errorRate.Float64
			raw.ErrorRate = &v
		}
		if raw.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, err
		}
		result = append(result, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AppendSessionProfiles adds profiles to the corpus.
func (s *Store) AppendSessionProfiles(ctx context.Context, profiles []model.SessionProfile) error {
	return s.writeProfiles(ctx, profiles, false)
}

// ReplaceSessionProfiles swaps the whole profile corpus for profiles in one
// transaction.
func (s *Store) ReplaceSessionProfiles(ctx context.Context, profiles []model.SessionProfile) error {
	return s.writeProfiles(ctx, profiles, true)
}

func (s *Store) writeProfiles(ctx context.Context, profiles []model.SessionProfile, replace bool) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()
	if replace {
		if _, err = tx.ExecContext(ctx, `DELETE FROM session_profiles`); err != nil {
			return err
		}
	}
	now := s.now()
	for i := range profiles {
		if profiles[i].CreatedAt.IsZero() {
			profiles[i].CreatedAt = now
		}
	}
	if err = insertProfiles(ctx, tx, profiles); err != nil {
		return err
	}
	return tx.Commit()
}

// ReadTrainingCorpus returns every profile as a feature row labelled with its
// user id, in insertion order.
func (s *Store) ReadTrainingCorpus(ctx context.Context) (model.TrainingCorpus, error) {
	profiles, err := s.ListProfiles(ctx, 0, 0)
	if err != nil {
		return model.TrainingCorpus{}, err
	}
	corpus := model.TrainingCorpus{
		Columns: append([]string(nil), model.FeatureColumns...),
		X:       make([][]float64, len(profiles)),
		Y:       make([]int64, len(profiles)),
	}
	for i, p := range profiles {
		corpus.X[i] = p.Vector()
		corpus.Y[i] = p.UserID
	}
	return corpus, nil
}

// CountProfiles returns the number of stored profiles for a user.
func (s *Store) CountProfiles(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_profiles WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

// RetrainState returns the stored retrain counter and last generation.
func (s *Store) RetrainState(ctx context.Context) (model.RetrainState, error) {
	var (
		state   model.RetrainState
		trained sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT sessions_since_retrain, last_trained_at, generation FROM retrain_state WHERE id = 1`).
		Scan(&state.SessionsSinceRetrain, &trained, &state.Generation)
	if err != nil {
		return model.RetrainState{}, err
	}
	if trained.Valid {
		parsed, err := time.Parse(time.RFC3339Nano, trained.String)
		if err != nil {
			return model.RetrainState{}, err
		}
		state.LastTrainedAt = &parsed
	}
	return state, nil
}

// MarkTrained records a completed training generation and resets the counter.
func (s *Store) MarkTrained(ctx context.Context, generation string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE retrain_state SET sessions_since_retrain = 0, last_trained_at = ?, generation = ? WHERE id = 1`,
		at.UTC().Format(time.RFC3339Nano), generation)
	return err
}

func insertRaw(ctx context.Context, tx *sql.Tx, raw model.StoredRawSession) (int64, error) {
	var backspace sql.NullInt64
	if raw.BackspaceCount != nil {
		backspace = sql.NullInt64{Int64: int64(*raw.BackspaceCount), Valid: true}
	}
	var errorRate sql.NullFloat64
	if raw.ErrorRate != nil {
		errorRate = sql.NullFloat64{Float64: *raw.ErrorRate, Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO raw_sessions (user_id, press_times, release_times, backspace_count, error_rate, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		raw.UserID,
		raw.PressTimes,
		raw.ReleaseTimes,
		backspace,
		errorRate,
		raw.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertProfiles(ctx context.Context, tx *sql.Tx, profiles []model.SessionProfile) error {
	if len(profiles) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_profiles (user_id, press_press_interval_mean, release_interval_mean, hold_time_mean,
			press_press_interval_variance, release_interval_variance, hold_time_variance, backspace_count, error_rate,
			total_typing_time, typing_speed_cps, source, press_time_mean_norm, release_time_mean_norm,
			interval_time_mean_norm, press_to_release_ratio, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for _, p := range profiles {
		var pressNorm, releaseNorm, intervalNorm, ratio sql.NullFloat64
		if n := p.Normalized; n != nil {
			pressNorm = sql.NullFloat64{Float64: n.PressMean, Valid: true}
			releaseNorm = sql.NullFloat64{Float64: n.ReleaseMean, Valid: true}
			intervalNorm = sql.NullFloat64{Float64: n.IntervalMean, Valid: true}
			if n.PressToReleaseRatio != nil {
				ratio = sql.NullFloat64{Float64: *n.PressToReleaseRatio, Valid: true}
			}
		}
		source := p.Source
		if source == "" {
			source = model.SourceLive
		}
		if _, err := stmt.ExecContext(ctx,
			p.UserID,
			p.PressPressIntervalMean,
			p.ReleaseIntervalMean,
			p.HoldTimeMean,
			p.PressPressIntervalVariance,
			p.ReleaseIntervalVariance,
			p.HoldTimeVariance,
			p.BackspaceCount,
			p.ErrorRate,
			p.TotalTypingTime,
			p.TypingSpeedCPS,
			source,
			pressNorm,
			releaseNorm,
			intervalNorm,
			ratio,
			p.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
	}
	return nil
}
