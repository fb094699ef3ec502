package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/verte-zerg/keyprint/internal/model"
)

// ListProfiles returns stored profiles in insertion order. userID 0 selects
// every user; last > 0 keeps only the most recent rows.
func (s *Store) ListProfiles(ctx context.Context, userID int64, last int) ([]model.SessionProfile, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if userID != 0 {
		clauses = append(clauses, "user_id = ?")
		args = append(args, userID)
	}
	query := fmt.Sprintf(`SELECT id, user_id, press_press_interval_mean, release_interval_mean, hold_time_mean,
			press_press_interval_variance, release_interval_variance, hold_time_variance, backspace_count, error_rate,
			total_typing_time, typing_speed_cps, source, press_time_mean_norm, release_time_mean_norm,
			interval_time_mean_norm, press_to_release_ratio, created_at
		FROM session_profiles
		WHERE %s`, strings.Join(clauses, " AND "))
	if last > 0 {
		query += " ORDER BY id DESC LIMIT ?"
		args = append(args, last)
	} else {
		query += " ORDER BY id ASC"
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var profiles []model.SessionProfile
	for rows.Next() {
		var (
			p                                       model.SessionProfile
			pressNorm, releaseNorm, intervalNorm, r sql.NullFloat64
			createdAt                               string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.PressPressIntervalMean, &p.ReleaseIntervalMean, &p.HoldTimeMean,
			&p.PressPressIntervalVariance, &p.ReleaseIntervalVariance, &p.HoldTimeVariance, &p.BackspaceCount,
			&p.ErrorRate, &p.TotalTypingTime, &p.TypingSpeedCPS, &p.Source, &pressNorm, &releaseNorm,
			&intervalNorm, &r, &createdAt); err != nil {
			return nil, err
		}
		if pressNorm.Valid {
			p.Normalized = &model.NormalizedSummary{
				PressMean:    pressNorm.Float64,
				ReleaseMean:  releaseNorm.Float64,
				IntervalMean: intervalNorm.Float64,
			}
			if r.Valid {
				ratio := r.Float64
				p.Normalized.PressToReleaseRatio = &ratio
			}
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if last > 0 {
		for i, j := 0, len(profiles)-1; i < j; i, j = i+1, j-1 {
			profiles[i], profiles[j] = profiles[j], profiles[i]
		}
	}
	return profiles, nil
}

// ListUserAggregates returns per-user profile counts and feature means.
func (s *Store) ListUserAggregates(ctx context.Context) ([]model.UserAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, COUNT(*), AVG(typing_speed_cps), AVG(hold_time_mean),
			AVG(press_press_interval_mean)
		FROM session_profiles
		GROUP BY user_id
		ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.UserAggregate
	for rows.Next() {
		var agg model.UserAggregate
		if err := rows.Scan(&agg.UserID, &agg.Profiles, &agg.TypingSpeedCPSMean, &agg.HoldTimeMean, &agg.PressPressIntervalMean); err != nil {
			return nil, err
		}
		result = append(result, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Overview returns corpus totals and the retrain state.
func (s *Store) Overview(ctx context.Context) (model.CorpusOverview, error) {
	var o model.CorpusOverview
	err := s.db.QueryRowContext(ctx, `SELECT
			(SELECT COUNT(DISTINCT user_id) FROM session_profiles),
			(SELECT COUNT(*) FROM session_profiles),
			(SELECT COUNT(*) FROM raw_sessions)`).Scan(&o.Users, &o.Profiles, &o.RawSessions)
	if err != nil {
		return model.CorpusOverview{}, err
	}
	if o.Retrain, err = s.RetrainState(ctx); err != nil {
		return model.CorpusOverview{}, err
	}
	return o, nil
}
