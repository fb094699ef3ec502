package stats

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/verte-zerg/keyprint/internal/model"
)

// ReportSource reads the corpus views needed for reporting.
type ReportSource interface {
	Overview(ctx context.Context) (model.CorpusOverview, error)
	ListUserAggregates(ctx context.Context) ([]model.UserAggregate, error)
	ListProfiles(ctx context.Context, userID int64, last int) ([]model.SessionProfile, error)
}

// ManifestSource reads the manifest of the current artifact generation.
type ManifestSource interface {
	ReadManifest() (model.Manifest, error)
}

// Report contains precomputed data for stats rendering.
type Report struct {
	Overview model.CorpusOverview
	Users    []model.UserAggregate
	Profiles []model.SessionProfile
	Manifest *model.Manifest
}

// BuildReport loads and prepares data for stats rendering. A missing manifest
// is not an error; the report simply has no model section.
func BuildReport(ctx context.Context, src ReportSource, manifests ManifestSource, cfg model.StatsConfig) (Report, error) {
	overview, err := src.Overview(ctx)
	if err != nil {
		return Report{}, err
	}
	users, err := src.ListUserAggregates(ctx)
	if err != nil {
		return Report{}, err
	}
	profiles, err := src.ListProfiles(ctx, cfg.UserID, cfg.Last)
	if err != nil {
		return Report{}, err
	}
	report := Report{Overview: overview, Users: users, Profiles: profiles}
	if manifests != nil {
		manifest, err := manifests.ReadManifest()
		switch {
		case err == nil:
			report.Manifest = &manifest
		case !errors.Is(err, model.ErrArtifactLoad):
			return Report{}, err
		}
	}
	return report, nil
}

// RenderOverview prints corpus totals and the retrain state.
func RenderOverview(w io.Writer, r Report) error {
	trained := "never"
	if r.Overview.Retrain.LastTrainedAt != nil {
		trained = r.Overview.Retrain.LastTrainedAt.Local().Format("2006-01-02 15:04")
	}
	lines := []string{
		"Overview",
		fmt.Sprintf("Users: %d", r.Overview.Users),
		fmt.Sprintf("Profiles: %d", r.Overview.Profiles),
		fmt.Sprintf("Raw sessions: %d", r.Overview.RawSessions),
		fmt.Sprintf("Sessions since retrain: %d", r.Overview.Retrain.SessionsSinceRetrain),
		fmt.Sprintf("Last trained: %s", trained),
		"",
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// UserTable returns headers and rows describing per-user profile aggregates.
func UserTable(users []model.UserAggregate) ([]string, [][]string) {
	headers := []string{"User", "Profiles", "Speed (cps)", "Hold (ms)", "Press-press (ms)"}
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{
			fmt.Sprintf("%d", u.UserID),
			fmt.Sprintf("%d", u.Profiles),
			fmt.Sprintf("%.2f", u.TypingSpeedCPSMean),
			fmt.Sprintf("%.1f", u.HoldTimeMean),
			fmt.Sprintf("%.1f", u.PressPressIntervalMean),
		})
	}
	return headers, rows
}

// RenderUserTable prints per-user aggregates.
func RenderUserTable(w io.Writer, users []model.UserAggregate) error {
	if len(users) == 0 {
		_, err := fmt.Fprintln(w, "No profiles found.")
		return err
	}
	if _, err := fmt.Fprintln(w, "Users"); err != nil {
		return err
	}
	headers, rows := UserTable(users)
	for _, line := range FormatTable(headers, rows, map[int]bool{1: true, 2: true, 3: true, 4: true}) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// RenderCurves plots typing speed and hold time across stored profiles.
func RenderCurves(w io.Writer, profiles []model.SessionProfile, window int, opts PlotOptions) error {
	if len(profiles) == 0 {
		return nil
	}
	speed := make([]float64, len(profiles))
	hold := make([]float64, len(profiles))
	for i, p := range profiles {
		speed[i] = p.TypingSpeedCPS
		hold[i] = p.HoldTimeMean
	}
	return PlotSeries(w, "Rhythm Curves", []Series{
		{Name: "Speed (cps)", Values: MovingAverage(speed, window)},
		{Name: "Hold (ms)", Values: MovingAverage(hold, window)},
	}, opts)
}

// RenderModels prints the holdout accuracy of each model in the manifest.
func RenderModels(w io.Writer, manifest *model.Manifest) error {
	if manifest == nil {
		_, err := fmt.Fprintln(w, "No trained models found.")
		return err
	}
	header := fmt.Sprintf("Models (generation %s, %d rows: %d train / %d test)",
		manifest.Generation, manifest.Rows, manifest.TrainRows, manifest.TestRows)
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	rows := make([][]string, 0, len(manifest.Models))
	for _, m := range manifest.Models {
		rows = append(rows, []string{m.Name, fmt.Sprintf("%.2f%%", m.Accuracy*100)})
	}
	for _, line := range FormatTable([]string{"Model", "Accuracy"}, rows, map[int]bool{1: true}) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}
