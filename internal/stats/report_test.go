package stats

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/keyprint/internal/model"
)

type fakeSource struct {
	overview model.CorpusOverview
	users    []model.UserAggregate
	profiles []model.SessionProfile
	gotUser  int64
	gotLast  int
}

func (f *fakeSource) Overview(context.Context) (model.CorpusOverview, error) {
	return f.overview, nil
}

func (f *fakeSource) ListUserAggregates(context.Context) ([]model.UserAggregate, error) {
	return f.users, nil
}

func (f *fakeSource) ListProfiles(_ context.Context, userID int64, last int) ([]model.SessionProfile, error) {
	f.gotUser, f.gotLast = userID, last
	return f.profiles, nil
}

type manifestFunc func() (model.Manifest, error)

func (f manifestFunc) ReadManifest() (model.Manifest, error) {
	return f()
}

func TestBuildReport(t *testing.T) {
	trained := time.Date(2026, 2, 3, 4, 5, 0, 0, time.UTC)
	src := &fakeSource{
		overview: model.CorpusOverview{Users: 2, Profiles: 3, RawSessions: 4,
			Retrain: model.RetrainState{SessionsSinceRetrain: 1, LastTrainedAt: &trained, Generation: "g"}},
		users: []model.UserAggregate{{UserID: 1, Profiles: 2, TypingSpeedCPSMean: 5.5, HoldTimeMean: 90}},
		profiles: []model.SessionProfile{
			{UserID: 1, TypingSpeedCPS: 5, HoldTimeMean: 80},
			{UserID: 1, TypingSpeedCPS: 6, HoldTimeMean: 100},
		},
	}
	manifests := manifestFunc(func() (model.Manifest, error) {
		return model.Manifest{Generation: "g", Models: []model.ModelSummary{{Name: "random_forest", Accuracy: 0.875}}}, nil
	})

	report, err := BuildReport(context.Background(), src, manifests, model.StatsConfig{UserID: 1, Last: 2})
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	if src.gotUser != 1 || src.gotLast != 2 {
		t.Fatalf("filters not passed through: user=%d last=%d", src.gotUser, src.gotLast)
	}
	if len(report.Profiles) != 2 || len(report.Users) != 1 || report.Manifest == nil {
		t.Fatalf("unexpected report: %+v", report)
	}

	var buf bytes.Buffer
	if err := RenderOverview(&buf, report); err != nil {
		t.Fatalf("render overview: %v", err)
	}
	if err := RenderUserTable(&buf, report.Users); err != nil {
		t.Fatalf("render users: %v", err)
	}
	if err := RenderModels(&buf, report.Manifest); err != nil {
		t.Fatalf("render models: %v", err)
	}
	if err := RenderCurves(&buf, report.Profiles, 1, PlotOptions{Width: 20, Height: 3}); err != nil {
		t.Fatalf("render curves: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Raw sessions: 4", "Sessions since retrain: 1", "5.50", "random_forest", "87.50%", "Rhythm Curves"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestBuildReportWithoutModels(t *testing.T) {
	src := &fakeSource{}
	manifests := manifestFunc(func() (model.Manifest, error) {
		return model.Manifest{}, fmt.Errorf("%w: manifest not found", model.ErrArtifactLoad)
	})
	report, err := BuildReport(context.Background(), src, manifests, model.StatsConfig{})
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	if report.Manifest != nil {
		t.Fatalf("expected no manifest")
	}
	var buf bytes.Buffer
	if err := RenderModels(&buf, nil); err != nil {
		t.Fatalf("render models: %v", err)
	}
	if !strings.Contains(buf.String(), "No trained models found.") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestBuildReportManifestFailure(t *testing.T) {
	boom := errors.New("permission denied")
	manifests := manifestFunc(func() (model.Manifest, error) { return model.Manifest{}, boom })
	if _, err := BuildReport(context.Background(), &fakeSource{}, manifests, model.StatsConfig{}); !errors.Is(err, boom) {
		t.Fatalf("expected manifest error, got %v", err)
	}
}
