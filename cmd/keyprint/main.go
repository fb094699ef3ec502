// Package main provides the CLI entrypoint for keyprint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/keyprint/internal/artifact"
	"github.com/verte-zerg/keyprint/internal/classify"
	"github.com/verte-zerg/keyprint/internal/config"
	"github.com/verte-zerg/keyprint/internal/engine"
	"github.com/verte-zerg/keyprint/internal/generator"
	"github.com/verte-zerg/keyprint/internal/logging"
	"github.com/verte-zerg/keyprint/internal/model"
	"github.com/verte-zerg/keyprint/internal/preprocess"
	"github.com/verte-zerg/keyprint/internal/score"
	"github.com/verte-zerg/keyprint/internal/stats"
	"github.com/verte-zerg/keyprint/internal/statsui"
	"github.com/verte-zerg/keyprint/internal/store"
	"github.com/verte-zerg/keyprint/internal/train"
)

const (
	defaultCurveWindow = 5
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
)

var (
	rootConfigPath  string
	rootDBPath      string
	rootArtifactDir string
	rootLogLevel    string
	rootLogFormat   string

	sessionUser      int64
	sessionPress     string
	sessionRelease   string
	sessionBackspace int
	sessionErrorRate float64

	retrainEvery int
	minProfiles  int

	preprocessZ      float64
	preprocessPolicy string

	trainTestFraction float64
	trainSeed         int
	trainTrees        int
	trainRounds       int
	trainHidden       int
	trainEpochs       int

	scoreVector string
	scoreUser   int64

	evaluateUser int64

	importFile string
	exportFile string

	simulateUsers    int
	simulateSessions int
	simulateKeys     int
	simulateSeed     int64

	statsUser        int64
	statsLast        int
	statsCurveWindow int
	statsPlain       bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		logErrf("Error (%s): %v\n", model.Kind(err), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "keyprint",
		Short:         "Keystroke dynamics authentication",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootConfigPath, "config", config.DefaultConfigPath(), "config file path")
	flags.StringVar(&rootDBPath, "db", config.DefaultDBPath(), "profile store path")
	flags.StringVar(&rootArtifactDir, "artifacts", config.DefaultArtifactDir(), "model artifact directory")
	flags.StringVar(&rootLogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&rootLogFormat, "log-format", defaultLogFormat, "log format (text, json)")

	rootCmd.AddCommand(newEnrollCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newSimulateCmd())
	rootCmd.AddCommand(newPreprocessCmd())
	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newEvaluateCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// env holds everything a command needs, opened from flags and the config file.
type env struct {
	store     *store.Store
	artifacts *artifact.Store
	engine    *engine.Engine
	log       *slog.Logger
}

func (e *env) close() {
	if cerr := e.store.Close(); cerr != nil {
		logErrf("failed to close db: %v\n", cerr)
	}
}

func openEnv(cmd *cobra.Command) (*env, error) {
	fileCfg, err := config.LoadConfig(rootConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "db", &rootDBPath, fileCfg.Store.Path)
	applyStringConfig(cmd, "artifacts", &rootArtifactDir, fileCfg.Artifacts.Dir)
	applyStringConfig(cmd, "log-level", &rootLogLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "log-format", &rootLogFormat, fileCfg.Log.Format)
	applyFloatConfig(cmd, "z-threshold", &preprocessZ, fileCfg.Preprocess.ZThreshold)
	applyStringConfig(cmd, "policy", &preprocessPolicy, fileCfg.Preprocess.WritePolicy)
	applyFloatConfig(cmd, "test-fraction", &trainTestFraction, fileCfg.Train.TestFraction)
	applyIntConfig(cmd, "seed", &trainSeed, fileCfg.Train.Seed)
	applyIntConfig(cmd, "retrain-every", &retrainEvery, fileCfg.Train.RetrainEvery)
	applyIntConfig(cmd, "min-profiles", &minProfiles, fileCfg.Train.MinProfiles)
	applyIntConfig(cmd, "trees", &trainTrees, fileCfg.Train.Trees)
	applyIntConfig(cmd, "rounds", &trainRounds, fileCfg.Train.Rounds)
	applyIntConfig(cmd, "hidden", &trainHidden, fileCfg.Train.Hidden)
	applyIntConfig(cmd, "epochs", &trainEpochs, fileCfg.Train.Epochs)

	log, err := logging.New(os.Stderr, rootLogLevel, rootLogFormat)
	if err != nil {
		return nil, err
	}
	policy, err := preprocess.ParseWritePolicy(preprocessPolicy)
	if err != nil {
		return nil, err
	}
	if err := validateOptions(); err != nil {
		return nil, err
	}

	st, err := store.Open(rootDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	arts := artifact.New(rootArtifactDir)
	eng := engine.New(st, arts, engine.Options{
		Preprocess: preprocess.Options{ZThreshold: preprocessZ, Policy: policy},
		Train: train.Options{
			TestFraction: trainTestFraction,
			Seed:         int64(trainSeed),
			Models: classify.Options{
				Trees:  trainTrees,
				Rounds: trainRounds,
				Hidden: trainHidden,
				Epochs: trainEpochs,
			},
		},
		RetrainEvery: retrainEvery,
		MinProfiles:  minProfiles,
		Logger:       log,
	})
	return &env{store: st, artifacts: arts, engine: eng, log: log}, nil
}

func validateOptions() error {
	if preprocessZ < 0 {
		return fmt.Errorf("%w: --z-threshold must be >= 0", model.ErrInvalidInput)
	}
	if trainTestFraction < 0 || trainTestFraction >= 1 {
		return fmt.Errorf("%w: --test-fraction must be in [0, 1)", model.ErrInvalidInput)
	}
	for name, v := range map[string]int{
		"retrain-every": retrainEvery,
		"min-profiles":  minProfiles,
		"trees":         trainTrees,
		"rounds":        trainRounds,
		"hidden":        trainHidden,
		"epochs":        trainEpochs,
	} {
		if v < 0 {
			return fmt.Errorf("%w: --%s must be >= 0", model.ErrInvalidInput, name)
		}
	}
	return nil
}

// addEngineFlags registers the tuning flags every engine-backed command
// accepts. Zero values fall through to the config file and then the defaults.
func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&retrainEvery, "retrain-every", 0, "retrain after this many new sessions (default 5)")
	cmd.Flags().IntVar(&minProfiles, "min-profiles", 0, "profiles required before scoring a user (default 10)")
	cmd.Flags().Float64Var(&preprocessZ, "z-threshold", 0, "outlier z-score threshold (default 3)")
	cmd.Flags().StringVar(&preprocessPolicy, "policy", "", "profile write policy: replace or append (default replace)")
	cmd.Flags().Float64Var(&trainTestFraction, "test-fraction", 0, "holdout fraction (default 0.2)")
	cmd.Flags().IntVar(&trainSeed, "seed", 0, "split and model seed (default 42)")
	cmd.Flags().IntVar(&trainTrees, "trees", 0, "random forest size (default 100)")
	cmd.Flags().IntVar(&trainRounds, "rounds", 0, "gradient boosting rounds (default 100)")
	cmd.Flags().IntVar(&trainHidden, "hidden", 0, "neural network hidden units (default 32)")
	cmd.Flags().IntVar(&trainEpochs, "epochs", 0, "iterative model epochs (default 300)")
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&sessionUser, "user", 0, "user id")
	cmd.Flags().StringVar(&sessionPress, "press", "", "key press timestamps in ms, e.g. \"0,120,260\"")
	cmd.Flags().StringVar(&sessionRelease, "release", "", "key release timestamps in ms")
	cmd.Flags().IntVar(&sessionBackspace, "backspace", 0, "backspace count")
	cmd.Flags().Float64Var(&sessionErrorRate, "error-rate", 0, "error rate (0-1)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("press")
	_ = cmd.MarkFlagRequired("release")
}

func newEnrollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Store a typing session and retrain when due",
		Args:  cobra.NoArgs,
		RunE:  runEnrollCmd,
	}
	addSessionFlags(cmd)
	addEngineFlags(cmd)
	return cmd
}

func runEnrollCmd(cmd *cobra.Command, _ []string) error {
	sample, err := parseSample(sessionUser, sessionPress, sessionRelease, sessionBackspace, sessionErrorRate)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.engine.Enroll(cmd.Context(), sample)
	if err != nil {
		return fmt.Errorf("failed to enroll session: %w", err)
	}
	return printEnroll(cmd, res)
}

func printEnroll(cmd *cobra.Command, res engine.EnrollResult) error {
	out := cmd.OutOrStdout()
	p := res.Profile
	if _, err := fmt.Fprintf(out, "Stored session %d for user %d (%.2f cps, hold %.1f ms)\n",
		res.SessionID, p.UserID, p.TypingSpeedCPS, p.HoldTimeMean); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	switch {
	case !res.Retrained:
		_, err := fmt.Fprintf(out, "Sessions since retrain: %d\n", res.SessionsSinceRetrain)
		return err
	case res.TrainErr != nil:
		logErrf("Retrain failed (%s): %v\n", model.Kind(res.TrainErr), res.TrainErr)
		return nil
	default:
		if _, err := fmt.Fprintln(out, "Retrained models:"); err != nil {
			return err
		}
		return printTraining(cmd, res.Training, false)
	}
}

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Score a typing session against the claimed user",
		Args:  cobra.NoArgs,
		RunE:  runAuthCmd,
	}
	addSessionFlags(cmd)
	addEngineFlags(cmd)
	return cmd
}

func runAuthCmd(cmd *cobra.Command, _ []string) error {
	sample, err := parseSample(sessionUser, sessionPress, sessionRelease, sessionBackspace, sessionErrorRate)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.engine.Authenticate(cmd.Context(), sample)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	out := cmd.OutOrStdout()
	if !res.Ready {
		_, err := fmt.Fprintf(out, "Not enough typing sessions for user %d yet (%d stored). Keep enrolling.\n", sample.UserID, res.Profiles)
		return err
	}
	for _, v := range res.Verdicts {
		if _, err := fmt.Fprintln(out, v.Message()); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if res.Enrolled != nil && res.Enrolled.Retrained && res.Enrolled.TrainErr != nil {
		logErrf("Retrain failed (%s): %v\n", model.Kind(res.Enrolled.TrainErr), res.Enrolled.TrainErr)
	}
	return nil
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import raw sessions from a JSON file",
		Args:  cobra.NoArgs,
		RunE:  runImportCmd,
	}
	cmd.Flags().StringVar(&importFile, "file", "", "JSON array of raw sessions")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runImportCmd(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(importFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", importFile, err)
	}
	rows, err := decodeRawSessions(data)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.store.ImportRawSessions(cmd.Context(), rows); err != nil {
		return fmt.Errorf("failed to import sessions: %w", err)
	}
	e.log.Info("raw sessions imported", "rows", len(rows), "file", importFile)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d raw sessions. Run keyprint preprocess to rebuild profiles.\n", len(rows))
	return err
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the training corpus as CSV",
		Args:  cobra.NoArgs,
		RunE:  runExportCmd,
	}
	cmd.Flags().StringVar(&exportFile, "out", "", "output CSV path")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runExportCmd(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	corpus, err := e.store.ReadTrainingCorpus(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read corpus: %w", err)
	}
	if err := writeCSV(exportFile, corpusRecords(corpus)); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportFile, err)
	}
	logErrf("Wrote %d rows to %s\n", corpus.Len(), exportFile)
	return nil
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Store synthetic raw sessions for demo users",
		Args:  cobra.NoArgs,
		RunE:  runSimulateCmd,
	}
	cmd.Flags().IntVar(&simulateUsers, "users", 3, "number of synthetic users")
	cmd.Flags().IntVar(&simulateSessions, "sessions", 20, "sessions per user")
	cmd.Flags().IntVar(&simulateKeys, "keys", 30, "keystrokes per session")
	cmd.Flags().Int64Var(&simulateSeed, "seed", 0, "random seed (default: time based)")
	return cmd
}

func runSimulateCmd(cmd *cobra.Command, _ []string) error {
	if simulateUsers <= 0 || simulateSessions <= 0 || simulateKeys <= 0 {
		return fmt.Errorf("%w: --users, --sessions and --keys must be > 0", model.ErrInvalidInput)
	}
	gen := generator.New()
	if cmd.Flags().Changed("seed") {
		gen = generator.NewSeeded(simulateSeed)
	}
	rows := simulateSessionsFor(gen, simulateUsers, simulateSessions, simulateKeys)

	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.store.ImportRawSessions(cmd.Context(), rows); err != nil {
		return fmt.Errorf("failed to store sessions: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stored %d synthetic sessions for %d users. Run keyprint preprocess to rebuild profiles.\n", len(rows), simulateUsers)
	return err
}

func newPreprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Rebuild session profiles from stored raw sessions",
		Args:  cobra.NoArgs,
		RunE:  runPreprocessCmd,
	}
	addEngineFlags(cmd)
	return cmd
}

func runPreprocessCmd(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	res, err := e.engine.PreprocessCorpus(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to preprocess corpus: %w", err)
	}
	lines := []string{
		fmt.Sprintf("Rows read: %d", res.RowsRead),
		fmt.Sprintf("Rows degraded: %d", res.RowsDegraded),
		fmt.Sprintf("Rejected outliers: %d", res.RowsRejectedOutliers),
		fmt.Sprintf("Rejected degenerate: %d", res.RowsRejectedDegenerate),
		fmt.Sprintf("Undefined ratios: %d", res.RowsUndefinedRatio),
		fmt.Sprintf("Rows written: %d", res.RowsWritten),
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train and publish the classifier ensemble",
		Args:  cobra.NoArgs,
		RunE:  runTrainCmd,
	}
	addEngineFlags(cmd)
	return cmd
}

func runTrainCmd(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	results, err := e.engine.TrainEnsemble(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to train: %w", err)
	}
	return printTraining(cmd, results, true)
}

func printTraining(cmd *cobra.Command, results map[string]train.Result, reports bool) error {
	out := cmd.OutOrStdout()
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := results[name]
		if _, err := fmt.Fprintf(out, "%s Accuracy: %.2f%%\n", name, r.Accuracy*100); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		if reports {
			if _, err := fmt.Fprintf(out, "%s\n", r.Report); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}
	}
	return nil
}

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a ten-value feature vector",
		Args:  cobra.NoArgs,
		RunE:  runScoreCmd,
	}
	cmd.Flags().StringVar(&scoreVector, "vector", "", "comma-separated feature vector")
	cmd.Flags().Int64Var(&scoreUser, "user", 0, "claimed user id")
	_ = cmd.MarkFlagRequired("vector")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runScoreCmd(cmd *cobra.Command, _ []string) error {
	vector, err := parseVector(scoreVector)
	if err != nil {
		return err
	}
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	verdicts, err := e.engine.Score(cmd.Context(), vector, scoreUser)
	if err != nil {
		return fmt.Errorf("failed to score: %w", err)
	}
	for _, v := range verdicts {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), v.Message()); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Report verification metrics for one user over the stored corpus",
		Long: `Report precision, recall, F1, FRR and FAR for one genuine user, scoring every
stored profile with the current model generation.

The corpus includes the rows the models were trained on, so these figures are
optimistic. The holdout accuracy printed by "keyprint train" is the unbiased one.`,
		Args: cobra.NoArgs,
		RunE: runEvaluateCmd,
	}
	cmd.Flags().Int64Var(&evaluateUser, "user", 0, "genuine user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runEvaluateCmd(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	metrics, err := evaluateCorpus(cmd.Context(), e.store, e.engine.LoadEnsemble(), evaluateUser)
	if err != nil {
		return err
	}
	headers := []string{"Model", "Precision", "Recall", "F1", "FRR", "FAR"}
	rows := make([][]string, 0, len(classify.Names))
	for _, name := range classify.Names {
		m, ok := metrics[name]
		if !ok {
			rows = append(rows, []string{name, "-", "-", "-", "-", "-"})
			continue
		}
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%.3f", m.Precision),
			fmt.Sprintf("%.3f", m.Recall),
			fmt.Sprintf("%.3f", m.F1),
			fmt.Sprintf("%.3f", m.FRR),
			fmt.Sprintf("%.3f", m.FAR),
		})
	}
	for _, line := range stats.FormatTable(headers, rows, map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true}) {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

type corpusReader interface {
	ReadTrainingCorpus(ctx context.Context) (model.TrainingCorpus, error)
}

type vectorScorer interface {
	Score(vector []float64, claimed int64) ([]score.Verdict, error)
}

// evaluateCorpus runs every stored profile through an ensemble loaded once
// and computes per-model metrics with user as the genuine class. A model that
// fails on any row is left out of the result.
func evaluateCorpus(ctx context.Context, corpus corpusReader, scorer vectorScorer, user int64) (map[string]stats.Metrics, error) {
	c, err := corpus.ReadTrainingCorpus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	if c.Len() == 0 {
		return nil, fmt.Errorf("%w: no stored profiles", model.ErrEmptyCorpus)
	}
	predicted := map[string][]int64{}
	failed := map[string]bool{}
	for _, row := range c.X {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		verdicts, err := scorer.Score(row, user)
		if err != nil {
			return nil, fmt.Errorf("failed to score corpus: %w", err)
		}
		for _, v := range verdicts {
			if v.Err != nil {
				if !failed[v.Model] {
					logErrf("%s skipped: %v\n", v.Model, v.Err)
				}
				failed[v.Model] = true
				continue
			}
			predicted[v.Model] = append(predicted[v.Model], v.Predicted)
		}
	}
	out := map[string]stats.Metrics{}
	for name, labels := range predicted {
		if failed[name] {
			continue
		}
		m, err := stats.Evaluate(c.Y, labels, user)
		if err != nil {
			return nil, err
		}
		out[name] = m
	}
	return out, nil
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Browse the profile corpus and the last training run",
		Args:  cobra.NoArgs,
		RunE:  runStatsCmd,
	}
	cmd.Flags().Int64Var(&statsUser, "user", 0, "user filter for curves")
	cmd.Flags().IntVar(&statsLast, "last", 0, "limit curves to last N profiles")
	cmd.Flags().IntVar(&statsCurveWindow, "curve-window", defaultCurveWindow, "moving average window")
	cmd.Flags().BoolVar(&statsPlain, "plain", false, "print text output instead of the interactive browser")
	return cmd
}

// statsSource joins the profile store and the artifact directory.
type statsSource struct {
	*store.Store
	artifacts *artifact.Store
}

func (s statsSource) ReadManifest() (model.Manifest, error) {
	return s.artifacts.ReadManifest()
}

func runStatsCmd(cmd *cobra.Command, _ []string) error {
	if statsLast < 0 {
		return fmt.Errorf("%w: --last must be >= 0", model.ErrInvalidInput)
	}
	if statsCurveWindow < 1 {
		return fmt.Errorf("%w: --curve-window must be >= 1", model.ErrInvalidInput)
	}
	cfg := model.StatsConfig{
		UserID:      statsUser,
		Last:        statsLast,
		CurveWindow: statsCurveWindow,
	}
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	src := statsSource{Store: e.store, artifacts: e.artifacts}
	if statsPlain {
		return renderPlainStats(cmd, src, cfg)
	}
	program := tea.NewProgram(statsui.NewModel(src, cfg), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run stats TUI: %w", err)
	}
	return nil
}

func renderPlainStats(cmd *cobra.Command, src statsSource, cfg model.StatsConfig) error {
	report, err := stats.BuildReport(cmd.Context(), src, src, cfg)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	out := cmd.OutOrStdout()
	if err := stats.RenderOverview(out, report); err != nil {
		return err
	}
	if err := stats.RenderUserTable(out, report.Users); err != nil {
		return err
	}
	if err := stats.RenderCurves(out, report.Profiles, cfg.CurveWindow, stats.PlotOptions{}); err != nil {
		return err
	}
	return stats.RenderModels(out, report.Manifest)
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := rootConfigPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# keyprint configuration
# Uncomment a value to enable it. CLI flags override config values.

[store]
# path = %q

[artifacts]
# dir = %q

[preprocess]
# z-threshold = %.1f        # Reject sessions with |z| above this
# write-policy = "replace"  # replace or append

[train]
# test-fraction = %.2f      # Holdout fraction
# seed = %d                 # Split and model seed
# retrain-every = %d        # Retrain after this many new sessions
# min-profiles = %d         # Profiles required before scoring a user
# trees = 100               # Random forest size
# rounds = 100              # Gradient boosting rounds
# hidden = 32               # Neural network hidden units
# epochs = 300              # Iterative model epochs

[log]
# level = %q
# format = %q               # text or json
`,
		config.DefaultDBPath(),
		config.DefaultArtifactDir(),
		preprocess.DefaultZThreshold,
		train.DefaultTestFraction,
		train.DefaultSeed,
		engine.DefaultRetrainEvery,
		engine.DefaultMinProfiles,
		defaultLogLevel,
		defaultLogFormat,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
