package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	checks "fixedrate-billing/internal/checks/domain"
	"fixedrate-billing/internal/checks/notify"
	"fixedrate-billing/internal/observability/metrics"
)

// Artifact names below the static directory.
const (
	UnitReportFile   = "unit_grade.html"
	CoverageDirName  = "cov_report"
	CoverageIndex    = "index.html"
	TestsLogFile     = "last_tests.log"
	CoverageLogFile  = "last_cov.log"
	coverProfileFile = "coverage.out"
)

// Settings configure how checks run.
type Settings struct {
	WorkDir   string
	StaticDir string
	GoBinary  string
	Packages  []string
	CoverPkg  string
	Timeout   time.Duration
}

// Paths are the files a runner writes.
type Paths struct {
	UnitReport   string
	CoverageDir  string
	CoverageHTML string
	TestsLog     string
	CoverageLog  string
	CoverProfile string
}

// PathsFor returns the artifact locations under staticDir.
func PathsFor(staticDir string) Paths {
	covDir := filepath.Join(staticDir, CoverageDirName)
	return Paths{
		UnitReport:   filepath.Join(staticDir, UnitReportFile),
		CoverageDir:  covDir,
		CoverageHTML: filepath.Join(covDir, CoverageIndex),
		TestsLog:     filepath.Join(staticDir, TestsLogFile),
		CoverageLog:  filepath.Join(staticDir, CoverageLogFile),
		CoverProfile: filepath.Join(staticDir, coverProfileFile),
	}
}

// Runner executes test and coverage jobs in the background. At most one job
// of each kind runs at a time.
type Runner struct {
	settings Settings
	paths    Paths
	store    checks.JobStore
	cmd      CommandRunner
	notifier notify.Notifier
	logger   *zap.Logger
	newID    func() string
	now      func() time.Time

	mu      sync.Mutex
	running map[checks.Kind]string
	wg      sync.WaitGroup
}

// Option configures the Runner.
type Option func(*Runner)

// WithNotifier sets the completion notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Runner) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithNow overrides the clock.
func WithNow(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRunner constructs a Runner.
func NewRunner(settings Settings, store checks.JobStore, cmd CommandRunner, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if store == nil || cmd == nil {
		return nil, errors.New("checks runner: nil dependency")
	}
	if settings.StaticDir == "" {
		return nil, errors.New("checks runner: static dir required")
	}
	if len(settings.Packages) == 0 {
		return nil, errors.New("checks runner: no packages to test")
	}
	if settings.GoBinary == "" {
		settings.GoBinary = "go"
	}
	if settings.WorkDir == "" {
		settings.WorkDir = "."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		settings: settings,
		paths:    PathsFor(settings.StaticDir),
		store:    store,
		cmd:      cmd,
		logger:   logger.Named("checks"),
		newID:    func() string { return uuid.NewString() },
		now:      func() time.Time { return time.Now().UTC() },
		running:  make(map[checks.Kind]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Paths returns the artifact locations.
func (r *Runner) Paths() Paths { return r.paths }

// Start creates a job and runs it in the background.
func (r *Runner) Start(ctx context.Context, kind checks.Kind) (*checks.Job, error) {
	job, err := r.begin(ctx, kind)
	if err != nil {
		return nil, err
	}
	created := job.Clone()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(context.Background(), job)
	}()
	return created, nil
}

// RunSync runs a job to completion on the calling goroutine.
func (r *Runner) RunSync(ctx context.Context, kind checks.Kind) (*checks.Job, error) {
	job, err := r.begin(ctx, kind)
	if err != nil {
		return nil, err
	}
	r.execute(ctx, job)
	return job.Clone(), nil
}

// Wait blocks until all background jobs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Job returns a stored job.
func (r *Runner) Job(ctx context.Context, id string) (*checks.Job, error) {
	return r.store.Get(ctx, id)
}

// Jobs returns recent jobs, newest first.
func (r *Runner) Jobs(ctx context.Context, limit int) ([]*checks.Job, error) {
	return r.store.List(ctx, limit)
}

func (r *Runner) begin(ctx context.Context, kind checks.Kind) (*checks.Job, error) {
	if _, err := checks.ParseKind(string(kind)); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.running[kind]; ok {
		return nil, fmt.Errorf("%w: %s job %s", checks.ErrJobRunning, kind, id)
	}

	job := &checks.Job{
		ID:        r.newID(),
		Kind:      kind,
		Status:    checks.StatusCreated,
		CreatedAt: r.now(),
	}
	switch kind {
	case checks.KindTests:
		job.LogPath = r.paths.TestsLog
	case checks.KindCoverage:
		job.LogPath = r.paths.CoverageLog
	}
	if err := r.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("checks runner: create job: %w", err)
	}
	metrics.IncCheckJob(string(kind), string(checks.StatusCreated))
	r.running[kind] = job.ID
	return job, nil
}

func (r *Runner) release(kind checks.Kind) {
	r.mu.Lock()
	delete(r.running, kind)
	r.mu.Unlock()
}

func (r *Runner) execute(ctx context.Context, job *checks.Job) {
	defer r.release(job.Kind)

	if r.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.Timeout)
		defer cancel()
	}

	started := r.now()
	job.Status = checks.StatusRunning
	job.StartedAt = &started
	r.save(ctx, job)
	metrics.IncCheckJob(string(job.Kind), string(checks.StatusRunning))
	r.logger.Info("check job started", zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))

	artifact, runErr := r.run(ctx, job)

	ended := r.now()
	job.EndedAt = &ended
	job.ArtifactPath = artifact
	if runErr != nil {
		job.Status = checks.StatusFailed
		job.Error = runErr.Error()
	} else {
		job.Status = checks.StatusSucceeded
	}
	// the job context may be cancelled by the timeout; the final state is
	// still recorded
	r.save(context.Background(), job)
	metrics.IncCheckJob(string(job.Kind), string(job.Status))
	metrics.ObserveCheckJob(string(job.Kind), string(job.Status), job.Duration())

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("status", string(job.Status)),
		zap.Duration("duration", job.Duration()),
	}
	if runErr != nil {
		r.logger.Warn("check job failed", append(fields, zap.Error(runErr))...)
	} else {
		r.logger.Info("check job finished", fields...)
	}
	r.notify(job)
}

func (r *Runner) save(ctx context.Context, job *checks.Job) {
	if err := r.store.Update(ctx, job); err != nil {
		r.logger.Error("check job update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (r *Runner) notify(job *checks.Job) {
	if r.notifier == nil {
		return
	}
	msg := notify.JobMessage{
		JobID:   job.ID,
		Kind:    string(job.Kind),
		Status:  string(job.Status),
		Error:   job.Error,
		Seconds: job.Duration().Seconds(),
	}
	if job.ArtifactPath != "" {
		msg.ReportURL = ReportRoute(job.Kind)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.notifier.Notify(ctx, msg); err != nil {
		r.logger.Warn("check job notify failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// ReportRoute is the HTTP path serving the report of a job kind.
func ReportRoute(kind checks.Kind) string {
	if kind == checks.KindCoverage {
		return "/report/cov/"
	}
	return "/report/tests"
}

func (r *Runner) run(ctx context.Context, job *checks.Job) (string, error) {
	if err := os.MkdirAll(r.settings.StaticDir, 0o755); err != nil {
		return "", fmt.Errorf("creating static dir: %w", err)
	}
	logFile, err := os.Create(job.LogPath)
	if err != nil {
		return "", fmt.Errorf("creating log: %w", err)
	}
	defer logFile.Close()

	switch job.Kind {
	case checks.KindTests:
		return r.runTests(ctx, logFile)
	case checks.KindCoverage:
		return r.runCoverage(ctx, logFile)
	default:
		return "", checks.ErrUnknownKind
	}
}

func (r *Runner) runTests(ctx context.Context, log io.Writer) (string, error) {
	var stream bytes.Buffer
	args := append([]string{"test", "-json"}, r.settings.Packages...)
	runErr := r.cmd.Run(ctx, r.settings.WorkDir, io.MultiWriter(&stream, log), r.settings.GoBinary, args...)

	summary, err := ParseTestEvents(&stream)
	if err != nil {
		return "", fmt.Errorf("parsing test output: %w", err)
	}
	summary.GeneratedAt = r.now()
	if err := writeFileAtomic(r.paths.UnitReport, func(w io.Writer) error {
		return RenderTestReport(w, summary)
	}); err != nil {
		return "", fmt.Errorf("writing test report: %w", err)
	}
	fmt.Fprintf(log, "\n%d passed, %d failed, %d skipped\n", summary.Passed, summary.Failed, summary.Skipped)

	if runErr != nil {
		return r.paths.UnitReport, fmt.Errorf("go test: %w", runErr)
	}
	if !summary.OK() {
		return r.paths.UnitReport, errors.New("go test: failures reported")
	}
	return r.paths.UnitReport, nil
}

func (r *Runner) runCoverage(ctx context.Context, log io.Writer) (string, error) {
	if err := os.MkdirAll(r.paths.CoverageDir, 0o755); err != nil {
		return "", fmt.Errorf("creating coverage dir: %w", err)
	}
	profile, err := filepath.Abs(r.paths.CoverProfile)
	if err != nil {
		return "", err
	}
	index, err := filepath.Abs(r.paths.CoverageHTML)
	if err != nil {
		return "", err
	}
	_ = os.Remove(profile)

	args := []string{"test", "-covermode=atomic", "-coverprofile=" + profile}
	if r.settings.CoverPkg != "" {
		args = append(args, "-coverpkg="+r.settings.CoverPkg)
	}
	args = append(args, r.settings.Packages...)
	testErr := r.cmd.Run(ctx, r.settings.WorkDir, log, r.settings.GoBinary, args...)

	if _, err := os.Stat(profile); err != nil {
		if testErr != nil {
			return "", fmt.Errorf("go test: %w", testErr)
		}
		return "", fmt.Errorf("coverage profile missing: %w", err)
	}
	if err := r.cmd.Run(ctx, r.settings.WorkDir, log, r.settings.GoBinary, "tool", "cover", "-html="+profile, "-o", index); err != nil {
		return "", fmt.Errorf("go tool cover: %w", err)
	}
	if testErr != nil {
		return r.paths.CoverageHTML, fmt.Errorf("go test: %w", testErr)
	}
	return r.paths.CoverageHTML, nil
}

func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
