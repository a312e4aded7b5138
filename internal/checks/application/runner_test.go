package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	checks "fixedrate-billing/internal/checks/domain"
	"fixedrate-billing/internal/checks/infrastructure/memory"
	"fixedrate-billing/internal/checks/notify"
)

const passingStream = `{"Action":"run","Package":"example/billing","Test":"TestComputeBill"}
{"Action":"output","Package":"example/billing","Test":"TestComputeBill","Output":"=== RUN   TestComputeBill\n"}
{"Action":"pass","Package":"example/billing","Test":"TestComputeBill","Elapsed":0.01}
{"Action":"pass","Package":"example/billing","Elapsed":0.2}
`

const failingStream = `{"Action":"run","Package":"example/billing","Test":"TestSum"}
{"Action":"output","Package":"example/billing","Test":"TestSum","Output":"    sum_test.go:10: want 2 got 3\n"}
{"Action":"fail","Package":"example/billing","Test":"TestSum","Elapsed":0.01}
{"Action":"fail","Package":"example/billing","Elapsed":0.2}
`

type fakeCommands struct {
	mu     sync.Mutex
	calls  [][]string
	stream string
	err    error
	// gate blocks the first command until closed when set
	gate chan struct{}
}

func (f *fakeCommands) Run(ctx context.Context, dir string, out io.Writer, name string, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	switch {
	case len(args) > 1 && args[0] == "test" && args[1] == "-json":
		_, _ = io.WriteString(out, f.stream)
		return f.err
	case len(args) > 0 && args[0] == "test":
		for _, arg := range args {
			if path, ok := strings.CutPrefix(arg, "-coverprofile="); ok {
				if err := os.WriteFile(path, []byte("mode: atomic\n"), 0o644); err != nil {
					return err
				}
			}
		}
		_, _ = io.WriteString(out, "ok  \texample/billing\tcoverage: 97.0% of statements\n")
		return f.err
	case len(args) > 0 && args[0] == "tool":
		return os.WriteFile(args[len(args)-1], []byte("<html>coverage</html>"), 0o644)
	}
	return fmt.Errorf("unexpected command %v", args)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.JobMessage
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.JobMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func newRunner(t *testing.T, cmd CommandRunner, opts ...Option) (*Runner, string) {
	t.Helper()
	static := filepath.Join(t.TempDir(), "static")
	r, err := NewRunner(Settings{
		WorkDir:   t.TempDir(),
		StaticDir: static,
		Packages:  []string{"./internal/billing/..."},
		CoverPkg:  "./internal/billing/domain/...",
		Timeout:   time.Minute,
	}, memory.NewStore(), cmd, zap.NewNop(), opts...)
	require.NoError(t, err)
	return r, static
}

func TestRunner_TestsJobSucceeds(t *testing.T) {
	cmd := &fakeCommands{stream: passingStream}
	notifier := &recordingNotifier{}
	r, static := newRunner(t, cmd, WithNotifier(notifier), WithIDGenerator(func() string { return "job-1" }))

	job, err := r.Start(context.Background(), checks.KindTests)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, checks.StatusCreated, job.Status)
	r.Wait()

	stored, err := r.Job(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, checks.StatusSucceeded, stored.Status)
	assert.Equal(t, filepath.Join(static, UnitReportFile), stored.ArtifactPath)
	require.NotNil(t, stored.EndedAt)

	report, err := os.ReadFile(stored.ArtifactPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "1 tests: 1 passed, 0 failed, 0 skipped")

	logData, err := os.ReadFile(filepath.Join(static, TestsLogFile))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "TestComputeBill")

	require.Equal(t, []string{"go", "test", "-json", "./internal/billing/..."}, cmd.calls[0])
	require.Len(t, notifier.msgs, 1)
	assert.Equal(t, "/report/tests", notifier.msgs[0].ReportURL)
	assert.Equal(t, "succeeded", notifier.msgs[0].Status)
}

func TestRunner_TestsJobFailsButKeepsReport(t *testing.T) {
	cmd := &fakeCommands{stream: failingStream, err: errors.New("exit status 1")}
	r, _ := newRunner(t, cmd)

	job, err := r.RunSync(context.Background(), checks.KindTests)
	require.NoError(t, err)
	assert.Equal(t, checks.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "exit status 1")
	require.NotEmpty(t, job.ArtifactPath)

	report, err := os.ReadFile(job.ArtifactPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "want 2 got 3")
}

func TestRunner_CoverageJob(t *testing.T) {
	cmd := &fakeCommands{}
	r, static := newRunner(t, cmd)

	job, err := r.RunSync(context.Background(), checks.KindCoverage)
	require.NoError(t, err)
	assert.Equal(t, checks.StatusSucceeded, job.Status, job.Error)
	assert.Equal(t, filepath.Join(static, CoverageDirName, CoverageIndex), job.ArtifactPath)
	assert.FileExists(t, job.ArtifactPath)
	assert.Equal(t, filepath.Join(static, CoverageLogFile), job.LogPath)

	require.Len(t, cmd.calls, 2)
	assert.Contains(t, cmd.calls[0], "-coverpkg=./internal/billing/domain/...")
	assert.Equal(t, []string{"go", "tool", "cover"}, cmd.calls[1][:3])
}

func TestRunner_RejectsConcurrentJobOfSameKind(t *testing.T) {
	cmd := &fakeCommands{stream: passingStream, gate: make(chan struct{})}
	r, _ := newRunner(t, cmd)

	first, err := r.Start(context.Background(), checks.KindTests)
	require.NoError(t, err)

	_, err = r.Start(context.Background(), checks.KindTests)
	assert.ErrorIs(t, err, checks.ErrJobRunning)

	close(cmd.gate)
	r.Wait()

	second, err := r.Start(context.Background(), checks.KindTests)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	r.Wait()

	jobs, err := r.Jobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestRunner_UnknownKind(t *testing.T) {
	r, _ := newRunner(t, &fakeCommands{})
	_, err := r.Start(context.Background(), checks.Kind("lint"))
	assert.ErrorIs(t, err, checks.ErrUnknownKind)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(Settings{StaticDir: "static", Packages: []string{"./..."}}, nil, ExecRunner{}, nil)
	assert.Error(t, err)
	_, err = NewRunner(Settings{Packages: []string{"./..."}}, memory.NewStore(), ExecRunner{}, nil)
	assert.Error(t, err)
	_, err = NewRunner(Settings{StaticDir: "static"}, memory.NewStore(), ExecRunner{}, nil)
	assert.Error(t, err)
}
