package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"github.com/pauljones0/comment-harvester/internal/browser"
	"github.com/pauljones0/comment-harvester/internal/config"
	"github.com/pauljones0/comment-harvester/internal/harvest"
	"github.com/pauljones0/comment-harvester/internal/ingest"
	"github.com/pauljones0/comment-harvester/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Mock implementations ---

type mockSession struct {
	id     int
	closed *atomic.Int32
}

func (m *mockSession) Navigate(context.Context, string) error      { return nil }
func (m *mockSession) Evaluate(context.Context, string, any) error { return nil }
func (m *mockSession) HTML(context.Context) (string, error)        { return "", nil }
func (m *mockSession) Title(context.Context) (string, error)       { return "", nil }
func (m *mockSession) Driver() string                              { return "mock" }
func (m *mockSession) Version() string                             { return "126.0.0.0" }
func (m *mockSession) ProfileDir() string                          { return fmt.Sprintf("/tmp/profile-%d", m.id) }
func (m *mockSession) Close() error {
	m.closed.Add(1)
	return nil
}

type mockSessions struct {
	acquired atomic.Int32
	closed   atomic.Int32
	err      error
}

func (m *mockSessions) Acquire(ctx context.Context) (browser.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	n := m.acquired.Add(1)
	return &mockSession{id: int(n), closed: &m.closed}, nil
}

type mockExpanders struct{}

func (mockExpanders) NewExpander(browser.Page) harvest.Expander { return nil }

// mockHarvester yields comments c1..cN for each video, with per-video
// overrides.
type mockHarvester struct {
	comments  int
	overrides map[string]func(ctx context.Context, t models.VideoTarget) (*harvest.Session, error)
	pages     sync.Map // video id -> page the harvest ran on
}

func (m *mockHarvester) Harvest(ctx context.Context, page harvest.Page, _ harvest.Expander, t models.VideoTarget) (*harvest.Session, error) {
	m.pages.Store(t.VideoID, page)
	if fn, ok := m.overrides[t.VideoID]; ok {
		return fn(ctx, t)
	}
	return sessionWith(t, models.TerminationStalled, m.comments), nil
}

func sessionWith(t models.VideoTarget, termination string, n int) *harvest.Session {
	s := harvest.NewSession(t)
	var records []models.CommentRecord
	for i := 1; i <= n; i++ {
		records = append(records, models.CommentRecord{ID: fmt.Sprintf("c%d", i), Author: "@a", Text: "x"})
	}
	s.Accumulator.Fold(records)
	s.Cycle = 1
	s.Termination = termination
	return s
}

type mockWriter struct {
	mu        sync.Mutex
	artifacts map[string]*models.OutputArtifact
	completed map[string]bool
	flushErr  error
}

func newMockWriter() *mockWriter {
	return &mockWriter{artifacts: map[string]*models.OutputArtifact{}, completed: map[string]bool{}}
}

func (m *mockWriter) Flush(t models.VideoTarget, a *models.OutputArtifact) (string, error) {
	if m.flushErr != nil {
		return "", m.flushErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[t.VideoID] = a
	return "/out/" + t.VideoID + ".json", nil
}

func (m *mockWriter) Completed(t models.VideoTarget) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed[t.VideoID]
}

type mockMirror struct {
	mu    sync.Mutex
	saved []string
}

func (m *mockMirror) SaveArtifact(_ context.Context, a *models.OutputArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, a.Meta.VideoID)
	return nil
}

type mockNotifier struct {
	summaries []*models.RunSummary
	err       error
}

func (m *mockNotifier) SendSummary(_ context.Context, s *models.RunSummary) error {
	m.summaries = append(m.summaries, s)
	return m.err
}

func makeTargets(n int) []models.VideoTarget {
	var targets []models.VideoTarget
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("video%06d", i)
		targets = append(targets, models.VideoTarget{
			VideoID: id,
			URL:     "https://www.youtube.com/watch?v=" + id,
			Index:   i,
		})
	}
	return targets
}

func newTestPipeline(sessions SessionFactory, h Harvester, w ArtifactWriter, workers int, resume bool) *Pipeline {
	cfg := &config.Config{Workers: workers, Resume: resume}
	return New(sessions, mockExpanders{}, h, w, cfg)
}

// --- Tests ---

func TestRun_AllComplete(t *testing.T) {
	sessions := &mockSessions{}
	writer := newMockWriter()
	p := newTestPipeline(sessions, &mockHarvester{comments: 3}, writer, 2, false)

	summary, err := p.Run(context.Background(), makeTargets(3))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	complete, partial, skipped := summary.Counts()
	if complete != 3 || partial != 0 || skipped != 0 {
		t.Errorf("Counts() = %d/%d/%d, want 3/0/0", complete, partial, skipped)
	}
	if summary.TotalComments() != 9 {
		t.Errorf("TotalComments() = %d, want 9", summary.TotalComments())
	}
	for id, a := range writer.artifacts {
		if a.Meta.RunID != summary.RunID || a.Meta.Driver != "mock" || a.Meta.BrowserVersion != "126.0.0.0" {
			t.Errorf("artifact %s missing run metadata: %+v", id, a.Meta)
		}
	}
	if got := sessions.acquired.Load(); got > 2 {
		t.Errorf("Expected at most one session per worker, acquired %d", got)
	}
	if sessions.closed.Load() != sessions.acquired.Load() {
		t.Errorf("every session must be released: acquired %d closed %d", sessions.acquired.Load(), sessions.closed.Load())
	}
}

func TestRun_BridgeFailureKeepsEarlierArtifacts(t *testing.T) {
	targets := makeTargets(4)
	failing := targets[2].VideoID

	sessions := &mockSessions{}
	writer := newMockWriter()
	h := &mockHarvester{
		comments: 2,
		overrides: map[string]func(context.Context, models.VideoTarget) (*harvest.Session, error){
			failing: func(_ context.Context, t models.VideoTarget) (*harvest.Session, error) {
				s := sessionWith(t, models.TerminationBridgeFailed, 1)
				return s, fmt.Errorf("%w: no pong", models.ErrBridgeUnavailable)
			},
		},
	}
	p := newTestPipeline(sessions, h, writer, 1, false)

	summary, err := p.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("bridge failure must not abort the run, got %v", err)
	}

	wantStatus := []string{models.StatusComplete, models.StatusComplete, models.StatusPartial, models.StatusComplete}
	for i, r := range summary.Results {
		if r.Status != wantStatus[i] {
			t.Errorf("result %d status = %s, want %s", i, r.Status, wantStatus[i])
		}
	}

	a := writer.artifacts[failing]
	if a == nil || !a.Meta.Partial || a.Meta.TotalCount != 1 {
		t.Fatalf("Expected a partial artifact with 1 comment for %s, got %+v", failing, a)
	}
	if len(writer.artifacts) != 4 {
		t.Errorf("Expected 4 artifacts, got %d", len(writer.artifacts))
	}

	if sessions.acquired.Load() != 2 {
		t.Errorf("session should be replaced after a bridge failure, acquired %d", sessions.acquired.Load())
	}
	before, _ := h.pages.Load(targets[1].VideoID)
	after, _ := h.pages.Load(targets[3].VideoID)
	if before == after {
		t.Error("video after the bridge failure should run on a fresh session")
	}
}

func TestRun_EnvironmentMismatchAborts(t *testing.T) {
	sessions := &mockSessions{err: fmt.Errorf("%w: chrome 120, driver wants 126", models.ErrEnvironmentMismatch)}
	writer := newMockWriter()
	notif := &mockNotifier{}
	p := newTestPipeline(sessions, &mockHarvester{}, writer, 2, false).WithNotifier(notif)

	summary, err := p.Run(context.Background(), makeTargets(3))
	if !errors.Is(err, models.ErrEnvironmentMismatch) {
		t.Fatalf("Expected ErrEnvironmentMismatch, got %v", err)
	}
	if len(writer.artifacts) != 0 {
		t.Errorf("no artifacts should be written, got %d", len(writer.artifacts))
	}
	if _, _, skipped := summary.Counts(); skipped != 3 {
		t.Errorf("Expected all 3 targets skipped, got %d", skipped)
	}
	if summary.Aborted == "" {
		t.Error("summary should record why the run aborted")
	}
	if len(notif.summaries) != 1 {
		t.Error("summary should still be sent after an abort")
	}
}

func TestRun_StartupFailureAborts(t *testing.T) {
	sessions := &mockSessions{err: fmt.Errorf("%w: exec: chrome not found", models.ErrStartup)}
	p := newTestPipeline(sessions, &mockHarvester{}, newMockWriter(), 1, false)

	if _, err := p.Run(context.Background(), makeTargets(2)); !errors.Is(err, models.ErrStartup) {
		t.Fatalf("Expected ErrStartup, got %v", err)
	}
}

func TestRun_ResumeSkipsCompleted(t *testing.T) {
	targets := makeTargets(2)
	writer := newMockWriter()
	writer.completed[targets[0].VideoID] = true
	sessions := &mockSessions{}

	p := newTestPipeline(sessions, &mockHarvester{comments: 1}, writer, 1, true)
	summary, err := p.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Results[0].Status != models.StatusSkipped || summary.Results[0].Reason != "already harvested" {
		t.Errorf("first target should be skipped, got %+v", summary.Results[0])
	}
	if summary.Results[1].Status != models.StatusComplete {
		t.Errorf("second target should complete, got %+v", summary.Results[1])
	}
	if _, ok := writer.artifacts[targets[0].VideoID]; ok {
		t.Error("completed target must not be rewritten")
	}
}

func TestRun_CancelFlushesPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	targets := makeTargets(3)
	h := &mockHarvester{
		comments: 2,
		overrides: map[string]func(context.Context, models.VideoTarget) (*harvest.Session, error){
			targets[0].VideoID: func(ctx context.Context, t models.VideoTarget) (*harvest.Session, error) {
				s := sessionWith(t, models.TerminationInterrupted, 5)
				s.Interrupted = true
				cancel()
				return s, ctx.Err()
			},
		},
	}
	writer := newMockWriter()
	sessions := &mockSessions{}
	p := newTestPipeline(sessions, h, writer, 1, false)

	summary, err := p.Run(ctx, targets)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	a := writer.artifacts[targets[0].VideoID]
	if a == nil || !a.Meta.Partial || a.Meta.TotalCount != 5 {
		t.Fatalf("interrupted video should be flushed as partial, got %+v", a)
	}
	if summary.Results[1].Status != models.StatusSkipped || summary.Results[2].Status != models.StatusSkipped {
		t.Errorf("videos after the stop should be skipped, got %+v", summary.Results[1:])
	}
	if sessions.closed.Load() != sessions.acquired.Load() {
		t.Error("sessions must be released after cancellation")
	}
}

func TestRun_InvalidArtifactIsSkipped(t *testing.T) {
	writer := newMockWriter()
	writer.flushErr = fmt.Errorf("%w: duplicate id", models.ErrArtifactInvalid)
	p := newTestPipeline(&mockSessions{}, &mockHarvester{comments: 1}, writer, 1, false)

	summary, err := p.Run(context.Background(), makeTargets(1))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Results[0].Status != models.StatusSkipped {
		t.Errorf("Expected skipped, got %+v", summary.Results[0])
	}
}

func TestRun_MirrorAndNotifier(t *testing.T) {
	mirror := &mockMirror{}
	notif := &mockNotifier{err: errors.New("webhook down")}
	p := newTestPipeline(&mockSessions{}, &mockHarvester{comments: 1}, newMockWriter(), 2, false).
		WithMirror(mirror).
		WithNotifier(notif)

	summary, err := p.Run(context.Background(), makeTargets(3))
	if err != nil {
		t.Fatalf("notifier failure must not fail the run, got %v", err)
	}
	if len(mirror.saved) != 3 {
		t.Errorf("Expected 3 mirrored artifacts, got %d", len(mirror.saved))
	}
	if len(notif.summaries) != 1 || notif.summaries[0] != summary {
		t.Error("Expected the run summary to be sent once")
	}
}

func TestRun_NoTargets(t *testing.T) {
	sessions := &mockSessions{}
	p := newTestPipeline(sessions, &mockHarvester{}, newMockWriter(), 4, false)

	summary, err := p.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.Results) != 0 || sessions.acquired.Load() != 0 {
		t.Error("empty run should not start a browser")
	}
}

func TestRunEntries_CountsRejectedInputs(t *testing.T) {
	notif := &mockNotifier{}
	p := newTestPipeline(&mockSessions{}, &mockHarvester{comments: 1}, newMockWriter(), 1, false).WithNotifier(notif)

	entries := ingest.EntriesFromURLs([]string{
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"not a url",
		"https://www.youtube.com/shorts/9bZkp7q19f0",
	})
	summary, err := p.RunEntries(context.Background(), entries, ingest.Options{})
	if err != nil {
		t.Fatalf("RunEntries() error = %v", err)
	}
	if summary.InputSkipped != 2 {
		t.Errorf("InputSkipped = %d, want 2", summary.InputSkipped)
	}
	if len(summary.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(summary.Results))
	}
	if summary.Results[0].VideoID != "dQw4w9WgXcQ" || summary.Results[1].VideoID != "9bZkp7q19f0" {
		t.Errorf("Unexpected result order: %+v", summary.Results)
	}
	if len(notif.summaries) != 1 || notif.summaries[0].InputSkipped != 2 {
		t.Error("Expected the notifier to see the rejected input count")
	}
}
