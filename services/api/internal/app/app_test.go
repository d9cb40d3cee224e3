package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"buglens/pkg/ai"
	"buglens/pkg/domain"
	"buglens/pkg/events"
	"buglens/pkg/mail"
	"buglens/pkg/queue"
	"buglens/pkg/store"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type fakeAnalyzer struct {
	mu     sync.Mutex
	result ai.Result
	err    error
	calls  int
	inputs [][3]string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, language, errorLogs, sourceCode string) (ai.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, [3]string{language, errorLogs, sourceCode})
	if f.err != nil {
		return ai.Result{}, f.err
	}
	return f.result, nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.PasswordReset
	err  error
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, msg mail.PasswordReset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type recordingQueue struct {
	jobs []queue.JobStatus
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, kind string, payload any) (queue.JobStatus, error) {
	if q.err != nil {
		return queue.JobStatus{}, q.err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return queue.JobStatus{}, err
	}
	job := queue.JobStatus{ID: "job-1", Kind: kind, Payload: raw, Status: queue.StatusQueued}
	q.jobs = append(q.jobs, job)
	return job, nil
}

type recordingPublisher struct {
	events []events.AnalysisCompleted
	err    error
}

func (p *recordingPublisher) PublishAnalysisCompleted(_ context.Context, ev events.AnalysisCompleted) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

type recordingArchive struct {
	archived []domain.Analysis
	err      error
}

func (r *recordingArchive) Archive(_ context.Context, a domain.Analysis) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.archived = append(r.archived, a)
	return "analyses/" + a.ID + ".json.zst", nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	app      *App
	store    *store.MemoryStore
	sessions *store.JWTSessionStore
	analyzer *fakeAnalyzer
	mailer   *recordingMailer
	clock    *testClock
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	sessions, err := store.NewJWTHS256SessionStore(testJWTSecret, time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	env := &testEnv{
		store:    store.NewMemoryStore(),
		sessions: sessions,
		analyzer: &fakeAnalyzer{result: ai.Result{
			RootCause:     "nil list",
			Explanation:   "_users is never initialised",
			SuggestedFix:  "initialise the list",
			CorrectedCode: "private List<User> _users = new();",
			Model:         "gemini-2.5-flash",
			Attempts:      1,
		}},
		mailer: &recordingMailer{},
		clock:  &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
	}
	cfg := Config{
		Store:       env.store,
		Sessions:    env.sessions,
		Analyzer:    env.analyzer,
		Mailer:      env.mailer,
		FrontendURL: "http://localhost:5500",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         env.clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

func (e *testEnv) register(t *testing.T, email, password string) AuthResult {
	t.Helper()
	res, err := e.app.Register(context.Background(), RegisterInput{
		FullName:        "Test Developer",
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return res
}

func TestNewRequiresDependencies(t *testing.T) {
	sessions, err := store.NewJWTHS256SessionStore(testJWTSecret, time.Hour, nil, store.JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	cases := map[string]Config{
		"store":    {Sessions: sessions, Analyzer: &fakeAnalyzer{}},
		"sessions": {Store: store.NewMemoryStore(), Analyzer: &fakeAnalyzer{}},
		"analyzer": {Store: store.NewMemoryStore(), Sessions: sessions},
	}
	for name, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Fatalf("missing %s: expected error", name)
		}
	}
}

type listerFunc func(context.Context) ([]string, error)

func (f listerFunc) ListModels(ctx context.Context) ([]string, error) { return f(ctx) }

func TestListModels(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.app.ListModels(context.Background()); !errors.Is(err, ErrModelsUnavailable) {
		t.Fatalf("expected ErrModelsUnavailable, got %v", err)
	}

	env = newTestEnv(t, func(c *Config) {
		c.Models = listerFunc(func(context.Context) ([]string, error) {
			return []string{"gemini-2.5-flash", "gemini-2.5-pro"}, nil
		})
	})
	models, err := env.app.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 2 || models[0] != "gemini-2.5-flash" {
		t.Fatalf("unexpected models %v", models)
	}
}
