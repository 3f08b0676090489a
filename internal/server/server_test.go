package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/michaelbrown/runbox/internal/config"
	"github.com/michaelbrown/runbox/internal/metrics"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/storage"
	"github.com/michaelbrown/runbox/internal/storage/sqlite"
)

// fakeSandbox returns a canned result or error and counts calls.
type fakeSandbox struct {
	mu    sync.Mutex
	calls int
	res   *sandbox.Result
	err   error
	panic bool
}

func (f *fakeSandbox) Run(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panic {
		panic("sandbox exploded")
	}
	return f.res, f.err
}

type envelope struct {
	Code    int                  `json:"code"`
	Message string               `json:"message"`
	Data    json.RawMessage      `json:"data"`
	Details []sandbox.FieldError `json:"details"`
}

type runData struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error"`
}

func testServer(t *testing.T, sb sandbox.Sandbox, history storage.Store) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Sandbox.WorkDir = t.TempDir()
	return New(cfg, sb, history, metrics.New(), zap.NewNop())
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func runBody(language, code, preload string) string {
	b, _ := json.Marshal(map[string]any{
		"language":       language,
		"code":           code,
		"preload":        preload,
		"enable_network": false,
	})
	return string(b)
}

func TestHome(t *testing.T) {
	s := testServer(t, &fakeSandbox{}, nil)

	rec, _ := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
}

func TestRunSuccess(t *testing.T) {
	fake := &fakeSandbox{res: &sandbox.Result{Stdout: "hi\n", ID: "id-1"}}
	s := testServer(t, fake, nil)

	rec, env := do(t, s, http.MethodPost, "/v1/sandbox/run", runBody("python3", "print('hi')", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, CodeOK, env.Code)
	assert.Equal(t, "ok", env.Message)
	assert.JSONEq(t, `{"stdout":"hi\n","stderr":"","error":""}`, string(env.Data))
	assert.Nil(t, env.Details)
}

func TestRunUnsupportedLanguage(t *testing.T) {
	for _, lang := range []string{"javascript", "", "py", "ruby"} {
		fake := &fakeSandbox{}
		s := testServer(t, fake, nil)

		rec, env := do(t, s, http.MethodPost, "/v1/sandbox/run", runBody(lang, "print(1)", ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code, lang)
		assert.Equal(t, CodeError, env.Code)
		assert.Equal(t, "Unsupported language", env.Message)
		assert.Empty(t, env.Details)
		assert.Equal(t, 0, fake.calls, "sandbox must not run for %q", lang)
	}
}

func TestRunInvalidRequest(t *testing.T) {
	bodies := []string{
		``,
		`not json`,
		`{}`,
		`{"language":"python","code":"print(1)","preload":""}`,
		`{"language":"python","code":5,"preload":"","enable_network":false}`,
		`{"language":"python","code":"","preload":"","enable_network":"no"}`,
		`["python"]`,
	}

	for _, body := range bodies {
		fake := &fakeSandbox{}
		s := testServer(t, fake, nil)

		rec, env := do(t, s, http.MethodPost, "/v1/sandbox/run", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, CodeError, env.Code)
		assert.Equal(t, "Invalid request data", env.Message)
		assert.NotEmpty(t, env.Details, body)
		assert.Equal(t, 0, fake.calls)
	}
}

func TestRunValidationBeforeLanguage(t *testing.T) {
	s := testServer(t, &fakeSandbox{}, nil)

	// Wrong language and a missing field: schema failure wins.
	rec, env := do(t, s, http.MethodPost, "/v1/sandbox/run", `{"language":"ruby","code":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request data", env.Message)
	assert.Len(t, env.Details, 2)
}

func TestRunTimeout(t *testing.T) {
	fake := &fakeSandbox{err: &sandbox.Error{Kind: sandbox.KindTimeout, Msg: "execution exceeded 10s"}}
	s := testServer(t, fake, nil)

	rec, env := do(t, s, http.MethodPost, "/v1/sandbox/run", runBody("python", "while True: pass", ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeError, env.Code)
	assert.Equal(t, "Code execution timeout", env.Message)
	assert.Empty(t, env.Data)
}

func TestRunInternalError(t *testing.T) {
	fake := &fakeSandbox{err: errors.New(`exec: "python3": executable file not found in $PATH`)}
	s := testServer(t, fake, nil)

	rec, env := do(t, s, http.MethodPost, "/v1/sandbox/run", runBody("python", "print(1)", ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeError, env.Code)
	assert.Equal(t, `exec: "python3": executable file not found in $PATH`, env.Message)
}

func TestRunPanicReturnsEnvelope(t *testing.T) {
	s := testServer(t, &fakeSandbox{panic: true}, nil)

	rec, env := do(t, s, http.MethodPost, "/v1/sandbox/run", runBody("python", "print(1)", ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeError, env.Code)
	assert.Equal(t, "Internal server error", env.Message)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRecovererRepanicsAbort(t *testing.T) {
	s := testServer(t, &fakeSandbox{}, nil)
	h := s.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind   sandbox.ErrorKind
		status int
		msg    string
	}{
		{sandbox.KindValidation, 400, "Invalid request data"},
		{sandbox.KindUnsupportedLanguage, 400, "Unsupported language"},
		{sandbox.KindTimeout, 500, "Code execution timeout"},
		{sandbox.KindInternal, 500, ""},
	}
	for _, tt := range tests {
		status, msg := statusFor(tt.kind)
		assert.Equal(t, tt.status, status, tt.kind.String())
		assert.Equal(t, tt.msg, msg, tt.kind.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	s := testServer(t, &fakeSandbox{}, nil)

	rec, env := do(t, s, http.MethodGet, "/v2/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeError, env.Code)

	rec, _ = do(t, s, http.MethodGet, "/v1/sandbox/run", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t, &fakeSandbox{res: &sandbox.Result{}}, nil)
	do(t, s, http.MethodGet, "/", "")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), `runbox_http_requests_total{method="GET",route="/",status="200"} 1`)
}

// --- History ---

func historyStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHistoryDisabled(t *testing.T) {
	s := testServer(t, &fakeSandbox{}, nil)

	rec, env := do(t, s, http.MethodGet, "/v1/sandbox/executions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Execution history is disabled", env.Message)

	rec, _ = do(t, s, http.MethodGet, "/v1/sandbox/executions/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryRecordsExecutions(t *testing.T) {
	store := historyStore(t)
	fake := &fakeSandbox{res: &sandbox.Result{ID: "run-0001", ExitCode: 1, Stderr: "x", Error: "x"}}
	s := testServer(t, fake, store)

	do(t, s, http.MethodPost, "/v1/sandbox/run", runBody("python3", "raise SystemExit(1)", "import os"))

	fake.res, fake.err = nil, &sandbox.Error{Kind: sandbox.KindTimeout}
	do(t, s, http.MethodPost, "/v1/sandbox/run", runBody("python3", "while True: pass", ""))

	// Rejected requests are never recorded.
	do(t, s, http.MethodPost, "/v1/sandbox/run", runBody("perl", "print 1", ""))
	do(t, s, http.MethodPost, "/v1/sandbox/run", `{}`)

	rec, env := do(t, s, http.MethodGet, "/v1/sandbox/executions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var execs []storage.Execution
	require.NoError(t, json.Unmarshal(env.Data, &execs))
	require.Len(t, execs, 2)

	rec, env = do(t, s, http.MethodGet, "/v1/sandbox/executions/run-0001", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var e storage.Execution
	require.NoError(t, json.Unmarshal(env.Data, &e))
	assert.Equal(t, storage.OutcomeFailed, e.Outcome)
	assert.Equal(t, 1, e.ExitCode)
	assert.Equal(t, len("import os")+len("raise SystemExit(1)"), e.CodeBytes)

	rec, env = do(t, s, http.MethodGet, "/v1/sandbox/executions?outcome=timeout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &execs))
	require.Len(t, execs, 1)
	assert.Equal(t, -1, execs[0].ExitCode)

	rec, _ = do(t, s, http.MethodGet, "/v1/sandbox/executions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- End to end with a real interpreter ---

func e2eServer(t *testing.T, timeout time.Duration) (*Server, string) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not found in PATH")
	}

	cfg := config.Default()
	cfg.Sandbox.WorkDir = t.TempDir()
	cfg.Sandbox.Timeout = timeout

	collector := metrics.New()
	sb := sandbox.NewLocalSandbox(PolicyFromConfig(cfg), sandbox.WithObserver(collector))
	return New(cfg, sb, nil, collector, zap.NewNop()), cfg.Sandbox.WorkDir
}

func decodeRun(t *testing.T, env envelope) runData {
	t.Helper()
	var data runData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data
}

func TestE2EPreloadRoundTrip(t *testing.T) {
	s, _ := e2eServer(t, 10*time.Second)

	rec, env := do(t, s, http.MethodPost, "/v1/sandbox/run", runBody("Python3", "print(x)", "x = 1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, CodeOK, env.Code)

	data := decodeRun(t, env)
	assert.Equal(t, "1\n", data.Stdout)
	assert.Equal(t, "", data.Error)
}

func TestE2EStderrOnFailure(t *testing.T) {
	s, _ := e2eServer(t, 10*time.Second)

	code := "import sys\nsys.stderr.write('bad input')\nsys.exit(1)"
	rec, env := do(t, s, http.MethodPost, "/v1/sandbox/run", runBody("python", code, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeRun(t, env)
	assert.Equal(t, "bad input", data.Stderr)
	assert.Equal(t, "bad input", data.Error)
}

func TestE2ETimeoutCleansWorkspace(t *testing.T) {
	s, workDir := e2eServer(t, 500*time.Millisecond)

	rec, env := do(t, s, http.MethodPost, "/v1/sandbox/run", runBody("python", "while True:\n    pass", ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeError, env.Code)
	assert.Equal(t, "Code execution timeout", env.Message)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestE2EConcurrentRequests(t *testing.T) {
	s, workDir := e2eServer(t, 10*time.Second)

	const n = 6
	code := "import os\nprint(len(os.listdir('.')))"
	var wg sync.WaitGroup
	results := make([]runData, n)
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/v1/sandbox/run", bytes.NewBufferString(runBody("python", code, "")))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			statuses[i] = rec.Code

			var env envelope
			if json.Unmarshal(rec.Body.Bytes(), &env) == nil {
				json.Unmarshal(env.Data, &results[i])
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, http.StatusOK, statuses[i])
		assert.Equal(t, "1\n", results[i].Stdout, "each workspace holds only its own script")
	}

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStartAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	s := New(cfg, &fakeSandbox{}, nil, metrics.New(), zap.NewNop())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	url := "http://" + cfg.Addr() + "/"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, <-errCh)
}

func TestShutdownBeforeStart(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	s := New(cfg, &fakeSandbox{}, nil, metrics.New(), zap.NewNop())

	require.NoError(t, s.Shutdown(context.Background()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}

	_, err := http.Get("http://" + cfg.Addr() + "/")
	assert.Error(t, err)
}
