package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"verdict/internal/config"
	"verdict/internal/db"
	"verdict/internal/engine"
	"verdict/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("verdict")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.CreateProject(context.Background(), cfg.Project.ID, "tester", "Verdict", "", "tester"); err != nil {
		t.Fatalf("create project: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{
		JWTSecret:             "test-secret",
		AllowLegacyUserHeader: true,
	}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/projects", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/auth/dev/login",
		bytes.NewReader([]byte(`{"user_id":"tester"}`)))
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("bad login body: %v %s", err, string(data))
	}

	authed, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/projects", nil)
	authed.Header.Set("Authorization", "Bearer "+login.Token)
	res2, err := client.Do(authed)
	if err != nil {
		t.Fatal(err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("token rejected: %d", res2.StatusCode)
	}
}

func TestDecisionLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/verdict/decisions", map[string]any{
		"title":      "Adopt dark mode",
		"type":       "feature",
		"importance": "low",
	}, nil)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create decision status %d: %s", createRes.StatusCode, string(data))
	}
	var created DecisionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if created.Status != "proposed" {
		t.Fatalf("status=%s", created.Status)
	}

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/verdict/decisions/"+created.ID+"/approve", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(body))
	}
	var approved DecisionResponse
	_ = json.Unmarshal(body, &approved)
	if approved.Status != "approved" {
		t.Fatalf("status=%s", approved.Status)
	}

	// re-approving an approved decision conflicts
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/verdict/decisions/"+created.ID+"/approve", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/verdict/decisions/"+created.ID+"/implement", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("implement status %d: %s", res.StatusCode, string(body))
	}
}

func TestAssessmentEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/verdict/decisions", map[string]any{
		"title":      "Rewrite storage layer",
		"type":       "technical",
		"importance": "critical",
	}, nil)
	var created DecisionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/verdict/decisions/"+created.ID+"/assessment", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assessment status %d: %s", res.StatusCode, string(body))
	}
	var assessment AssessmentResponse
	if err := json.Unmarshal(body, &assessment); err != nil {
		t.Fatalf("unmarshal assessment: %v", err)
	}
	if assessment.RiskLevel != "critical" {
		t.Fatalf("risk_level=%s", assessment.RiskLevel)
	}
	if assessment.AutoExecutable {
		t.Fatalf("critical decision must not be auto-executable")
	}
	if assessment.Reason != "importance requires review" {
		t.Fatalf("reason=%q", assessment.Reason)
	}
}

func TestAutoExecutionRunOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/verdict/decisions", map[string]any{
		"title":      "Enable compression",
		"type":       "feature",
		"importance": "low",
	}, nil)
	var created DecisionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auto-execution/run", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run status %d: %s", res.StatusCode, string(body))
	}
	var result engine.BatchResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Executed != 1 || result.Failed != 0 {
		t.Fatalf("result %+v", result)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/verdict/decisions/"+created.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get decision status %d: %s", res.StatusCode, string(body))
	}
	var after DecisionResponse
	_ = json.Unmarshal(body, &after)
	if after.Status != "approved" || after.ApprovedBy == nil || *after.ApprovedBy != "auto-executor" {
		t.Fatalf("decision after run: %+v", after)
	}
}

func TestPhaseCheckBlockedByProposedDecision(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/verdict/decisions", map[string]any{
		"title": "Pick a queue library",
	}, nil)

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/verdict/phase-check", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("phase check status %d: %s", res.StatusCode, string(body))
	}
	var check PhaseCheckResponse
	if err := json.Unmarshal(body, &check); err != nil {
		t.Fatalf("unmarshal check: %v", err)
	}
	if check.ShouldTransition {
		t.Fatalf("proposed decision must block transition: %+v", check)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/verdict/phase-advance", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(body))
	}
}

func TestUserConfigRejectsHighRiskCap(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPut, srv.URL+"/v0/me/config", map[string]any{
		"project": map[string]any{"id": "verdict"},
		"auto_execution": map[string]any{
			"enabled":        true,
			"max_risk_level": "high",
			"allowed_types":  []string{"feature"},
		},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(body))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/me/api-keys", map[string]any{
		"name": "ci",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(body))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(body, &key); err != nil || key.Key == "" {
		t.Fatalf("bad key body: %v %s", err, string(body))
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/projects", nil)
	req.Header.Set("X-Api-Key", key.Key)
	res2, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("api key rejected: %d", res2.StatusCode)
	}
}
