package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"shopflow/internal/config"
	"shopflow/internal/db"
	"shopflow/internal/engine"
	"shopflow/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

const testJWTSecret = "test-secret"

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
			DevLoginEnabled:        true,
		},
	})
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

func bearer(t *testing.T, userID string, admin bool) map[string]string {
	t.Helper()
	token, err := signDevToken(testJWTSecret, userID, admin)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error
}

func createProject(t *testing.T, srv *testServer, headers map[string]string) ProjectResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"name": "Line 1",
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	return p
}

func statusByName(t *testing.T, srv *testServer, headers map[string]string, projectID, name string) StatusResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/statuses", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list statuses: %d %s", res.StatusCode, string(data))
	}
	var statuses []StatusResponse
	if err := json.Unmarshal(data, &statuses); err != nil {
		t.Fatalf("unmarshal statuses: %v", err)
	}
	for _, s := range statuses {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("status %q not found", name)
	return StatusResponse{}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestMissingCredentialsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "unauthorized" {
		t.Fatalf("error code = %s, want unauthorized", e.Code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "invalid_credentials" {
		t.Fatalf("error code = %s, want invalid_credentials", e.Code)
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": "alice",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("dev login returned an empty token")
	}

	headers := map[string]string{"Authorization": "Bearer " + login.Token}
	p := createProject(t, srv, headers)
	if p.OwnerID != "alice" {
		t.Fatalf("owner = %s, want alice", p.OwnerID)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := bearer(t, "alice", false)
	p := createProject(t, srv, headers)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/tasks", map[string]any{
		"title": "Weld frame",
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	backlog := statusByName(t, srv, headers, p.ID, "Backlog")
	if task.StatusID != backlog.ID {
		t.Fatalf("new task in %s, want Backlog", task.StatusID)
	}

	inProgress := statusByName(t, srv, headers, p.ID, "In Progress")
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/status", map[string]any{
		"status_id": inProgress.ID,
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move: %d %s", res.StatusCode, string(data))
	}
	var moved ChangeStatusResponse
	if err := json.Unmarshal(data, &moved); err != nil {
		t.Fatalf("unmarshal move: %v", err)
	}
	if moved.Task.StatusID != inProgress.ID || moved.Task.Version != 1 {
		t.Fatalf("moved = %+v", moved.Task)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/history", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}
	var entries []HistoryEntryResponse
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history has %d entries, want 2", len(entries))
	}
}

func TestTransitionNotAllowedMapsToConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := bearer(t, "alice", false)
	p := createProject(t, srv, headers)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/tasks", map[string]any{
		"title": "Weld frame",
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	_ = json.Unmarshal(data, &task)

	done := statusByName(t, srv, headers, p.ID, "Done")
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/status", map[string]any{
		"status_id": done.ID,
	}, headers)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "transition_not_allowed" {
		t.Fatalf("error code = %s, want transition_not_allowed", e.Code)
	}
}

func TestNonMemberGetsForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := bearer(t, "alice", false)
	p := createProject(t, srv, owner)

	stranger := bearer(t, "bob", false)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/tasks", nil, stranger)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	e := decodeError(t, data)
	if e.Code != "forbidden" {
		t.Fatalf("error code = %s, want forbidden", e.Code)
	}
	if e.Details["reason"] != "no_project_access" {
		t.Fatalf("details = %v, want reason no_project_access", e.Details)
	}
}

func TestAdminTokenBypassesMembership(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := bearer(t, "alice", false)
	p := createProject(t, srv, owner)

	admin := bearer(t, "root", true)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/tasks", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin list tasks: %d %s", res.StatusCode, string(data))
	}
}

func TestStatusInUseMapsToConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := bearer(t, "alice", false)
	p := createProject(t, srv, headers)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/tasks", map[string]any{
		"title": "Weld frame",
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}

	backlog := statusByName(t, srv, headers, p.ID, "Backlog")
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/statuses/"+backlog.ID, nil, headers)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	e := decodeError(t, data)
	if e.Code != "status_in_use" {
		t.Fatalf("error code = %s, want status_in_use", e.Code)
	}
	if e.Details["task_count"] != float64(1) {
		t.Fatalf("details = %v, want task_count 1", e.Details)
	}
}

func TestApprovalQuorumEndpointReportsAutoMove(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := bearer(t, "alice", false)
	p := createProject(t, srv, headers)

	inReview := statusByName(t, srv, headers, p.ID, "In Review")
	inProgress := statusByName(t, srv, headers, p.ID, "In Progress")
	done := statusByName(t, srv, headers, p.ID, "Done")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/transitions", map[string]any{
		"from_status_id":     inReview.ID,
		"to_status_id":       done.ID,
		"name":               "Auto close on sign-off",
		"required_approvals": 1,
		"auto_transition":    true,
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create transition: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/tasks", map[string]any{
		"title": "Weld frame",
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	_ = json.Unmarshal(data, &task)
	for _, statusID := range []string{inProgress.ID, inReview.ID} {
		res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/status", map[string]any{
			"status_id": statusID,
		}, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("move: %d %s", res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/approvals", map[string]any{
		"comment": "looks good",
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var approved AddApprovalResponse
	if err := json.Unmarshal(data, &approved); err != nil {
		t.Fatalf("unmarshal approval: %v", err)
	}
	if !approved.AutoTriggered {
		t.Fatal("expected the approval to trigger the automatic transition")
	}
	if approved.Task.StatusID != done.ID {
		t.Fatalf("task in %s, want Done", approved.Task.StatusID)
	}
}

func TestLegacyActorHeaderStillWorks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	p := createProject(t, srv, map[string]string{"X-Actor-Id": "legacy-user"})
	if p.OwnerID != "legacy-user" {
		t.Fatalf("owner = %s, want legacy-user", p.OwnerID)
	}

	// A bearer token on the same request wins over the legacy header.
	headers := bearer(t, "alice", false)
	headers["X-Actor-Id"] = "legacy-user"
	p = createProject(t, srv, headers)
	if p.OwnerID != "alice" {
		t.Fatalf("owner = %s, want alice", p.OwnerID)
	}
}

func TestProjectSummary(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := bearer(t, "alice", false)
	p := createProject(t, srv, headers)

	for _, title := range []string{"Weld frame", "Paint body"} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/tasks", map[string]any{
			"title": title,
		}, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("create task: %d %s", res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/summary", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary: %d %s", res.StatusCode, string(data))
	}
	var summary SummaryResponse
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.OpenTasks == nil || *summary.OpenTasks != 2 {
		t.Fatalf("open tasks = %v, want 2", summary.OpenTasks)
	}
	if summary.StatusCount == nil || *summary.StatusCount != 5 {
		t.Fatalf("status count = %v, want 5", summary.StatusCount)
	}
	backlog := statusByName(t, srv, headers, p.ID, "Backlog")
	if summary.TasksByState[backlog.ID] != 2 {
		t.Fatalf("tasks by status = %v", summary.TasksByState)
	}
}
