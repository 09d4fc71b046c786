package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bugtrail/internal/config"
	"bugtrail/internal/db"
	"bugtrail/internal/domain"
	"bugtrail/internal/engine"
	"bugtrail/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()

	Admin, Tester, Dev domain.User
	Project            domain.Project
}

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(conn, config.Default(), nil, logger)

	ctx := context.Background()
	srv := &testServer{Engine: e, client: &http.Client{}}
	srv.Admin, err = e.RegisterUser(ctx, "ada", "ada@example.com", "ADMIN")
	require.NoError(t, err)
	srv.Tester, err = e.RegisterUser(ctx, "tess", "tess@example.com", "TESTER")
	require.NoError(t, err)
	srv.Dev, err = e.RegisterUser(ctx, "dave", "dave@example.com", "DEVELOPER")
	require.NoError(t, err)
	srv.Project, err = e.CreateProject(ctx, srv.Admin.ID, "Payments", "")
	require.NoError(t, err)
	for _, u := range []domain.User{srv.Tester, srv.Dev} {
		_, err := e.AddProjectMember(ctx, srv.Admin.ID, srv.Project.ID, u.ID)
		require.NoError(t, err)
	}

	if auth.JWTSecret == "" {
		auth.JWTSecret = testSecret
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: auth, Logger: logger})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	hs := &http.Server{Handler: handler}
	go hs.Serve(ln)
	srv.URL = "http://" + ln.Addr().String() + "/v1"
	srv.close = func() {
		hs.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	}
	t.Cleanup(srv.close)
	return srv
}

func bearer(t *testing.T, u domain.User) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, u.ID, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func (s *testServer) do(t *testing.T, method, route string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+route, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func requireStatus(t *testing.T, res *http.Response, body []byte, status int) {
	t.Helper()
	require.Equal(t, status, res.StatusCode, string(body))
}

func requireError(t *testing.T, res *http.Response, body []byte, status int, code string) {
	t.Helper()
	requireStatus(t, res, body, status)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	assert.Equal(t, code, env.Error.Code)
	assert.NotEmpty(t, env.Error.Message)
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func TestHealthAndAuthentication(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})

	res, body := srv.do(t, http.MethodGet, "/health", nil, nil)
	requireStatus(t, res, body, http.StatusOK)

	res, body = srv.do(t, http.MethodGet, "/bugs", nil, nil)
	requireError(t, res, body, http.StatusUnauthorized, "unauthorized")

	res, body = srv.do(t, http.MethodGet, "/bugs", nil, map[string]string{"Authorization": "Bearer nope"})
	requireError(t, res, body, http.StatusUnauthorized, "invalid_credentials")

	forged, err := SignToken("other-secret", srv.Admin.ID, time.Hour)
	require.NoError(t, err)
	res, body = srv.do(t, http.MethodGet, "/bugs", nil, map[string]string{"Authorization": "Bearer " + forged})
	requireError(t, res, body, http.StatusUnauthorized, "invalid_credentials")

	res, body = srv.do(t, http.MethodGet, "/bugs", nil, map[string]string{"X-Actor-Id": strconv.FormatInt(srv.Admin.ID, 10)})
	requireError(t, res, body, http.StatusUnauthorized, "unauthorized")

	res, body = srv.do(t, http.MethodGet, "/me", nil, bearer(t, srv.Tester))
	requireStatus(t, res, body, http.StatusOK)
	assert.Equal(t, "tess", decode[domain.User](t, body).Username)

	ghost, err := SignToken(testSecret, 9999, time.Hour)
	require.NoError(t, err)
	res, body = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + ghost})
	requireError(t, res, body, http.StatusNotFound, "not_found")
}

func TestActorHeaderWhenAllowed(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowActorHeader: true})

	res, body := srv.do(t, http.MethodGet, "/me", nil, map[string]string{"X-Actor-Id": strconv.FormatInt(srv.Dev.ID, 10)})
	requireStatus(t, res, body, http.StatusOK)
	assert.Equal(t, domain.RoleDeveloper, decode[domain.User](t, body).Role)

	res, body = srv.do(t, http.MethodPost, "/auth/dev/login", map[string]any{"user_id": srv.Admin.ID}, nil)
	requireStatus(t, res, body, http.StatusOK)
	token := decode[DevLoginResponse](t, body).Token
	res, body = srv.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + token})
	requireStatus(t, res, body, http.StatusOK)
	assert.Equal(t, "ada", decode[domain.User](t, body).Username)
}

func TestRegisterUserIsPublic(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, body := srv.do(t, http.MethodPost, "/users", map[string]any{"username": "tim", "role": "TESTER"}, nil)
	requireStatus(t, res, body, http.StatusCreated)
	assert.Equal(t, domain.RoleTester, decode[domain.User](t, body).Role)

	res, body = srv.do(t, http.MethodPost, "/users", map[string]any{"username": "tim", "role": "TESTER"}, nil)
	requireError(t, res, body, http.StatusConflict, "conflict")

	res, body = srv.do(t, http.MethodGet, "/users?role=tester", nil, bearer(t, srv.Admin))
	requireStatus(t, res, body, http.StatusOK)
	assert.Len(t, decode[listUsers](t, body).Items, 2)
}

func TestBugWorkflowOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	tester, admin, dev := bearer(t, srv.Tester), bearer(t, srv.Admin), bearer(t, srv.Dev)

	res, body := srv.do(t, http.MethodPost, "/bugs", map[string]any{
		"project_id": srv.Project.ID, "title": "Checkout crashes", "priority": "high",
		"image": map[string]any{"content_type": "image/png", "data": []byte("shot")},
	}, tester)
	requireStatus(t, res, body, http.StatusCreated)
	bug := decode[domain.Bug](t, body)
	assert.Equal(t, domain.BugOpen, bug.Status)
	assert.True(t, bug.HasImage)
	bugURL := fmt.Sprintf("/bugs/%d", bug.ID)

	res, body = srv.do(t, http.MethodPost, "/bugs", map[string]any{
		"project_id": srv.Project.ID, "title": "x", "priority": "LOW",
	}, dev)
	requireError(t, res, body, http.StatusForbidden, "forbidden")

	res, body = srv.do(t, http.MethodPost, bugURL+"/assign", map[string]any{"developer_id": srv.Dev.ID}, admin)
	requireStatus(t, res, body, http.StatusOK)
	assert.Equal(t, domain.BugAssigned, decode[domain.Bug](t, body).Status)

	res, body = srv.do(t, http.MethodPost, bugURL+"/reopen", nil, tester)
	requireError(t, res, body, http.StatusConflict, "conflict")

	res, body = srv.do(t, http.MethodPost, bugURL+"/status", map[string]any{"status": "RESOLVED"}, dev)
	requireError(t, res, body, http.StatusBadRequest, "bad_request")

	res, body = srv.do(t, http.MethodPost, bugURL+"/status", map[string]any{"status": "RESOLVED", "resolution": "fixed"}, admin)
	requireError(t, res, body, http.StatusForbidden, "forbidden")

	res, body = srv.do(t, http.MethodPost, bugURL+"/status", map[string]any{"status": "resolved", "resolution": "fixed"}, dev)
	requireStatus(t, res, body, http.StatusOK)
	assert.Equal(t, domain.BugResolved, decode[domain.Bug](t, body).Status)

	res, body = srv.do(t, http.MethodPost, bugURL+"/close", map[string]any{"text": "verified"}, tester)
	requireStatus(t, res, body, http.StatusOK)
	assert.Equal(t, domain.BugClosed, decode[domain.Bug](t, body).Status)

	res, body = srv.do(t, http.MethodGet, bugURL+"/logs", nil, dev)
	requireStatus(t, res, body, http.StatusOK)
	logs := decode[listLogs](t, body).Items
	require.Len(t, logs, 4)
	assert.Equal(t, "CLOSED", logs[0].Status)
	assert.Equal(t, "OPEN", logs[3].Status)
	assert.True(t, logs[3].HasImage)

	res, body = srv.do(t, http.MethodGet, bugURL+"/image", nil, tester)
	requireStatus(t, res, body, http.StatusOK)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))
	assert.Equal(t, []byte("shot"), body)

	res, body = srv.do(t, http.MethodGet, fmt.Sprintf("/bug-logs/%d/image", logs[3].ID), nil, admin)
	requireStatus(t, res, body, http.StatusOK)
	assert.Equal(t, []byte("shot"), body)

	res, body = srv.do(t, http.MethodGet, "/bugs/4242", nil, admin)
	requireError(t, res, body, http.StatusNotFound, "not_found")
}

func TestBugListsOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	tester := bearer(t, srv.Tester)
	for _, p := range []string{"LOW", "HIGH"} {
		res, body := srv.do(t, http.MethodPost, "/bugs", map[string]any{
			"project_id": srv.Project.ID, "title": "bug " + p, "priority": p,
		}, tester)
		requireStatus(t, res, body, http.StatusCreated)
	}

	res, body := srv.do(t, http.MethodGet, "/bugs?order=priority", nil, tester)
	requireStatus(t, res, body, http.StatusOK)
	bugs := decode[listBugs](t, body).Items
	require.Len(t, bugs, 2)
	assert.Equal(t, domain.BugHigh, bugs[0].Priority)

	res, body = srv.do(t, http.MethodGet, "/bugs?order=sideways", nil, tester)
	requireError(t, res, body, http.StatusBadRequest, "bad_request")

	res, body = srv.do(t, http.MethodGet, "/bugs/breached", nil, bearer(t, srv.Dev))
	requireStatus(t, res, body, http.StatusOK)
	assert.Empty(t, decode[listBugs](t, body).Items)
}

func TestTaskWorkflowOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	tester, admin, dev := bearer(t, srv.Tester), bearer(t, srv.Admin), bearer(t, srv.Dev)

	res, body := srv.do(t, http.MethodPost, "/tasks", map[string]any{
		"project_id": srv.Project.ID, "title": "Load test", "priority": "CRITICAL",
	}, dev)
	requireStatus(t, res, body, http.StatusCreated)
	task := decode[domain.Task](t, body)
	taskURL := fmt.Sprintf("/tasks/%d", task.ID)

	res, body = srv.do(t, http.MethodPost, taskURL+"/assign", map[string]any{"tester_id": srv.Tester.ID}, dev)
	requireError(t, res, body, http.StatusForbidden, "forbidden")

	res, body = srv.do(t, http.MethodPost, taskURL+"/assign", map[string]any{"tester_id": srv.Tester.ID}, admin)
	requireStatus(t, res, body, http.StatusOK)
	assert.NotNil(t, decode[domain.Task](t, body).AssignedAt)

	res, body = srv.do(t, http.MethodPost, taskURL+"/close", map[string]any{
		"comment": "passes",
		"image":   map[string]any{"content_type": "image/png", "data": []byte("report")},
	}, tester)
	requireStatus(t, res, body, http.StatusOK)
	assert.Equal(t, domain.TaskClosed, decode[domain.Task](t, body).Status)

	res, body = srv.do(t, http.MethodPost, taskURL+"/close", nil, tester)
	requireError(t, res, body, http.StatusBadRequest, "bad_request")

	res, body = srv.do(t, http.MethodGet, taskURL+"/logs", nil, dev)
	requireStatus(t, res, body, http.StatusOK)
	logs := decode[listLogs](t, body).Items
	assert.Len(t, logs, 3)
	var closeLog domain.LogRecord
	for _, l := range logs {
		if l.Status == string(domain.TaskClosed) {
			closeLog = l
		}
	}
	require.True(t, closeLog.HasImage)

	res, body = srv.do(t, http.MethodGet, fmt.Sprintf("/task-logs/%d/image", closeLog.ID), nil, dev)
	requireStatus(t, res, body, http.StatusOK)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))
	assert.Equal(t, "report", string(body))

	res, body = srv.do(t, http.MethodGet, "/tasks", nil, tester)
	requireStatus(t, res, body, http.StatusOK)
	assert.Len(t, decode[listTasks](t, body).Items, 1)
}

func TestProjectsOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	admin := bearer(t, srv.Admin)

	res, body := srv.do(t, http.MethodPost, "/projects", map[string]any{"name": "Search"}, admin)
	requireStatus(t, res, body, http.StatusCreated)
	p := decode[domain.Project](t, body)
	assert.Equal(t, srv.Admin.ID, p.OwnerID)

	res, body = srv.do(t, http.MethodPost, "/projects", map[string]any{"name": "Nope"}, bearer(t, srv.Tester))
	requireError(t, res, body, http.StatusForbidden, "forbidden")

	res, body = srv.do(t, http.MethodPost, fmt.Sprintf("/projects/%d/members", p.ID), map[string]any{"user_id": srv.Dev.ID}, admin)
	requireStatus(t, res, body, http.StatusCreated)

	res, body = srv.do(t, http.MethodGet, fmt.Sprintf("/projects/%d/members", p.ID), nil, admin)
	requireStatus(t, res, body, http.StatusOK)
	assert.Len(t, decode[listMembers](t, body).Items, 1)

	res, body = srv.do(t, http.MethodGet, "/projects", nil, admin)
	requireStatus(t, res, body, http.StatusOK)
	assert.Len(t, decode[listProjects](t, body).Items, 2)
}

func TestEmbeddedPathParamsBind(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	ctx := context.Background()

	b, err := srv.Engine.CreateBug(ctx, srv.Tester.ID, engine.BugCreateOptions{
		ProjectID: srv.Project.ID, Title: "Totals off by one", Priority: "HIGH",
	})
	require.NoError(t, err)
	res, body := srv.do(t, http.MethodPost, fmt.Sprintf("/bugs/%d/assign", b.ID),
		AssignBugRequest{DeveloperID: srv.Dev.ID}, bearer(t, srv.Admin))
	requireStatus(t, res, body, http.StatusOK)
	got := decode[domain.Bug](t, body)
	assert.Equal(t, b.ID, got.ID)
	require.NotNil(t, got.AssigneeID)
	assert.Equal(t, srv.Dev.ID, *got.AssigneeID)

	task, err := srv.Engine.CreateTask(ctx, srv.Dev.ID, engine.TaskCreateOptions{
		ProjectID: srv.Project.ID, Title: "Retest refunds", Priority: "LOW",
	})
	require.NoError(t, err)
	res, body = srv.do(t, http.MethodPost, fmt.Sprintf("/tasks/%d/assign", task.ID),
		AssignTaskRequest{TesterID: srv.Tester.ID}, bearer(t, srv.Admin))
	requireStatus(t, res, body, http.StatusOK)
	assert.Equal(t, task.ID, decode[domain.Task](t, body).ID)

	other, err := srv.Engine.RegisterUser(ctx, "dora", "", "DEVELOPER")
	require.NoError(t, err)
	res, body = srv.do(t, http.MethodPost, fmt.Sprintf("/projects/%d/members", srv.Project.ID),
		AddMemberRequest{UserID: other.ID}, bearer(t, srv.Admin))
	requireStatus(t, res, body, http.StatusCreated)
	m := decode[domain.Member](t, body)
	assert.Equal(t, srv.Project.ID, m.ProjectID)
	assert.Equal(t, other.ID, m.UserID)
}
