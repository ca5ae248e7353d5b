package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	color.NoColor = true
}

// fakeAPI записывает запросы и отвечает заготовленными телами.
type fakeAPI struct {
	t        *testing.T
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]fakeResponse
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

type fakeResponse struct {
	status int
	body   string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{t: t, routes: make(map[string]fakeResponse)}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, NewClient(srv.URL)
}

func (f *fakeAPI) on(method, path string, status int, body string) {
	f.routes[method+" "+path] = fakeResponse{status: status, body: body}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body),
	})

	resp, ok := f.routes[r.Method+" "+r.URL.Path]
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":"NOT_FOUND","message":"no route"}}`)
		return
	}
	if strings.HasPrefix(resp.body, "{") {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.status)
	io.WriteString(w, resp.body)
}

func (f *fakeAPI) last() recordedRequest {
	f.t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		f.t.Fatal("no requests recorded")
	}
	return f.requests[len(f.requests)-1]
}

// run выполняет команду и возвращает stdout и stderr.
func run(t *testing.T, client *Client, jsonMode bool, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	root := &cobra.Command{Use: "orchestra", SilenceUsage: true, SilenceErrors: true}
	clientFn := func() *Client { return client }
	outputFn := func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) }
	root.AddCommand(
		NewTaskCmd(clientFn, outputFn),
		NewWorkerCmd(clientFn, outputFn),
		NewConflictCmd(clientFn, outputFn),
		NewDashboardCmd(clientFn, outputFn),
		NewReportCmd(clientFn, outputFn),
		NewSignalCmd(clientFn, outputFn),
		NewCycleCmd(clientFn, outputFn),
	)
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// --- Client Tests ---

func TestClient_ListTasks(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("GET", "/api/v1/tasks", 200,
		`{"data":[{"id":"T1","name":"Schema","status":"pending","ready":true}],"total":1}`)

	tasks, err := client.ListTasks(ListTasksOpts{Status: "pending", Phase: "design"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "T1" || !tasks[0].Ready {
		t.Errorf("tasks = %+v", tasks)
	}
	if q := api.last().Query; q != "phase=design&status=pending" {
		t.Errorf("query = %q", q)
	}
}

func TestClient_APIError(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/tasks/T1/start", 422,
		`{"error":{"code":"INVALID_STATE","message":"cannot start T1 in pending"}}`)

	_, err := client.StartTask("T1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != 422 || apiErr.Code != "INVALID_STATE" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if err.Error() != "INVALID_STATE: cannot start T1 in pending" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestClient_APIErrorWithoutBody(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("GET", "/api/v1/dashboard", 502, "bad gateway")

	_, err := client.Dashboard()
	if err == nil || err.Error() != "API error: HTTP 502" {
		t.Errorf("err = %v", err)
	}
}

func TestClient_AssignBody(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/tasks/T1/assign", 200, `{"data":{"id":"T1","status":"assigned","owner":"W1"}}`)

	if _, err := client.AssignTask("T1", ""); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if body := api.last().Body; body != "" {
		t.Errorf("best-match assign must send no body, got %q", body)
	}

	if _, err := client.AssignTask("T1", "W1"); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if body := api.last().Body; body != `{"worker_id":"W1"}` {
		t.Errorf("body = %q", body)
	}
}

func TestClient_PostSignalSendsRawPayload(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/signals/merge", 202, `{"data":{"kind":"merge"}}`)

	payload := json.RawMessage(`{"branch":"feature/a","target":"main"}`)
	if err := client.PostSignal("merge", payload); err != nil {
		t.Fatalf("PostSignal: %v", err)
	}
	if body := api.last().Body; body != string(payload) {
		t.Errorf("body = %q", body)
	}
}

func TestClient_CompleteStepNoContent(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/conflicts/C1/steps/s2/complete", 204, "")

	if err := client.CompleteStep("C1", "s2", true, "checked"); err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}
	var body map[string]any
	json.Unmarshal([]byte(api.last().Body), &body)
	if body["success"] != true || body["note"] != "checked" {
		t.Errorf("body = %v", body)
	}
}

// --- Command Tests ---

func TestTaskListCmd(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("GET", "/api/v1/tasks", 200, `{"data":[
		{"id":"T1","name":"Schema","phase":"design","priority":"high","progress":40,"owner":"W1","status":"in_progress"},
		{"id":"T2","name":"API","phase":"implementation","priority":"medium","status":"pending"}
	],"total":2}`)

	stdout, _, err := run(t, client, false, "task", "list", "--status", "in_progress")
	if err != nil {
		t.Fatalf("task list: %v", err)
	}
	for _, want := range []string{"ID", "STATUS", "T1", "Schema", "40%", "in_progress", "T2"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
	if q := api.last().Query; q != "status=in_progress" {
		t.Errorf("query = %q", q)
	}
}

func TestTaskListCmd_JSON(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("GET", "/api/v1/tasks", 200, `{"data":[{"id":"T1","name":"Schema","status":"pending"}],"total":1}`)

	stdout, _, err := run(t, client, true, "task", "list")
	if err != nil {
		t.Fatalf("task list: %v", err)
	}

	var tasks []TaskResponse
	if err := json.Unmarshal([]byte(stdout), &tasks); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout)
	}
	if len(tasks) != 1 || tasks[0].ID != "T1" {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestTaskAddCmd_YAML(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/tasks", 201, `{"data":{"ids":["T1","T2"]}}`)

	path := filepath.Join(t.TempDir(), "tasks.yaml")
	spec := `tasks:
  - id: T1
    name: Schema
    estimated_hours: 4
  - id: T2
    name: API
    dependencies: [T1]
`
	if err := os.WriteFile(path, []byte(spec), 0o644); err != nil {
		t.Fatal(err)
	}

	_, stderr, err := run(t, client, false, "task", "add", "-f", path)
	if err != nil {
		t.Fatalf("task add: %v", err)
	}
	if !strings.Contains(stderr, "Tasks added: T1, T2") {
		t.Errorf("stderr = %q", stderr)
	}

	var sent []map[string]any
	if err := json.Unmarshal([]byte(api.last().Body), &sent); err != nil {
		t.Fatalf("request body is not a JSON array: %v", err)
	}
	if len(sent) != 2 || sent[1]["name"] != "API" {
		t.Errorf("sent = %v", sent)
	}
}

func TestTaskAddCmd_InvalidJSON(t *testing.T) {
	_, client := newFakeAPI(t)

	path := filepath.Join(t.TempDir(), "tasks.json")
	os.WriteFile(path, []byte(`{"id":`), 0o644)

	if _, _, err := run(t, client, false, "task", "add", "-f", path); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestTaskCompleteCmd_Metrics(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/tasks/T1/complete", 200, `{"data":{"id":"T1","status":"under_review"}}`)

	_, stderr, err := run(t, client, false, "task", "complete", "T1", "--metric", "coverage=85.5", "--metric", "lint=1")
	if err != nil {
		t.Fatalf("task complete: %v", err)
	}
	if !strings.Contains(stderr, "Task T1 is under_review") {
		t.Errorf("stderr = %q", stderr)
	}

	var body struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	json.Unmarshal([]byte(api.last().Body), &body)
	if body.Metrics["coverage"] != 85.5 || body.Metrics["lint"] != 1 {
		t.Errorf("metrics = %v", body.Metrics)
	}
}

func TestTaskProgressCmd_InvalidPercent(t *testing.T) {
	_, client := newFakeAPI(t)

	if _, _, err := run(t, client, false, "task", "progress", "T1", "half"); err == nil {
		t.Error("expected error for non-numeric progress")
	}
}

func TestWorkerRegisterCmd(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/workers", 201,
		`{"data":{"id":"W1","name":"Alice","type":"backend","max_concurrent_tasks":2,"status":"available"}}`)

	stdout, stderr, err := run(t, client, false,
		"worker", "register", "Alice", "--id", "W1", "--type", "backend", "--capabilities", "go,sql", "--max-tasks", "2")
	if err != nil {
		t.Fatalf("worker register: %v", err)
	}
	if !strings.Contains(stderr, "Worker registered: W1") {
		t.Errorf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, "0/2") {
		t.Errorf("stdout = %q", stdout)
	}

	var req RegisterWorkerRequest
	json.Unmarshal([]byte(api.last().Body), &req)
	if req.Name != "Alice" || len(req.Capabilities) != 2 || req.MaxConcurrentTasks != 2 {
		t.Errorf("request = %+v", req)
	}
}

func TestConflictResolveCmd_Manual(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/conflicts/C1/resolve", 202, `{"data":{
		"strategy":"dependency_reordering","confidence":0.8,
		"steps":[{"id":"s1","action":"graph.remove_edge","automated":true,"state":"pending"},
		         {"id":"s2","action":"operator.confirm","automated":false,"state":"pending"}]}}`)

	stdout, stderr, err := run(t, client, false, "conflict", "resolve", "C1")
	if err != nil {
		t.Fatalf("conflict resolve: %v", err)
	}
	if !strings.Contains(stderr, "started with dependency_reordering") {
		t.Errorf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, "operator") || !strings.Contains(stdout, "graph.remove_edge") {
		t.Errorf("stdout = %q", stdout)
	}
	if body := api.last().Body; body != `{}` {
		t.Errorf("manual resolve body = %q, want {}", body)
	}
}

func TestConflictResolveCmd_Auto(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/conflicts/C1/resolve", 200, `{"data":{"id":"C1"}}`)

	_, stderr, err := run(t, client, false, "conflict", "resolve", "C1", "--auto")
	if err != nil {
		t.Fatalf("conflict resolve: %v", err)
	}
	if !strings.Contains(stderr, "Conflict C1 resolved") {
		t.Errorf("stderr = %q", stderr)
	}
	if body := api.last().Body; body != `{"mode":"auto"}` {
		t.Errorf("body = %q", body)
	}
}

func TestConflictApproveCmd(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/conflicts/C1/steps/s2/complete", 204, "")

	_, stderr, err := run(t, client, false, "conflict", "reject", "C1", "s2", "--note", "unsafe")
	if err != nil {
		t.Fatalf("conflict reject: %v", err)
	}
	if !strings.Contains(stderr, "Step s2 of C1: rejected") {
		t.Errorf("stderr = %q", stderr)
	}
	if body := api.last().Body; !strings.Contains(body, `"success":false`) {
		t.Errorf("body = %q", body)
	}
}

func TestDashboardCmd(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("GET", "/api/v1/dashboard", 200, `{"data":{
		"tasks":{"total":3,"by_status":{"completed":1,"pending":2}},
		"workers":{"total":2,"utilization":0.5},
		"phase_progress":{"design":100,"implementation":20},
		"parallel_efficiency":1,
		"active_conflicts":[{"id":"C1","type":"merge_conflict","severity":"medium","affected_tasks":["T2"]}],
		"pending_actions":[{"conflict_id":"C1","step_id":"s2"}],
		"critical_path":{"tasks":["T1","T2"],"hours":12},
		"remaining_hours":16
	}}`)

	stdout, stderr, err := run(t, client, false, "dashboard")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	for _, want := range []string{
		"utilization 50%", "critical path: T1 → T2 (12.0h)", "remaining: 16.0h",
		"merge_conflict", "implementation", "20%",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("dashboard missing %q:\n%s", want, stdout)
		}
	}
	if !strings.Contains(stderr, "1 steps wait for an operator") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestReportCmd_Text(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("GET", "/api/v1/report", 200, "Orchestra report 2025-06-02\nRecommendations:\n  none\n")

	stdout, _, err := run(t, client, false, "report")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.HasPrefix(stdout, "Orchestra report 2025-06-02") {
		t.Errorf("stdout = %q", stdout)
	}
	if q := api.last().Query; q != "format=text" {
		t.Errorf("query = %q", q)
	}
}

func TestSignalCmd(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/signals/security", 202, `{"data":{"kind":"security"}}`)

	_, stderr, err := run(t, client, false, "signal", "security", "-d", `{"id":"CVE-1","severity":"critical"}`)
	if err != nil {
		t.Fatalf("signal: %v", err)
	}
	if !strings.Contains(stderr, "Signal security accepted") {
		t.Errorf("stderr = %q", stderr)
	}

	if _, _, err := run(t, client, false, "signal", "security"); err == nil {
		t.Error("expected error without payload")
	}
}

func TestCycleCmd(t *testing.T) {
	api, client := newFakeAPI(t)
	api.on("POST", "/api/v1/cycle", 200,
		`{"data":{"assigned":2,"unassigned":1,"detected":1,"resolved":1,"errors":["dashboard: boom"]}}`)

	stdout, stderr, err := run(t, client, false, "cycle")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !strings.Contains(stdout, "ASSIGNED") || !strings.Contains(stdout, "2") {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stderr, "dashboard: boom") {
		t.Errorf("stderr = %q", stderr)
	}
}

// --- Helper Tests ---

func TestParseMetrics(t *testing.T) {
	m, err := parseMetrics([]string{"coverage=80", "lint=0.5"})
	if err != nil {
		t.Fatalf("parseMetrics: %v", err)
	}
	if m["coverage"] != 80 || m["lint"] != 0.5 {
		t.Errorf("metrics = %v", m)
	}

	for _, bad := range []string{"coverage", "coverage=high"} {
		if _, err := parseMetrics([]string{bad}); err == nil {
			t.Errorf("parseMetrics(%q): expected error", bad)
		}
	}

	if m, err := parseMetrics(nil); m != nil || err != nil {
		t.Errorf("parseMetrics(nil) = %v, %v", m, err)
	}
}
