package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TaskResponse — задача из API.
type TaskResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Phase          string   `json:"phase"`
	Priority       string   `json:"priority"`
	Complexity     string   `json:"complexity"`
	EstimatedHours float64  `json:"estimated_hours"`
	Dependencies   []string `json:"dependencies,omitempty"`
	Status         string   `json:"status"`
	Progress       int      `json:"progress"`
	Blockers       []string `json:"blockers,omitempty"`
	Owner          string   `json:"owner,omitempty"`
	FailureReason  string   `json:"failure_reason,omitempty"`
	CriticalPath   bool     `json:"critical_path"`
	Ready          bool     `json:"ready"`
	Dependents     []string `json:"dependents"`
	CreatedAt      string   `json:"created_at"`
}

// WorkerResponse — исполнитель из API.
type WorkerResponse struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Type               string             `json:"type"`
	Capabilities       []string           `json:"capabilities"`
	MaxConcurrentTasks int                `json:"max_concurrent_tasks"`
	CurrentTasks       []string           `json:"current_tasks"`
	Workload           float64            `json:"workload"`
	Status             string             `json:"status"`
	Performance        map[string]float64 `json:"performance"`
}

// ConflictResponse — конфликт из API.
type ConflictResponse struct {
	ID             string              `json:"id"`
	Type           string              `json:"type"`
	Severity       string              `json:"severity"`
	Title          string              `json:"title"`
	AffectedTasks  []string            `json:"affected_tasks"`
	DetectedAt     string              `json:"detected_at"`
	ResolvedAt     string              `json:"resolved_at,omitempty"`
	Resolution     *ResolutionResponse `json:"resolution,omitempty"`
	AutoResolvable bool                `json:"auto_resolvable"`
	Attempts       int                 `json:"attempts"`
}

// ResolutionResponse — план или итог разрешения.
type ResolutionResponse struct {
	Strategy   string         `json:"strategy"`
	Steps      []StepResponse `json:"steps"`
	Confidence float64        `json:"confidence"`
	Risks      []string       `json:"risks,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
}

// StepResponse — шаг плана разрешения.
type StepResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Action      string `json:"action"`
	Description string `json:"description"`
	Automated   bool   `json:"automated"`
	State       string `json:"state"`
}

// ActionResponse — шаг, ожидающий оператора.
type ActionResponse struct {
	ConflictID   string `json:"conflict_id"`
	ConflictType string `json:"conflict_type"`
	Strategy     string `json:"strategy"`
	StepID       string `json:"step_id"`
	Description  string `json:"description"`
	Since        string `json:"since"`
}

// DashboardResponse — часть дашборда, которую показывает CLI.
type DashboardResponse struct {
	GeneratedAt string `json:"generated_at"`
	Tasks       struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	} `json:"tasks"`
	Workers struct {
		Total       int     `json:"total"`
		Utilization float64 `json:"utilization"`
	} `json:"workers"`
	PhaseProgress      map[string]float64 `json:"phase_progress"`
	ParallelEfficiency float64            `json:"parallel_efficiency"`
	ActiveConflicts    []ConflictResponse `json:"active_conflicts"`
	PendingActions     []ActionResponse   `json:"pending_actions"`
	CriticalPath       struct {
		Tasks []string `json:"tasks"`
		Hours float64  `json:"hours"`
	} `json:"critical_path"`
	RemainingHours      float64 `json:"remaining_hours"`
	ProjectedCompletion string  `json:"projected_completion,omitempty"`
}

// CycleResponse — итог цикла оркестрации.
type CycleResponse struct {
	Assigned   int      `json:"assigned"`
	Unassigned int      `json:"unassigned"`
	Detected   int      `json:"detected"`
	Blocked    int      `json:"blocked"`
	Resolved   int      `json:"resolved"`
	Moved      int      `json:"moved"`
	Errors     []string `json:"errors,omitempty"`
}

// --- Request types ---

// RegisterWorkerRequest — регистрация исполнителя.
type RegisterWorkerRequest struct {
	ID                 string   `json:"id,omitempty"`
	Name               string   `json:"name"`
	Type               string   `json:"type,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
	MaxConcurrentTasks int      `json:"max_concurrent_tasks"`
}

// ResolveRequest — запуск разрешения конфликта.
type ResolveRequest struct {
	Mode     string `json:"mode,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// ListTasksOpts — параметры фильтрации задач.
type ListTasksOpts struct {
	Status   string
	Phase    string
	WorkerID string
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Orchestra API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- System ---

// Dashboard возвращает снимок состояния.
func (c *Client) Dashboard() (*DashboardResponse, error) {
	var d DashboardResponse
	err := c.get("/api/v1/dashboard", &d)
	return &d, err
}

// ReportText возвращает отчёт в текстовом виде.
func (c *Client) ReportText() (string, error) {
	resp, err := c.do(http.MethodGet, "/api/v1/report?format=text", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}

// Report возвращает отчёт в JSON.
func (c *Client) Report() (json.RawMessage, error) {
	var report json.RawMessage
	err := c.get("/api/v1/report", &report)
	return report, err
}

// RunCycle запускает цикл оркестрации.
func (c *Client) RunCycle() (*CycleResponse, error) {
	var res CycleResponse
	err := c.post("/api/v1/cycle", nil, &res)
	return &res, err
}

// PostSignal отправляет сигнал внешней системы.
func (c *Client) PostSignal(kind string, payload json.RawMessage) error {
	return c.post("/api/v1/signals/"+url.PathEscape(kind), payload, nil)
}

// --- Tasks ---

// ListTasks возвращает задачи с фильтрацией.
func (c *Client) ListTasks(opts ListTasksOpts) ([]TaskResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Phase != "" {
		params.Set("phase", opts.Phase)
	}
	if opts.WorkerID != "" {
		params.Set("worker_id", opts.WorkerID)
	}

	var tasks []TaskResponse
	err := c.list("/api/v1/tasks", params, &tasks)
	return tasks, err
}

// CreateTasks добавляет задачи. specs — JSON объект или массив.
func (c *Client) CreateTasks(specs json.RawMessage) ([]string, error) {
	var res struct {
		IDs []string `json:"ids"`
	}
	err := c.post("/api/v1/tasks", specs, &res)
	return res.IDs, err
}

// GetTask возвращает задачу по ID.
func (c *Client) GetTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get("/api/v1/tasks/"+url.PathEscape(id), &task)
	return &task, err
}

// AssignTask назначает задачу. Пустой workerID — лучший исполнитель.
func (c *Client) AssignTask(id, workerID string) (*TaskResponse, error) {
	var body any
	if workerID != "" {
		body = map[string]string{"worker_id": workerID}
	}
	return c.transition(id, "assign", body)
}

// StartTask переводит задачу в работу.
func (c *Client) StartTask(id string) (*TaskResponse, error) {
	return c.transition(id, "start", nil)
}

// ReportProgress обновляет прогресс задачи.
func (c *Client) ReportProgress(id string, progress int, note string) (*TaskResponse, error) {
	body := map[string]any{"progress": progress}
	if note != "" {
		body["note"] = note
	}
	return c.transition(id, "progress", body)
}

// CompleteTask завершает задачу с метриками quality gate.
func (c *Client) CompleteTask(id string, metrics map[string]float64) (*TaskResponse, error) {
	var body any
	if len(metrics) > 0 {
		body = map[string]any{"metrics": metrics}
	}
	return c.transition(id, "complete", body)
}

// FailTask переводит задачу в failed.
func (c *Client) FailTask(id, reason string) (*TaskResponse, error) {
	return c.transition(id, "fail", map[string]string{"reason": reason})
}

// CancelTask отменяет задачу.
func (c *Client) CancelTask(id string) (*TaskResponse, error) {
	return c.transition(id, "cancel", nil)
}

func (c *Client) transition(id, action string, body any) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+url.PathEscape(id)+"/"+action, body, &task)
	return &task, err
}

// --- Workers ---

// ListWorkers возвращает исполнителей.
func (c *Client) ListWorkers(status string) ([]WorkerResponse, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}

	var workers []WorkerResponse
	err := c.list("/api/v1/workers", params, &workers)
	return workers, err
}

// RegisterWorker регистрирует исполнителя.
func (c *Client) RegisterWorker(req RegisterWorkerRequest) (*WorkerResponse, error) {
	var w WorkerResponse
	err := c.post("/api/v1/workers", req, &w)
	return &w, err
}

// SetWorkerStatus выставляет ручной статус исполнителя.
func (c *Client) SetWorkerStatus(id, status string) (*WorkerResponse, error) {
	var w WorkerResponse
	err := c.put("/api/v1/workers/"+url.PathEscape(id)+"/status", map[string]string{"status": status}, &w)
	return &w, err
}

// --- Conflicts ---

// ListConflicts возвращает активные конфликты.
func (c *Client) ListConflicts(typ string) ([]ConflictResponse, error) {
	params := url.Values{}
	if typ != "" {
		params.Set("type", typ)
	}

	var conflicts []ConflictResponse
	err := c.list("/api/v1/conflicts", params, &conflicts)
	return conflicts, err
}

// ListConflictHistory возвращает разрешённые конфликты.
func (c *Client) ListConflictHistory(limit int) ([]ConflictResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var conflicts []ConflictResponse
	err := c.list("/api/v1/conflicts/history", params, &conflicts)
	return conflicts, err
}

// GetConflict возвращает конфликт по ID.
func (c *Client) GetConflict(id string) (*ConflictResponse, error) {
	var conflict ConflictResponse
	err := c.get("/api/v1/conflicts/"+url.PathEscape(id), &conflict)
	return &conflict, err
}

// PlanConflict возвращает план разрешения.
func (c *Client) PlanConflict(id, strategy string) (*ResolutionResponse, error) {
	path := "/api/v1/conflicts/" + url.PathEscape(id) + "/plan"
	if strategy != "" {
		path += "?" + url.Values{"strategy": {strategy}}.Encode()
	}
	var plan ResolutionResponse
	err := c.get(path, &plan)
	return &plan, err
}

// ResolveConflict запускает разрешение. В режиме auto возвращается
// разрешённый конфликт, в manual — план, который выполняется в фоне.
func (c *Client) ResolveConflict(id string, req ResolveRequest) (json.RawMessage, error) {
	var res json.RawMessage
	err := c.post("/api/v1/conflicts/"+url.PathEscape(id)+"/resolve", req, &res)
	return res, err
}

// CompleteStep подтверждает или отклоняет ручной шаг.
func (c *Client) CompleteStep(conflictID, stepID string, success bool, note string) error {
	body := map[string]any{"success": success, "note": note}
	path := "/api/v1/conflicts/" + url.PathEscape(conflictID) + "/steps/" + url.PathEscape(stepID) + "/complete"
	return c.post(path, body, nil)
}

// ListActions возвращает шаги, ожидающие оператора.
func (c *Client) ListActions() ([]ActionResponse, error) {
	var actions []ActionResponse
	err := c.list("/api/v1/actions", nil, &actions)
	return actions, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		bodyReader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{Status: resp.StatusCode}
	}

	return &APIError{Status: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
}
