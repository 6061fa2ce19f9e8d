package shopflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal ShopFlow HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	StatusID    string  `json:"status_id"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	Version     int64   `json:"version"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// Status represents a workflow status.
type Status struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	IsInitial bool   `json:"is_initial"`
	IsFinal   bool   `json:"is_final"`
	IsSystem  bool   `json:"is_system"`
}

// Approval represents a recorded sign-off.
type Approval struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	UserID     string `json:"user_id"`
	Comment    string `json:"comment,omitempty"`
	ApprovedAt string `json:"approved_at"`
}

// ApprovalResult is the add-approval response, including whether the
// approval fired an automatic transition.
type ApprovalResult struct {
	Approval      Approval `json:"approval"`
	AutoTriggered bool     `json:"auto_triggered"`
	Task          Task     `json:"task"`
}

// Attachment represents a file reference on a task.
type Attachment struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	FileName string `json:"file_name"`
}

// HistoryEntry is one task audit record.
type HistoryEntry struct {
	ID       int64  `json:"id"`
	TaskID   string `json:"task_id"`
	ActorID  string `json:"actor_id"`
	Action   string `json:"action"`
	Field    string `json:"field,omitempty"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
	TS       string `json:"ts"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task in the project's initial status.
func (c *Client) CreateTask(ctx context.Context, title, description string) (Task, error) {
	body := map[string]any{
		"title": title,
	}
	if description != "" {
		body["description"] = description
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, ""), nil, &resp)
	return resp, err
}

// ListTasks lists the project's tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, statusID string) ([]Task, error) {
	endpoint := c.projectPath("tasks")
	if statusID != "" {
		endpoint = fmt.Sprintf("%s?status_id=%s", endpoint, url.QueryEscape(statusID))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ChangeStatus requests a move to the given status.
func (c *Client) ChangeStatus(ctx context.Context, taskID, statusID string) (Task, error) {
	body := map[string]any{"status_id": statusID}
	var resp struct {
		Task Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "status"), body, &resp)
	return resp.Task, err
}

// AddApproval records an approval on a task.
func (c *Client) AddApproval(ctx context.Context, taskID, comment string) (ApprovalResult, error) {
	body := map[string]any{}
	if comment != "" {
		body["comment"] = comment
	}
	var resp ApprovalResult
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "approvals"), body, &resp)
	return resp, err
}

// ListApprovals lists a task's approvals.
func (c *Client) ListApprovals(ctx context.Context, taskID string) ([]Approval, error) {
	var resp []Approval
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "approvals"), nil, &resp)
	return resp, err
}

// AddAttachment attaches a file reference to a task.
func (c *Client) AddAttachment(ctx context.Context, taskID, fileName string) (Attachment, error) {
	body := map[string]any{"file_name": fileName}
	var resp Attachment
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "attachments"), body, &resp)
	return resp, err
}

// History returns a task's audit log.
func (c *Client) History(ctx context.Context, taskID string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "history"), nil, &resp)
	return resp, err
}

// ListStatuses lists the project's workflow statuses.
func (c *Client) ListStatuses(ctx context.Context) ([]Status, error) {
	var resp []Status
	err := c.do(ctx, http.MethodGet, c.projectPath("statuses"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) taskPath(taskID, sub string) string {
	endpoint := fmt.Sprintf("v0/tasks/%s", url.PathEscape(taskID))
	if sub != "" {
		endpoint += "/" + sub
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
