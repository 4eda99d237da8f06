package client

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

// Client provides typed access to the portal API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// do performs a single attempt. Transient failures surface to the caller;
// the client never retries on its own.
func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// User reflects API user payloads.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// LoginResponse captures the token payload emitted by the API.
type LoginResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// Signup registers a new account and returns its session token.
func (c *Client) Signup(ctx context.Context, email, password, name string) (LoginResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
		"name":     name,
	}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", body, "", &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, token, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Logout invalidates the session server-side.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, token, nil)
}

// Environment represents a deployment target such as dev or production.
type Environment struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Description      string    `json:"description"`
	RequiresApproval bool      `json:"requires_approval"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListEnvironments returns the available deployment environments.
func (c *Client) ListEnvironments(ctx context.Context, token string) ([]Environment, error) {
	var envs []Environment
	if err := c.do(ctx, http.MethodGet, "/environments", nil, token, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// GetEnvironment fetches a single environment.
func (c *Client) GetEnvironment(ctx context.Context, token, envID string) (Environment, error) {
	path := fmt.Sprintf("/environments/%s", url.PathEscape(envID))
	var env Environment
	if err := c.do(ctx, http.MethodGet, path, nil, token, &env); err != nil {
		return Environment{}, err
	}
	return env, nil
}

// ResourceType represents a provisionable resource in the catalog.
type ResourceType struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Description string          `json:"description"`
	Icon        string          `json:"icon"`
	BaseCost    float64         `json:"base_cost"`
	Schema      json.RawMessage `json:"config_schema"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ListResourceTypes returns the provisionable resource catalog.
func (c *Client) ListResourceTypes(ctx context.Context, token string) ([]ResourceType, error) {
	var types []ResourceType
	if err := c.do(ctx, http.MethodGet, "/resource-types", nil, token, &types); err != nil {
		return nil, err
	}
	return types, nil
}

// GetResourceType fetches a single catalog entry.
func (c *Client) GetResourceType(ctx context.Context, token, typeID string) (ResourceType, error) {
	path := fmt.Sprintf("/resource-types/%s", url.PathEscape(typeID))
	var rt ResourceType
	if err := c.do(ctx, http.MethodGet, path, nil, token, &rt); err != nil {
		return ResourceType{}, err
	}
	return rt, nil
}

// ResourceSchema fetches the raw configuration schema for a resource type.
func (c *Client) ResourceSchema(ctx context.Context, token, typeID string) (json.RawMessage, error) {
	path := fmt.Sprintf("/resource-types/%s/schema", url.PathEscape(typeID))
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, token, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Request represents a provisioning request payload.
type Request struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	EnvironmentID  string          `json:"environment_id"`
	ResourceTypeID string          `json:"resource_type_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	Priority       string          `json:"priority"`
	Config         json.RawMessage `json:"config"`
	SubmittedAt    *time.Time      `json:"submitted_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// RequestFilter narrows request listings. Zero values mean no filtering.
type RequestFilter struct {
	Status        string
	EnvironmentID string
}

// ListRequests returns the caller's requests, newest first.
func (c *Client) ListRequests(ctx context.Context, token string, filter RequestFilter) ([]Request, error) {
	query := url.Values{}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.EnvironmentID != "" {
		query.Set("environment_id", filter.EnvironmentID)
	}
	path := "/requests"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var requests []Request
	if err := c.do(ctx, http.MethodGet, path, nil, token, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// GetRequest fetches a single request.
func (c *Client) GetRequest(ctx context.Context, token, requestID string) (Request, error) {
	path := fmt.Sprintf("/requests/%s", url.PathEscape(requestID))
	var request Request
	if err := c.do(ctx, http.MethodGet, path, nil, token, &request); err != nil {
		return Request{}, err
	}
	return request, nil
}

// CreateRequestInput captures the payload for draft creation. A blank
// Priority means normal.
type CreateRequestInput struct {
	EnvironmentID  string         `json:"environment_id"`
	ResourceTypeID string         `json:"resource_type_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Priority       string         `json:"priority,omitempty"`
	Config         map[string]any `json:"config"`
}

// CreateRequest creates a draft provisioning request.
func (c *Client) CreateRequest(ctx context.Context, token string, input CreateRequestInput) (Request, error) {
	var request Request
	if err := c.do(ctx, http.MethodPost, "/requests", input, token, &request); err != nil {
		return Request{}, err
	}
	return request, nil
}

// UpdateRequestInput captures the editable draft fields. Nil fields are
// left unchanged.
type UpdateRequestInput struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Priority    *string        `json:"priority,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// UpdateRequest edits a draft request owned by the caller.
func (c *Client) UpdateRequest(ctx context.Context, token, requestID string, input UpdateRequestInput) (Request, error) {
	path := fmt.Sprintf("/requests/%s", url.PathEscape(requestID))
	var request Request
	if err := c.do(ctx, http.MethodPut, path, input, token, &request); err != nil {
		return Request{}, err
	}
	return request, nil
}

// DeleteRequest removes a draft or rejected request owned by the caller.
func (c *Client) DeleteRequest(ctx context.Context, token, requestID string) error {
	path := fmt.Sprintf("/requests/%s", url.PathEscape(requestID))
	return c.do(ctx, http.MethodDelete, path, nil, token, nil)
}

// SubmitRequest moves a draft into the approval workflow.
func (c *Client) SubmitRequest(ctx context.Context, token, requestID string) (Request, error) {
	path := fmt.Sprintf("/requests/%s/submit", url.PathEscape(requestID))
	var request Request
	if err := c.do(ctx, http.MethodPost, path, nil, token, &request); err != nil {
		return Request{}, err
	}
	return request, nil
}

// Approval represents a pending or decided approval record.
type Approval struct {
	ID         string     `json:"id"`
	RequestID  string     `json:"request_id"`
	ApproverID *string    `json:"approver_id"`
	Status     string     `json:"status"`
	Comment    string     `json:"comment"`
	DecidedAt  *time.Time `json:"decided_at"`
	CreatedAt  time.Time  `json:"created_at"`
	Request    *Request   `json:"request,omitempty"`
}

// ListApprovals returns the approval queue visible to the caller. A blank
// status lists pending approvals.
func (c *Client) ListApprovals(ctx context.Context, token, status string) ([]Approval, error) {
	path := "/approvals"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var approvals []Approval
	if err := c.do(ctx, http.MethodGet, path, nil, token, &approvals); err != nil {
		return nil, err
	}
	return approvals, nil
}

// GetApproval fetches a single approval record.
func (c *Client) GetApproval(ctx context.Context, token, approvalID string) (Approval, error) {
	path := fmt.Sprintf("/approvals/%s", url.PathEscape(approvalID))
	var approval Approval
	if err := c.do(ctx, http.MethodGet, path, nil, token, &approval); err != nil {
		return Approval{}, err
	}
	return approval, nil
}

// ApproveRequest records an approval decision with an optional comment.
func (c *Client) ApproveRequest(ctx context.Context, token, approvalID, comment string) (Approval, error) {
	body := map[string]string{"comment": comment}
	path := fmt.Sprintf("/approvals/%s/approve", url.PathEscape(approvalID))
	var approval Approval
	if err := c.do(ctx, http.MethodPost, path, body, token, &approval); err != nil {
		return Approval{}, err
	}
	return approval, nil
}

// RejectRequest records a rejection. The comment is mandatory; the server
// rejects a blank one.
func (c *Client) RejectRequest(ctx context.Context, token, approvalID, comment string) (Approval, error) {
	body := map[string]string{"comment": comment}
	path := fmt.Sprintf("/approvals/%s/reject", url.PathEscape(approvalID))
	var approval Approval
	if err := c.do(ctx, http.MethodPost, path, body, token, &approval); err != nil {
		return Approval{}, err
	}
	return approval, nil
}
