// Package httpx exposes the portal API over HTTP. Routing is plain ServeMux
// with prefix handlers; every route passes through request logging, and
// mutating routes pass through per-user rate limiting.
package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stackform/portal/internal/domain"
	"github.com/stackform/portal/internal/service/approval"
	"github.com/stackform/portal/internal/service/auth"
	"github.com/stackform/portal/internal/service/catalog"
	"github.com/stackform/portal/internal/service/request"
	"github.com/stackform/portal/pkg/lifecycle"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux              *http.ServeMux
	logger           *slog.Logger
	auth             auth.Service
	catalog          catalog.Service
	requests         request.Service
	approvals        approval.Service
	limiter          RateLimiter
	provisionerToken string
	dbHealth         func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault    = time.Minute
	rateLimitSignup      = 5
	rateLimitLogin       = 12
	rateLimitUserWrite   = 60
	rateLimitUserRead    = 120
	rateLimitProvisioner = 60
	healthCheckTimeout   = 2 * time.Second
	auditHistoryLimit    = 50
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, catalogSvc catalog.Service, requestSvc request.Service, approvalSvc approval.Service, limiter RateLimiter, provisionerToken string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:              http.NewServeMux(),
		logger:           logger,
		auth:             authSvc,
		catalog:          catalogSvc,
		requests:         requestSvc,
		approvals:        approvalSvc,
		limiter:          limiter,
		provisionerToken: strings.TrimSpace(provisionerToken),
		dbHealth:         dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("/auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/auth/me", r.audit("/auth/me", r.handlerAuthRate("/auth/me", rateLimitUserRead, rateWindowDefault, r.handleMe)))
	r.mux.HandleFunc("/auth/logout", r.audit("/auth/logout", r.handlerAuthRate("/auth/logout", rateLimitUserWrite, rateWindowDefault, r.handleLogout)))
	r.mux.HandleFunc("/environments", r.audit("/environments", r.handlerAuthRate("/environments", rateLimitUserRead, rateWindowDefault, r.handleEnvironments)))
	r.mux.HandleFunc("/environments/", r.audit("/environments/{id}", r.handlerAuthRate("/environments/{id}", rateLimitUserRead, rateWindowDefault, r.handleEnvironmentSubroutes)))
	r.mux.HandleFunc("/resource-types", r.audit("/resource-types", r.handlerAuthRate("/resource-types", rateLimitUserRead, rateWindowDefault, r.handleResourceTypes)))
	r.mux.HandleFunc("/resource-types/", r.audit("/resource-types/{id}", r.handlerAuthRate("/resource-types/{id}", rateLimitUserRead, rateWindowDefault, r.handleResourceTypeSubroutes)))
	r.mux.HandleFunc("/requests", r.audit("/requests", r.handlerAuthRate("/requests", rateLimitUserWrite, rateWindowDefault, r.handleRequests)))
	r.mux.HandleFunc("/requests/", r.audit("/requests/{id}", r.handlerAuthRate("/requests/{id}", rateLimitUserWrite, rateWindowDefault, r.handleRequestSubroutes)))
	r.mux.HandleFunc("/approvals", r.audit("/approvals", r.handlerAuthRate("/approvals", rateLimitUserRead, rateWindowDefault, r.handleApprovals)))
	r.mux.HandleFunc("/approvals/", r.audit("/approvals/{id}", r.handlerAuthRate("/approvals/{id}", rateLimitUserWrite, rateWindowDefault, r.handleApprovalSubroutes)))
	r.mux.HandleFunc("/provisioner/callback", r.audit("/provisioner/callback", r.withRateLimit("/provisioner/callback", rateLimitProvisioner, rateWindowDefault, rateLimitKeyIP, r.handleProvisionerCallback)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Signup(req.Context(), payload.Email, payload.Password, payload.Name)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":  toUserPayload(user),
		"token": token,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  toUserPayload(user),
		"token": token,
	})
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	writeJSON(w, http.StatusOK, userPayload{
		ID:    info.Actor.ID,
		Email: info.Email,
		Name:  info.Name,
		Role:  info.Role,
	})
}

// handleLogout acknowledges the logout. Tokens are stateless; the client
// discards its copy.
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (r *Router) handleEnvironments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	envs, err := r.catalog.ListEnvironments(req.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	payload := make([]environmentPayload, 0, len(envs))
	for _, env := range envs {
		payload = append(payload, toEnvironmentPayload(env))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleEnvironmentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/environments/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	env, err := r.catalog.GetEnvironment(req.Context(), parts[0])
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvironmentPayload(*env))
}

func (r *Router) handleResourceTypes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	types, err := r.catalog.ListResourceTypes(req.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	payload := make([]resourceTypePayload, 0, len(types))
	for _, t := range types {
		payload = append(payload, toResourceTypePayload(t))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleResourceTypeSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/resource-types/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	typeID := parts[0]
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		rt, err := r.catalog.GetResourceType(req.Context(), typeID)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResourceTypePayload(*rt))
	case len(parts) == 2 && parts[1] == "schema":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		schema, err := r.catalog.ResourceSchema(req.Context(), typeID)
		if err != nil {
			serviceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(schema)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleRequests(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		filter := request.Filter{
			Status:        lifecycle.Status(req.URL.Query().Get("status")),
			EnvironmentID: req.URL.Query().Get("environment_id"),
		}
		requests, err := r.requests.List(req.Context(), info.Actor, filter)
		if err != nil {
			serviceError(w, err)
			return
		}
		payload := make([]requestPayload, 0, len(requests))
		for i := range requests {
			payload = append(payload, toRequestPayload(&requests[i]))
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		var payload struct {
			EnvironmentID  string         `json:"environment_id"`
			ResourceTypeID string         `json:"resource_type_id"`
			Title          string         `json:"title"`
			Description    string         `json:"description"`
			Priority       string         `json:"priority"`
			Config         map[string]any `json:"config"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.requests.Create(req.Context(), info.Actor, request.CreateInput{
			EnvironmentID:  payload.EnvironmentID,
			ResourceTypeID: payload.ResourceTypeID,
			Title:          payload.Title,
			Description:    payload.Description,
			Priority:       payload.Priority,
			Config:         payload.Config,
		})
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRequestPayload(created))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleRequestSubroutes(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/requests/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	requestID := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "submit":
			if req.Method != http.MethodPost {
				r.methodNotAllowed(w)
				return
			}
			submitted, err := r.requests.Submit(req.Context(), info.Actor, requestID)
			if err != nil {
				serviceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toRequestPayload(submitted))
		case "approval":
			if req.Method != http.MethodGet {
				r.methodNotAllowed(w)
				return
			}
			found, err := r.approvals.ForRequest(req.Context(), info.Actor, requestID)
			if err != nil {
				serviceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toApprovalPayload(found))
		case "audit":
			if req.Method != http.MethodGet {
				r.methodNotAllowed(w)
				return
			}
			entries, err := r.requests.History(req.Context(), info.Actor, requestID, auditHistoryLimit)
			if err != nil {
				serviceError(w, err)
				return
			}
			payload := make([]auditPayload, 0, len(entries))
			for i := range entries {
				payload = append(payload, toAuditPayload(entries[i]))
			}
			writeJSON(w, http.StatusOK, payload)
		default:
			r.notFound(w)
		}
		return
	}
	if len(parts) > 1 {
		r.notFound(w)
		return
	}

	switch req.Method {
	case http.MethodGet:
		found, err := r.requests.Get(req.Context(), info.Actor, requestID)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestPayload(found))
	case http.MethodPut:
		var payload struct {
			Title       *string        `json:"title"`
			Description *string        `json:"description"`
			Priority    *string        `json:"priority"`
			Config      map[string]any `json:"config"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := r.requests.Update(req.Context(), info.Actor, requestID, request.UpdateInput{
			Title:       payload.Title,
			Description: payload.Description,
			Priority:    payload.Priority,
			Config:      payload.Config,
		})
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestPayload(updated))
	case http.MethodDelete:
		if err := r.requests.Delete(req.Context(), info.Actor, requestID); err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleApprovals(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	approvals, err := r.approvals.Queue(req.Context(), info.Actor, req.URL.Query().Get("status"))
	if err != nil {
		serviceError(w, err)
		return
	}
	payload := make([]approvalPayload, 0, len(approvals))
	for i := range approvals {
		payload = append(payload, toApprovalPayload(&approvals[i]))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleApprovalSubroutes(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/approvals/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	approvalID := parts[0]

	if len(parts) == 1 {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		found, err := r.approvals.Get(req.Context(), info.Actor, approvalID)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toApprovalPayload(found))
		return
	}
	if len(parts) != 2 || req.Method != http.MethodPost {
		r.notFound(w)
		return
	}

	var payload struct {
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var decided *domain.Approval
	var err error
	switch parts[1] {
	case "approve":
		decided, err = r.approvals.Approve(req.Context(), info.Actor, approvalID, payload.Comment)
	case "reject":
		decided, err = r.approvals.Reject(req.Context(), info.Actor, approvalID, payload.Comment)
	default:
		r.notFound(w)
		return
	}
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalPayload(decided))
}

func (r *Router) handleProvisionerCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyProvisionerToken(w, req) {
		return
	}
	var payload struct {
		RequestID string `json:"request_id"`
		Outcome   string `json:"outcome"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := r.requests.HandleProvisionerResult(req.Context(), payload.RequestID, payload.Outcome, payload.Message)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toRequestPayload(updated))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// audit logs every request with its outcome and records request metrics.
func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.Actor.ID, "role", info.Role)
		} else if strings.HasPrefix(req.URL.Path, "/provisioner/") {
			actor = "provisioner"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

// verifyProvisionerToken ensures provisioner callbacks carry the shared secret.
func (r *Router) verifyProvisionerToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.provisionerToken
	if expected == "" {
		r.logger.Error("provisioner token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "provisioner authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Provisioner-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("provisioner token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid provisioner token")
		return false
	}
	return true
}

func (r *Router) missingAuthContext(w http.ResponseWriter, req *http.Request) {
	r.logger.Error("auth context missing", "path", req.URL.Path)
	writeError(w, http.StatusInternalServerError, "authorization context missing")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
