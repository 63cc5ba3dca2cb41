package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dealflow/api/internal/auth"
	"dealflow/api/internal/intake"
	"dealflow/api/internal/rbac"
	"dealflow/api/internal/util"
)

const (
	webhookPath    = "/api/webhook/jotform"
	webhookVersion = "2.0"

	maxWebhookMemory = 32 << 20
	maxWebhookJSON   = 10 << 20
)

// TokenVerifier checks the bearer token on partner requests.
type TokenVerifier interface {
	VerifyRequest(r *http.Request) (auth.Claims, error)
}

// RateLimiter bounds webhook deliveries per client address.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Pinger is an optional dependency reported by /api/ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ServerOptions struct {
	Verifier          TokenVerifier
	Limiter           RateLimiter
	CORSOrigin        string
	TrustForwardedFor bool
	// Checks are reported by name next to the database check.
	Checks map[string]Pinger
}

type HTTPServer struct {
	service           *Service
	verifier          TokenVerifier
	limiter           RateLimiter
	corsOrigin        string
	trustForwardedFor bool
	checks            map[string]Pinger
}

func NewHTTPServer(service *Service, opts ServerOptions) *HTTPServer {
	corsOrigin := opts.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &HTTPServer{
		service:           service,
		verifier:          opts.Verifier,
		limiter:           opts.Limiter,
		corsOrigin:        corsOrigin,
		trustForwardedFor: opts.TrustForwardedFor,
		checks:            opts.Checks,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		// Optional dependencies only degrade readiness.
		for name, dep := range s.checks {
			if err := dep.Ping(ctx); err != nil {
				if status == "ready" {
					status = "degraded"
				}
				checks[name] = map[string]any{
					"status": "error",
					"error":  err.Error(),
				}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     statusCode == http.StatusOK,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.URL.Path == webhookPath {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{
				"status":    "ok",
				"message":   "JotForm webhook endpoint is ready",
				"version":   webhookVersion,
				"timestamp": s.service.now().UTC().Format(time.RFC3339),
			})
		case http.MethodPost:
			s.handleWebhook(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", session.UserID))
	r = r.WithContext(ctx)

	if r.Method == http.MethodGet && r.URL.Path == "/api/pipeline" {
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		payload, err := s.service.Pipeline(ctx, session)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/deliberation" {
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		payload, err := s.service.Deliberation(ctx)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard" {
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		payload, err := s.service.Dashboard(ctx, session)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/investments" {
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		payload, err := s.service.Investments(ctx)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/applications/search" {
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		query := r.URL.Query()
		limit := 20
		if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		payload, err := s.service.Search(ctx, query.Get("q"), strings.TrimSpace(query.Get("stage")), limit)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "applications" {
		applicationID := parts[2]

		if len(parts) == 3 && r.Method == http.MethodGet {
			if !s.authorize(w, session, rbac.ActionRead) {
				return
			}
			payload, err := s.service.ApplicationDetail(ctx, session, applicationID)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}

		if len(parts) == 4 && r.Method == http.MethodPost && parts[3] == "votes" {
			if !s.authorize(w, session, rbac.ActionVote) {
				return
			}
			var body VoteInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.SubmitVote(ctx, session, applicationID, body)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}

		if len(parts) == 4 && r.Method == http.MethodPost && parts[3] == "advance" {
			if !s.authorize(w, session, rbac.ActionDecide) {
				return
			}
			payload, err := s.service.AdvanceToDeliberation(ctx, session, applicationID)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}

		if len(parts) == 4 && r.Method == http.MethodPost && parts[3] == "reveal" {
			if !s.authorize(w, session, rbac.ActionDecide) {
				return
			}
			payload, err := s.service.RevealVotes(ctx, session, applicationID)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}

		if len(parts) == 4 && r.Method == http.MethodPut && parts[3] == "deliberation" {
			if !s.authorize(w, session, rbac.ActionDecide) {
				return
			}
			var body DeliberationInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.SaveDeliberation(ctx, session, applicationID, body)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}

		if len(parts) == 4 && r.Method == http.MethodPost && parts[3] == "email-sent" {
			if !s.authorize(w, session, rbac.ActionAssign) {
				return
			}
			payload, err := s.service.ToggleEmailSent(ctx, session, applicationID)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}

		if len(parts) == 4 && r.Method == http.MethodPut && parts[3] == "email-sender" {
			if !s.authorize(w, session, rbac.ActionAssign) {
				return
			}
			var body struct {
				UserID string `json:"userId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.AssignEmailSender(ctx, session, applicationID, body.UserID)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleWebhook accepts one JotForm delivery. The rate limiter fails open so
// a Redis outage never drops an application.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := util.LoggerFromContext(r.Context())
	if s.limiter != nil {
		clientIP := util.ClientIP(r, s.trustForwardedFor)
		allowed, err := s.limiter.Allow(r.Context(), clientIP)
		switch {
		case err != nil:
			logger.Warn("webhook rate limiter unavailable", "error", err)
		case !allowed:
			logger.Warn("webhook rate limited", "client_ip", clientIP)
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
	}

	payload, err := parseWebhookPayload(r)
	if err != nil {
		logger.Error("webhook payload unreadable", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Webhook processing failed",
			"details": err.Error(),
		})
		return
	}

	result, err := s.service.Ingest(r.Context(), payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Failed to save application",
			"details": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"applicationId": result.ApplicationID,
		"message":       "Application received successfully",
	})
}

// parseWebhookPayload reads urlencoded and multipart deliveries. A JSON body
// is treated as a single submission document.
func parseWebhookPayload(r *http.Request) (intake.Payload, error) {
	mediaType := ""
	if header := r.Header.Get("Content-Type"); header != "" {
		parsed, _, err := mime.ParseMediaType(header)
		if err != nil {
			return nil, fmt.Errorf("parse content type: %w", err)
		}
		mediaType = parsed
	}

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxWebhookMemory); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
		return intake.FromForm(r.PostForm, r.MultipartForm), nil
	case "application/x-www-form-urlencoded", "":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		return intake.FromForm(r.PostForm, nil), nil
	case "application/json":
		if r.Body == nil {
			return intake.Payload{}, nil
		}
		defer r.Body.Close()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookJSON))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return intake.Payload{"rawRequest": intake.Text(string(body))}, nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	if s.verifier == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	claims, err := s.verifier.VerifyRequest(r)
	if err != nil {
		util.LoggerFromContext(r.Context()).Debug("token rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromClaims(r.Context(), claims)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		util.LoggerFromContext(r.Context()).Error("session lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) authorize(w http.ResponseWriter, session Session, action rbac.Action) bool {
	if s.service.Can(session.Role, action) {
		return true
	}
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	return false
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return util.WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)

		next.ServeHTTP(writer, r)

		util.LoggerFromContext(r.Context()).Info("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("response encode failed", "status", status, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"SERVER_ERROR","error":"Server error"}` + "\n"))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
