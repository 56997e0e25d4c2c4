package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/gitscout/internal/application"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

// maxUsernameLength is GitHub's limit on login length.
const maxUsernameLength = 39

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	reports *application.ReportService
	keyring *application.Keyring
	logger  *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(reports *application.ReportService, keyring *application.Keyring, logger *slog.Logger) *Handler {
	return &Handler{
		reports: reports,
		keyring: keyring,
		logger:  logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/profiles/{username}", h.GetProfile)
	mux.HandleFunc("POST /api/v1/reports", h.CreateReport)
	mux.HandleFunc("GET /api/v1/credentials", h.ListCredentials)
	mux.HandleFunc("POST /api/v1/credentials", h.AddCredential)
	mux.HandleFunc("PATCH /api/v1/credentials/{service}/{name}", h.UpdateCredential)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// GetProfile returns the public GitHub profile of a user.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if !isValidUsername(username) {
		writeError(w, http.StatusBadRequest, "invalid username")
		return
	}

	profile, err := h.reports.Profile(r.Context(), username)
	if err != nil {
		h.writeUpstreamError(w, "failed to fetch profile", username, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(*profile))
}

// CreateReport scans a candidate's repositories and returns the evaluation.
// The call is synchronous; it can take tens of seconds when retries kick in.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if !isValidUsername(username) {
		writeError(w, http.StatusBadRequest, "invalid username: expected a GitHub login")
		return
	}

	report, err := h.reports.GenerateReport(r.Context(), username)
	if err != nil {
		h.writeUpstreamError(w, "failed to generate report", username, err)
		return
	}

	writeJSON(w, http.StatusOK, toReportResponse(username, *report))
}

// ListCredentials returns every pool with masked secrets.
func (h *Handler) ListCredentials(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toCredentialsResponse(h.keyring.Snapshot()))
}

// AddCredential appends a secret to a service pool.
func (h *Handler) AddCredential(w http.ResponseWriter, r *http.Request) {
	var req AddCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Service = strings.TrimSpace(req.Service)
	req.Secret = strings.TrimSpace(req.Secret)
	if req.Service == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "service and secret are required")
		return
	}

	cred, err := h.keyring.AddCredential(r.Context(), req.Service, req.Secret, strings.TrimSpace(req.Name))
	if err != nil {
		if errors.Is(err, application.ErrDuplicateCredential) {
			writeError(w, http.StatusConflict, "credential already exists")
			return
		}
		if errors.Is(err, application.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "credential name already in use")
			return
		}
		h.logger.Error("failed to add credential", "service", req.Service, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toCredentialResponse(cred))
}

// UpdateCredential activates or deactivates a credential by display name.
func (h *Handler) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	name := r.PathValue("name")

	var req UpdateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		writeError(w, http.StatusBadRequest, "invalid request body: expected {\"active\": bool}")
		return
	}

	if err := h.keyring.SetActive(r.Context(), service, name, *req.Active); err != nil {
		if errors.Is(err, application.ErrUnknownService) || errors.Is(err, application.ErrCredentialNotFound) {
			writeError(w, http.StatusNotFound, "credential not found")
			return
		}
		h.logger.Error("failed to update credential", "service", service, "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeUpstreamError maps errors from the GitHub and model adapters to
// HTTP statuses.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, msg, username string, err error) {
	switch {
	case errors.Is(err, driven.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, application.ErrNoRepositories):
		writeError(w, http.StatusNotFound, "no repositories found")
	case errors.Is(err, application.ErrNoCredential):
		writeError(w, http.StatusServiceUnavailable, "no credential available")
	default:
		var dispatchErr *application.DispatchError
		if errors.As(err, &dispatchErr) {
			h.logger.Error(msg, "username", username, "service", dispatchErr.Service, "attempts", dispatchErr.Attempts, "error", err)
			writeError(w, http.StatusBadGateway, "upstream request failed")
			return
		}
		h.logger.Error(msg, "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// isValidUsername reports whether name is a plausible GitHub login:
// alphanumerics and single hyphens, not starting or ending with a hyphen.
func isValidUsername(name string) bool {
	if name == "" || len(name) > maxUsernameLength {
		return false
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") || strings.Contains(name, "--") {
		return false
	}

	for _, ch := range name {
		if !isValidUsernameChar(ch) {
			return false
		}
	}

	return true
}

// isValidUsernameChar returns true if the rune is allowed in a GitHub login.
func isValidUsernameChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '-'
}
