package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// ProfileResponse is the JSON representation of a GitHub user profile.
type ProfileResponse struct {
	Username    string `json:"username"`
	Name        string `json:"name"`
	Bio         string `json:"bio"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
}

// CreateReportRequest is the JSON body for the report endpoint.
type CreateReportRequest struct {
	Username string `json:"username"`
}

// ReportResponse is the JSON representation of a candidate evaluation.
type ReportResponse struct {
	Username           string   `json:"username"`
	CandidateName      string   `json:"candidate_name"`
	TechnicalScore     int      `json:"technical_score"`
	EstimatedLevel     string   `json:"estimated_level"`
	PrimaryLanguages   []string `json:"primary_languages"`
	TechnicalStrengths []string `json:"technical_strengths"`
	RedFlags           []string `json:"red_flags"`
	HiringVerdict      string   `json:"hiring_verdict"`
	SummaryReport      string   `json:"summary_report"`
	SummaryHTML        string   `json:"summary_html"`
	Limited            bool     `json:"limited"`
}

// PoolResponse is the JSON representation of one service's credential pool.
type PoolResponse struct {
	Service     string               `json:"service"`
	Kind        string               `json:"kind"`
	Strategy    string               `json:"strategy"`
	Threshold   int                  `json:"threshold"`
	Credentials []CredentialResponse `json:"credentials"`
}

// CredentialResponse is the JSON representation of a credential. The secret
// is always masked.
type CredentialResponse struct {
	Name       string  `json:"name"`
	Secret     string  `json:"secret"`
	Active     bool    `json:"active"`
	Remaining  int     `json:"remaining"`
	QuotaUsed  int     `json:"quota_used,omitempty"`
	ResetAt    *int64  `json:"reset_at,omitempty"`
	LastUsedAt *string `json:"last_used_at"`
}

// CredentialsResponse lists every pool and the rotation options.
type CredentialsResponse struct {
	Pools             []PoolResponse `json:"pools"`
	RetryOnExhaustion bool           `json:"retry_on_exhaustion"`
	AnonymousFallback bool           `json:"anonymous_fallback"`
}

// AddCredentialRequest is the JSON body for the add credential endpoint.
type AddCredentialRequest struct {
	Service string `json:"service"`
	Secret  string `json:"secret"`
	Name    string `json:"name"`
}

// UpdateCredentialRequest is the JSON body for the update credential endpoint.
type UpdateCredentialRequest struct {
	Active *bool `json:"active"`
}

// toProfileResponse converts a domain UserProfile to its JSON representation.
func toProfileResponse(p model.UserProfile) ProfileResponse {
	return ProfileResponse{
		Username:    p.Username,
		Name:        p.Name,
		Bio:         p.Bio,
		PublicRepos: p.PublicRepos,
		Followers:   p.Followers,
	}
}

// toReportResponse converts a domain Report to its JSON representation.
// Nil lists are rendered as empty arrays.
func toReportResponse(username string, r model.Report) ReportResponse {
	return ReportResponse{
		Username:           username,
		CandidateName:      r.CandidateName,
		TechnicalScore:     r.TechnicalScore,
		EstimatedLevel:     r.EstimatedLevel,
		PrimaryLanguages:   nonNil(r.PrimaryLanguages),
		TechnicalStrengths: nonNil(r.TechnicalStrengths),
		RedFlags:           nonNil(r.RedFlags),
		HiringVerdict:      r.HiringVerdict,
		SummaryReport:      r.SummaryReport,
		SummaryHTML:        RenderMarkdown(r.SummaryReport),
		Limited:            r.Limited,
	}
}

// toCredentialsResponse converts a state snapshot to its JSON representation.
func toCredentialsResponse(state model.State) CredentialsResponse {
	pools := make([]PoolResponse, 0, len(state.Pools))
	for _, p := range state.Pools {
		creds := make([]CredentialResponse, 0, len(p.Credentials))
		for _, c := range p.Credentials {
			creds = append(creds, toCredentialResponse(c))
		}
		pools = append(pools, PoolResponse{
			Service:     p.Service,
			Kind:        string(p.Kind),
			Strategy:    string(p.Strategy),
			Threshold:   p.Threshold,
			Credentials: creds,
		})
	}

	return CredentialsResponse{
		Pools:             pools,
		RetryOnExhaustion: state.Options.RetryOnExhaustion,
		AnonymousFallback: state.Options.AnonymousFallback,
	}
}

// toCredentialResponse converts a domain Credential to its masked JSON representation.
func toCredentialResponse(c model.Credential) CredentialResponse {
	var lastUsed *string
	if c.LastUsedAt != nil {
		s := c.LastUsedAt.UTC().Format(time.RFC3339)
		lastUsed = &s
	}

	return CredentialResponse{
		Name:       c.Name,
		Secret:     c.MaskedSecret(),
		Active:     c.Active,
		Remaining:  c.Remaining,
		QuotaUsed:  c.QuotaUsed,
		ResetAt:    c.ResetAt,
		LastUsedAt: lastUsed,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
