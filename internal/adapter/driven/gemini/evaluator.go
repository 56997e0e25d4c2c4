// Package gemini implements the CandidateEvaluator port on Google's Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/genai"

	"github.com/ericfisherdev/gitscout/internal/application"
	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-flash-latest"

// Compile-time interface satisfaction check.
var _ driven.CandidateEvaluator = (*Evaluator)(nil)

// dispatcher is the subset of application.Dispatcher the evaluator needs.
type dispatcher interface {
	Dispatch(ctx context.Context, service string, call application.CallFunc) (*application.Response, error)
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithHTTPClient sets the HTTP client used by the genai SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Evaluator) { e.httpClient = c }
}

// WithBaseURL points the SDK at a different API endpoint.
func WithBaseURL(u string) Option {
	return func(e *Evaluator) { e.baseURL = u }
}

// Evaluator scores candidates with a Gemini model. Every generation call is
// made through the dispatcher so API keys rotate and quota is tracked like
// any other credentialed request.
type Evaluator struct {
	dispatcher dispatcher
	model      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewEvaluator creates an Evaluator for modelName (DefaultModel when empty).
func NewEvaluator(d dispatcher, modelName string, logger *slog.Logger, opts ...Option) *Evaluator {
	if modelName == "" {
		modelName = DefaultModel
	}
	e := &Evaluator{
		dispatcher: d,
		model:      modelName,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate asks the model for a hiring report. It returns
// driven.ErrEvaluatorUnavailable when the google pool has no usable key.
func (e *Evaluator) Evaluate(ctx context.Context, profile model.UserProfile, repos []model.RepoDigest) (*model.Report, error) {
	prompt, err := buildPrompt(profile, repos)
	if err != nil {
		return nil, err
	}

	resp, err := e.dispatcher.Dispatch(ctx, model.ServiceGoogle, func(ctx context.Context, cred *model.Credential) (*application.Response, error) {
		return e.generate(ctx, cred, prompt)
	})
	if errors.Is(err, application.ErrNoCredential) {
		return nil, fmt.Errorf("evaluate %s: %w", profile.Username, driven.ErrEvaluatorUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", profile.Username, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && resp.Header.Get(headerNoKey) != "":
		return nil, fmt.Errorf("evaluate %s: %w", profile.Username, driven.ErrEvaluatorUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("evaluate %s: model returned status %d: %s", profile.Username, resp.StatusCode, resp.Body)
	}

	var report model.Report
	if err := json.Unmarshal([]byte(stripFences(string(resp.Body))), &report); err != nil {
		e.logger.Warn("model output is not valid JSON", "username", profile.Username, "output", string(resp.Body))
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if report.CandidateName == "" {
		report.CandidateName = candidateName(profile)
	}
	return &report, nil
}

// headerNoKey marks the synthetic response produced for anonymous attempts.
const headerNoKey = "X-Gitscout-No-Key"

// generate performs one generation attempt. API errors are turned into
// responses so the dispatcher can recognise quota exhaustion and rotate.
func (e *Evaluator) generate(ctx context.Context, cred *model.Credential, prompt string) (*application.Response, error) {
	if model.IsAnonymous(cred) {
		// The SDK falls back to environment variables when no key is given;
		// an anonymous Gemini call is never what the operator meant.
		return &application.Response{
			StatusCode: http.StatusUnauthorized,
			Header:     http.Header{headerNoKey: []string{"1"}},
			Body:       []byte("no API key available"),
		}, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cred.Secret,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  e.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: e.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize genai client: %w", err)
	}

	out, err := client.Models.GenerateContent(ctx, e.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		if resp, ok := apiErrorResponse(err); ok {
			return resp, nil
		}
		return nil, fmt.Errorf("generate content: %w", err)
	}

	return &application.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       []byte(out.Text()),
	}, nil
}

func apiErrorResponse(err error) (*application.Response, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) || apiErrPtr == nil {
			return nil, false
		}
		apiErr = *apiErrPtr
	}
	return &application.Response{
		StatusCode: apiErr.Code,
		Header:     http.Header{},
		Body:       []byte(apiErr.Status + ": " + apiErr.Message),
	}, true
}
