package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
)

// ErrEvaluatorUnavailable is returned by CandidateEvaluator when no usable
// model credential exists.
var ErrEvaluatorUnavailable = errors.New("evaluator unavailable: no model credential configured")

// CandidateEvaluator defines the driven port for the generative model that
// scores a candidate from their profile and sampled repositories.
type CandidateEvaluator interface {
	Evaluate(ctx context.Context, profile model.UserProfile, repos []model.RepoDigest) (*model.Report, error)
}
