package application

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

// ErrNoRepositories is returned when a user has no public repositories to scan.
var ErrNoRepositories = errors.New("no repositories found")

// Scan limits applied to each candidate.
const (
	topRepoLimit     = 3
	sampleFileLimit  = 4
	readmeCharLimit  = 1500
	sampleCharLimit  = 2000
	readmePath       = "README.md"
	missingReadme    = "No README"
	limitedAnalysis  = "Analysis limited due to missing API configuration."
	limitedLevel     = "Unknown"
	limitedVerdict   = "Pending"
	excludedTestPart = "test"
	excludedVendored = "node_modules"
)

// codeExtensions lists the file extensions sampled as source code.
var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".cpp": true, ".c": true, ".cs": true, ".go": true,
	".rs": true, ".php": true, ".rb": true, ".swift": true, ".kt": true,
	".sql": true, ".vue": true, ".dart": true,
}

// ReportService builds hiring reports: it samples a candidate's strongest
// repositories from GitHub and hands the digest to the evaluator.
type ReportService struct {
	github    driven.GitHubClient
	evaluator driven.CandidateEvaluator
	logger    *slog.Logger
}

// NewReportService creates a ReportService. evaluator may be nil, in which
// case every report is a limited one.
func NewReportService(github driven.GitHubClient, evaluator driven.CandidateEvaluator, logger *slog.Logger) *ReportService {
	return &ReportService{
		github:    github,
		evaluator: evaluator,
		logger:    logger,
	}
}

// Profile returns the public profile of username.
func (s *ReportService) Profile(ctx context.Context, username string) (*model.UserProfile, error) {
	return s.github.FetchUserProfile(ctx, username)
}

// GenerateReport scans the user's top repositories and evaluates them. When
// the evaluator has no model credential a limited report built from the
// scan alone is returned instead.
func (s *ReportService) GenerateReport(ctx context.Context, username string) (*model.Report, error) {
	profile, err := s.github.FetchUserProfile(ctx, username)
	if err != nil {
		return nil, err
	}

	repos, err := s.topRepositories(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("report for %s: %w", username, ErrNoRepositories)
	}

	digests := make([]model.RepoDigest, 0, len(repos))
	for _, repo := range repos {
		digests = append(digests, s.scanRepository(ctx, username, repo))
	}

	if s.evaluator == nil {
		return limitedReport(*profile, digests), nil
	}

	report, err := s.evaluator.Evaluate(ctx, *profile, digests)
	if errors.Is(err, driven.ErrEvaluatorUnavailable) {
		s.logger.Warn("model unavailable, returning limited report", "username", username)
		return limitedReport(*profile, digests), nil
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

// topRepositories returns the user's repositories ranked by stars, then by
// most recent update.
func (s *ReportService) topRepositories(ctx context.Context, username string) ([]model.Repository, error) {
	repos, err := s.github.FetchRepositories(ctx, username)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(repos, func(a, b model.Repository) int {
		if c := cmp.Compare(b.Stars, a.Stars); c != 0 {
			return c
		}
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	if len(repos) > topRepoLimit {
		repos = repos[:topRepoLimit]
	}
	return repos, nil
}

// scanRepository collects metadata, languages, README and a few source files.
// Individual lookups that fail degrade the digest rather than the report.
func (s *ReportService) scanRepository(ctx context.Context, owner string, repo model.Repository) model.RepoDigest {
	s.logger.Info("scanning repository", "repo", owner+"/"+repo.Name)

	digest := model.RepoDigest{Name: repo.Name, IsFork: repo.IsFork}
	branch := cmp.Or(repo.DefaultBranch, "main")

	if meta, err := s.github.FetchRepository(ctx, owner, repo.Name); err != nil {
		s.logger.Warn("failed to fetch repository metadata", "repo", owner+"/"+repo.Name, "error", err)
	} else {
		branch = cmp.Or(meta.DefaultBranch, branch)
		digest.IsFork = meta.IsFork
	}

	if langs, err := s.github.FetchLanguages(ctx, owner, repo.Name); err != nil {
		s.logger.Warn("failed to fetch languages", "repo", owner+"/"+repo.Name, "error", err)
	} else {
		digest.Languages = langs
	}

	digest.Readme = missingReadme
	if readme, err := s.github.FetchFileContent(ctx, owner, repo.Name, readmePath); err == nil && readme != "" {
		digest.Readme = truncate(readme, readmeCharLimit)
	}

	tree, err := s.github.FetchTree(ctx, owner, repo.Name, branch)
	if err != nil {
		s.logger.Warn("failed to fetch tree", "repo", owner+"/"+repo.Name, "ref", branch, "error", err)
		return digest
	}

	for _, file := range selectCodeFiles(tree) {
		ext := path.Ext(file.Path)
		if !slices.Contains(digest.Extensions, ext) {
			digest.Extensions = append(digest.Extensions, ext)
		}

		content, err := s.github.FetchFileContent(ctx, owner, repo.Name, file.Path)
		if err != nil || content == "" {
			continue
		}
		digest.CodeSamples = append(digest.CodeSamples, model.CodeSample{
			Path:    file.Path,
			Content: truncate(content, sampleCharLimit),
		})
	}

	return digest
}

// selectCodeFiles picks up to sampleFileLimit source files, deepest paths
// first. Tests and vendored dependencies are skipped.
func selectCodeFiles(tree []model.TreeEntry) []model.TreeEntry {
	var files []model.TreeEntry
	for _, e := range tree {
		if e.Type == "tree" || !codeExtensions[path.Ext(e.Path)] {
			continue
		}
		if strings.Contains(strings.ToLower(e.Path), excludedTestPart) || strings.Contains(e.Path, excludedVendored) {
			continue
		}
		files = append(files, e)
	}

	slices.SortStableFunc(files, func(a, b model.TreeEntry) int {
		return cmp.Compare(strings.Count(b.Path, "/"), strings.Count(a.Path, "/"))
	})

	if len(files) > sampleFileLimit {
		files = files[:sampleFileLimit]
	}
	return files
}

// limitedReport summarises the scan without a model verdict.
func limitedReport(profile model.UserProfile, digests []model.RepoDigest) *model.Report {
	var langs []string
	for _, d := range digests {
		for _, l := range d.Languages {
			if !slices.Contains(langs, l) {
				langs = append(langs, l)
			}
		}
	}

	return &model.Report{
		CandidateName:      cmp.Or(profile.Name, profile.Username),
		EstimatedLevel:     limitedLevel,
		PrimaryLanguages:   langs,
		TechnicalStrengths: []string{},
		RedFlags:           []string{},
		HiringVerdict:      limitedVerdict,
		SummaryReport:      limitedAnalysis,
		Limited:            true,
	}
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
