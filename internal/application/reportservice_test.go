package application_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/gitscout/internal/application"
	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

// fakeGitHub is an in-memory driven.GitHubClient.
type fakeGitHub struct {
	mu        sync.Mutex
	profile   *model.UserProfile
	repos     []model.Repository
	meta      map[string]*model.Repository
	languages map[string][]string
	files     map[string]string // "repo/path" -> content
	trees     map[string][]model.TreeEntry
	treeRefs  []string
	fetched   []string
}

func (f *fakeGitHub) FetchUserProfile(_ context.Context, username string) (*model.UserProfile, error) {
	if f.profile == nil {
		return nil, fmt.Errorf("fetching user %s: %w", username, driven.ErrNotFound)
	}
	p := *f.profile
	return &p, nil
}

func (f *fakeGitHub) FetchRepositories(context.Context, string) ([]model.Repository, error) {
	return append([]model.Repository(nil), f.repos...), nil
}

func (f *fakeGitHub) FetchRepository(_ context.Context, _, repo string) (*model.Repository, error) {
	if m, ok := f.meta[repo]; ok {
		return m, nil
	}
	return nil, driven.ErrNotFound
}

func (f *fakeGitHub) FetchLanguages(_ context.Context, _, repo string) ([]string, error) {
	return f.languages[repo], nil
}

func (f *fakeGitHub) FetchFileContent(_ context.Context, _, repo, path string) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, repo+"/"+path)
	f.mu.Unlock()
	content, ok := f.files[repo+"/"+path]
	if !ok {
		return "", driven.ErrNotFound
	}
	return content, nil
}

func (f *fakeGitHub) FetchTree(_ context.Context, _, repo, ref string) ([]model.TreeEntry, error) {
	f.mu.Lock()
	f.treeRefs = append(f.treeRefs, repo+"@"+ref)
	f.mu.Unlock()
	tree, ok := f.trees[repo]
	if !ok {
		return nil, errors.New("tree unavailable")
	}
	return tree, nil
}

// fakeEvaluator records its input and returns a fixed result.
type fakeEvaluator struct {
	report  *model.Report
	err     error
	digests []model.RepoDigest
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _ model.UserProfile, repos []model.RepoDigest) (*model.Report, error) {
	f.digests = repos
	return f.report, f.err
}

func blob(p string) model.TreeEntry { return model.TreeEntry{Path: p, Type: "blob"} }

func octocatGitHub() *fakeGitHub {
	day := func(d int) time.Time { return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC) }
	return &fakeGitHub{
		profile: &model.UserProfile{Username: "octocat", Name: "The Octocat"},
		repos: []model.Repository{
			{Name: "old-star", Stars: 50, UpdatedAt: day(1), DefaultBranch: "main"},
			{Name: "fresh", Stars: 0, UpdatedAt: day(20), DefaultBranch: "main"},
			{Name: "new-star", Stars: 50, UpdatedAt: day(10), DefaultBranch: "trunk"},
			{Name: "mid", Stars: 7, UpdatedAt: day(5), DefaultBranch: "main"},
		},
		meta: map[string]*model.Repository{
			"new-star": {Name: "new-star", DefaultBranch: "develop", IsFork: true},
		},
		languages: map[string][]string{
			"new-star": {"Go", "Shell"},
			"old-star": {"Python"},
		},
		files: map[string]string{
			"new-star/README.md":                  strings.Repeat("r", 2000),
			"new-star/internal/app/deep/logic.go": strings.Repeat("x", 2500),
			"new-star/internal/app/service.go":    "package app",
			"new-star/cmd/main.go":                "package main",
			"new-star/web/src/index.ts":           "export {}",
		},
		trees: map[string][]model.TreeEntry{
			"new-star": {
				{Path: "internal", Type: "tree"},
				blob("main.go"),
				blob("cmd/main.go"),
				blob("internal/app/service.go"),
				blob("internal/app/service_test.go"),
				blob("internal/app/deep/logic.go"),
				blob("web/src/index.ts"),
				blob("web/node_modules/pkg/index.js"),
				blob("docs/guide.md"),
				blob("Testdata/fixture.go"),
			},
		},
	}
}

func TestGenerateReport_ScansTopRepositories(t *testing.T) {
	gh := octocatGitHub()
	want := &model.Report{CandidateName: "The Octocat", TechnicalScore: 88}
	eval := &fakeEvaluator{report: want}
	svc := application.NewReportService(gh, eval, discardLogger())

	report, err := svc.GenerateReport(context.Background(), "octocat")

	require.NoError(t, err)
	assert.Same(t, want, report)
	require.Len(t, eval.digests, 3)
	assert.Equal(t, "new-star", eval.digests[0].Name, "equal stars: most recently updated first")
	assert.Equal(t, "old-star", eval.digests[1].Name)
	assert.Equal(t, "mid", eval.digests[2].Name)

	assert.Equal(t, []string{"new-star@develop", "old-star@main", "mid@main"}, gh.treeRefs,
		"metadata default branch wins over the listing")
}

func TestGenerateReport_DigestContent(t *testing.T) {
	gh := octocatGitHub()
	eval := &fakeEvaluator{report: &model.Report{}}
	svc := application.NewReportService(gh, eval, discardLogger())

	_, err := svc.GenerateReport(context.Background(), "octocat")
	require.NoError(t, err)

	d := eval.digests[0]
	assert.True(t, d.IsFork)
	assert.Equal(t, []string{"Go", "Shell"}, d.Languages)
	assert.Len(t, d.Readme, 1500)
	assert.Equal(t, []string{".go", ".ts"}, d.Extensions)

	paths := make([]string, 0, len(d.CodeSamples))
	for _, s := range d.CodeSamples {
		paths = append(paths, s.Path)
	}
	assert.Equal(t, []string{
		"internal/app/deep/logic.go",
		"internal/app/service.go",
		"web/src/index.ts",
		"cmd/main.go",
	}, paths)
	assert.Len(t, d.CodeSamples[0].Content, 2000)

	other := eval.digests[1]
	assert.Equal(t, "No README", other.Readme)
	assert.Empty(t, other.CodeSamples)
}

func TestGenerateReport_LimitedWhenModelUnavailable(t *testing.T) {
	gh := octocatGitHub()
	eval := &fakeEvaluator{err: fmt.Errorf("evaluate octocat: %w", driven.ErrEvaluatorUnavailable)}
	svc := application.NewReportService(gh, eval, discardLogger())

	report, err := svc.GenerateReport(context.Background(), "octocat")

	require.NoError(t, err)
	assert.True(t, report.Limited)
	assert.Equal(t, "The Octocat", report.CandidateName)
	assert.Equal(t, []string{"Go", "Shell", "Python"}, report.PrimaryLanguages)
	assert.Equal(t, "Analysis limited due to missing API configuration.", report.SummaryReport)
}

func TestGenerateReport_NilEvaluator(t *testing.T) {
	svc := application.NewReportService(octocatGitHub(), nil, discardLogger())

	report, err := svc.GenerateReport(context.Background(), "octocat")

	require.NoError(t, err)
	assert.True(t, report.Limited)
}

func TestGenerateReport_EvaluatorFailure(t *testing.T) {
	boom := errors.New("model returned status 500")
	svc := application.NewReportService(octocatGitHub(), &fakeEvaluator{err: boom}, discardLogger())

	_, err := svc.GenerateReport(context.Background(), "octocat")

	assert.ErrorIs(t, err, boom)
}

func TestGenerateReport_UnknownUser(t *testing.T) {
	svc := application.NewReportService(&fakeGitHub{}, &fakeEvaluator{}, discardLogger())

	_, err := svc.GenerateReport(context.Background(), "nobody")

	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestGenerateReport_NoRepositories(t *testing.T) {
	gh := &fakeGitHub{profile: &model.UserProfile{Username: "empty"}}
	svc := application.NewReportService(gh, &fakeEvaluator{}, discardLogger())

	_, err := svc.GenerateReport(context.Background(), "empty")

	assert.ErrorIs(t, err, application.ErrNoRepositories)
}

func TestProfile(t *testing.T) {
	svc := application.NewReportService(octocatGitHub(), nil, discardLogger())

	profile, err := svc.Profile(context.Background(), "octocat")

	require.NoError(t, err)
	assert.Equal(t, "octocat", profile.Username)
}
