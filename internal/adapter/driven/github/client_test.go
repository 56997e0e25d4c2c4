package github_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghAdapter "github.com/ericfisherdev/gitscout/internal/adapter/driven/github"
	"github.com/ericfisherdev/gitscout/internal/adapter/driven/keyfile"
	"github.com/ericfisherdev/gitscout/internal/application"
	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

// newKeyring returns a keyring persisted to a temp file whose github pool
// holds the given secrets in order.
func newKeyring(t *testing.T, secrets ...string) *application.Keyring {
	t.Helper()
	ctx := context.Background()

	pool := model.NewPool(model.ServiceGitHub)
	for _, s := range secrets {
		pool.Credentials = append(pool.Credentials, model.Credential{Secret: s, Name: s, Remaining: 5000, Active: true})
	}
	store := keyfile.NewStore(filepath.Join(t.TempDir(), "keys_config.json"))
	require.NoError(t, store.Save(ctx, model.State{Pools: []model.Pool{pool}, Options: model.DefaultRotationOptions()}))

	k := application.NewKeyring(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, k.Load(ctx))
	return k
}

// newTestClient creates a Client backed by the given httptest handler and a
// dispatcher drawing from a keyring with the given github secrets.
func newTestClient(t *testing.T, handler http.Handler, secrets ...string) (*ghAdapter.Client, *application.Keyring) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	k := newKeyring(t, secrets...)
	cfg := application.DispatcherConfig{BaseDelay: time.Millisecond, AttemptTimeout: 5 * time.Second}
	disp := application.NewDispatcher(k, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	client, err := ghAdapter.NewClientWithBaseURL(disp, server.Client().Transport, server.URL+"/")
	require.NoError(t, err)

	return client, k
}

// authLog records the Authorization header of each request.
type authLog struct {
	mu     sync.Mutex
	values []string
}

func (a *authLog) record(r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values = append(a.values, r.Header.Get("Authorization"))
}

func (a *authLog) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.values...)
}

func writeJSON(w http.ResponseWriter, status int, remaining string, v any) {
	w.Header().Set("Content-Type", "application/json")
	if remaining != "" {
		w.Header().Set("X-RateLimit-Remaining", remaining)
		w.Header().Set("X-RateLimit-Reset", "1772370000")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetchUserProfile(t *testing.T) {
	auth := &authLog{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.record(r)
		assert.Equal(t, "/users/octocat", r.URL.Path)
		assert.Equal(t, "gitscout", r.Header.Get("User-Agent"))
		writeJSON(w, http.StatusOK, "4999", map[string]any{
			"login":        "octocat",
			"name":         "The Octocat",
			"bio":          "Tentacles",
			"public_repos": 8,
			"followers":    4000,
		})
	})

	client, k := newTestClient(t, handler, "ghp_alpha")
	profile, err := client.FetchUserProfile(context.Background(), "octocat")

	require.NoError(t, err)
	assert.Equal(t, &model.UserProfile{
		Username:    "octocat",
		Name:        "The Octocat",
		Bio:         "Tentacles",
		PublicRepos: 8,
		Followers:   4000,
	}, profile)
	assert.Equal(t, []string{"token ghp_alpha"}, auth.all())

	cred := k.Snapshot().Pool(model.ServiceGitHub).Credentials[0]
	assert.Equal(t, 4999, cred.Remaining)
	require.NotNil(t, cred.ResetAt)
	assert.Equal(t, int64(1772370000), *cred.ResetAt)
}

func TestFetchUserProfile_Defaults(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, "", map[string]any{"login": "ghost"})
	})

	client, _ := newTestClient(t, handler, "ghp_alpha")
	profile, err := client.FetchUserProfile(context.Background(), "ghost")

	require.NoError(t, err)
	assert.Equal(t, "ghost", profile.Name)
	assert.Equal(t, "No bio", profile.Bio)
}

func TestFetchUserProfile_NotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, "4998", map[string]any{"message": "Not Found"})
	})

	client, _ := newTestClient(t, handler, "ghp_alpha")
	_, err := client.FetchUserProfile(context.Background(), "nobody")

	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestFetchUserProfile_RotatesPastRateLimitedToken(t *testing.T) {
	auth := &authLog{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.record(r)
		if r.Header.Get("Authorization") == "token ghp_spent" {
			writeJSON(w, http.StatusForbidden, "0", map[string]any{
				"message": "API rate limit exceeded for user ID 1.",
			})
			return
		}
		writeJSON(w, http.StatusOK, "4321", map[string]any{"login": "octocat"})
	})

	client, k := newTestClient(t, handler, "ghp_spent", "ghp_fresh")
	profile, err := client.FetchUserProfile(context.Background(), "octocat")

	require.NoError(t, err)
	assert.Equal(t, "octocat", profile.Username)
	assert.Equal(t, []string{"token ghp_spent", "token ghp_fresh"}, auth.all())

	creds := k.Snapshot().Pool(model.ServiceGitHub).Credentials
	assert.False(t, creds[0].Active)
	assert.True(t, creds[1].Active)
	assert.Equal(t, 4321, creds[1].Remaining)
}

func TestFetchUserProfile_PlaceholderTokenIsNotSent(t *testing.T) {
	auth := &authLog{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.record(r)
		writeJSON(w, http.StatusOK, "59", map[string]any{"login": "octocat"})
	})

	client, k := newTestClient(t, handler, "PASTE_YOUR_TOKEN_HERE")
	_, err := client.FetchUserProfile(context.Background(), "octocat")

	require.NoError(t, err)
	assert.Equal(t, []string{""}, auth.all())
	assert.Equal(t, 5000, k.Snapshot().Pool(model.ServiceGitHub).Credentials[0].Remaining)
}

func TestFetchRepositories(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/octocat/repos", r.URL.Path)
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		writeJSON(w, http.StatusOK, "4990", []map[string]any{
			{
				"name":             "hello-world",
				"full_name":        "octocat/hello-world",
				"default_branch":   "master",
				"fork":             false,
				"stargazers_count": 80,
				"updated_at":       "2026-01-02T12:00:00Z",
			},
			{
				"name":             "linguist",
				"full_name":        "octocat/linguist",
				"fork":             true,
				"stargazers_count": 3,
				"updated_at":       "2025-06-01T00:00:00Z",
			},
		})
	})

	client, _ := newTestClient(t, handler, "ghp_alpha")
	repos, err := client.FetchRepositories(context.Background(), "octocat")

	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, model.Repository{
		Name:          "hello-world",
		FullName:      "octocat/hello-world",
		DefaultBranch: "master",
		Stars:         80,
		UpdatedAt:     time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC),
	}, repos[0])
	assert.True(t, repos[1].IsFork)
	assert.Equal(t, "main", repos[1].DefaultBranch, "missing default branch falls back to main")
}

func TestFetchRepository(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octocat/hello-world", r.URL.Path)
		writeJSON(w, http.StatusOK, "", map[string]any{
			"name":           "hello-world",
			"full_name":      "octocat/hello-world",
			"default_branch": "trunk",
			"fork":           true,
		})
	})

	client, _ := newTestClient(t, handler, "ghp_alpha")
	repo, err := client.FetchRepository(context.Background(), "octocat", "hello-world")

	require.NoError(t, err)
	assert.Equal(t, "trunk", repo.DefaultBranch)
	assert.True(t, repo.IsFork)
}

func TestFetchLanguages_OrderedByBytes(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octocat/hello-world/languages", r.URL.Path)
		writeJSON(w, http.StatusOK, "", map[string]int{"Shell": 120, "Go": 98000, "Makefile": 120, "TypeScript": 4000})
	})

	client, _ := newTestClient(t, handler, "ghp_alpha")
	langs, err := client.FetchLanguages(context.Background(), "octocat", "hello-world")

	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "TypeScript", "Makefile", "Shell"}, langs)
}

func TestFetchFileContent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octocat/hello-world/contents/README.md", r.URL.Path)
		writeJSON(w, http.StatusOK, "", map[string]any{
			"type":     "file",
			"encoding": "base64",
			"path":     "README.md",
			"content":  base64.StdEncoding.EncodeToString([]byte("# Hello\n")),
		})
	})

	client, _ := newTestClient(t, handler, "ghp_alpha")
	content, err := client.FetchFileContent(context.Background(), "octocat", "hello-world", "README.md")

	require.NoError(t, err)
	assert.Equal(t, "# Hello\n", content)
}

func TestFetchFileContent_Directory(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, "", []map[string]any{
			{"type": "file", "path": "src/main.go"},
		})
	})

	client, _ := newTestClient(t, handler, "ghp_alpha")
	_, err := client.FetchFileContent(context.Background(), "octocat", "hello-world", "src")

	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestFetchFileContent_Missing(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, "", map[string]any{"message": "Not Found"})
	})

	client, _ := newTestClient(t, handler, "ghp_alpha")
	_, err := client.FetchFileContent(context.Background(), "octocat", "hello-world", "README.md")

	assert.ErrorIs(t, err, driven.ErrNotFound)
}

func TestFetchTree(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octocat/hello-world/git/trees/main", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		writeJSON(w, http.StatusOK, "", map[string]any{
			"sha": "abc",
			"tree": []map[string]any{
				{"path": "cmd", "type": "tree"},
				{"path": "cmd/main.go", "type": "blob"},
			},
			"truncated": false,
		})
	})

	client, _ := newTestClient(t, handler, "ghp_alpha")
	entries, err := client.FetchTree(context.Background(), "octocat", "hello-world", "main")

	require.NoError(t, err)
	assert.Equal(t, []model.TreeEntry{
		{Path: "cmd", Type: "tree"},
		{Path: "cmd/main.go", Type: "blob"},
	}, entries)
}
