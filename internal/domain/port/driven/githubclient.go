package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
)

// ErrNotFound is returned by GitHubClient methods when the requested user,
// repository or file does not exist.
var ErrNotFound = errors.New("not found")

// GitHubClient defines the driven port for reading public GitHub data.
// Every call is routed through the credential dispatcher by the adapter.
type GitHubClient interface {
	FetchUserProfile(ctx context.Context, username string) (*model.UserProfile, error)
	// FetchRepositories lists the user's repositories, most recently updated first.
	FetchRepositories(ctx context.Context, username string) ([]model.Repository, error)
	FetchRepository(ctx context.Context, owner, repo string) (*model.Repository, error)
	// FetchLanguages returns language names ordered by bytes of code, largest first.
	FetchLanguages(ctx context.Context, owner, repo string) ([]string, error)
	// FetchFileContent returns the decoded content of a file on the default branch.
	FetchFileContent(ctx context.Context, owner, repo, path string) (string, error)
	// FetchTree returns every entry of the recursive tree at ref.
	FetchTree(ctx context.Context, owner, repo, ref string) ([]model.TreeEntry, error)
}
