package subject

import (
	"context"
	"fmt"
	"sort"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/crucible-edu/crucible/model"
)

// GitHub is a directory backed by the GitHub API, for deployments where
// student projects are GitHub repositories. The subject ID is "owner/repo";
// the repo name becomes the title, the description the abstract, and the
// language breakdown the tech stack.
type GitHub struct {
	gh *gogh.Client
}

// NewGitHub creates a GitHub-backed directory authenticated with the given token.
func NewGitHub(token string) *GitHub {
	return &GitHub{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

func (d *GitHub) Lookup(ctx context.Context, id string) (*Subject, error) {
	owner, repo, err := SplitRepo(id)
	if err != nil {
		return nil, err
	}

	r, _, err := d.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: subject %q: %v", model.ErrNotFound, id, err)
	}

	langs, _, err := d.gh.Repositories.ListLanguages(ctx, owner, repo)
	if err != nil {
		// Languages are nice-to-have context; a lookup without them still works.
		langs = nil
	}

	return &Subject{
		ID:        id,
		Title:     r.GetName(),
		Abstract:  r.GetDescription(),
		TechStack: sortedLanguages(langs),
	}, nil
}

// sortedLanguages orders languages by descending byte count so the dominant
// stack comes first in judge context.
func sortedLanguages(langs map[string]int) []string {
	names := make([]string, 0, len(langs))
	for name := range langs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if langs[names[i]] != langs[names[j]] {
			return langs[names[i]] > langs[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// SplitRepo splits "owner/repo" into its parts.
func SplitRepo(id string) (owner, repo string, err error) {
	parts := strings.Split(id, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: subject ID %q must be in owner/repo format", model.ErrValidation, id)
	}
	return parts[0], parts[1], nil
}
