package repository

import (
	"fmt"
	"sort"
	"sync"

	"github.com/compozy/gitdeck/internal/domain"
)

// Registry supplies the authoritative set of tracked repositories.
type Registry interface {
	Lookup(repoID string) (domain.Repository, error)
	List() ([]domain.Repository, error)
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	repos map[string]domain.Repository
}

// NewMemoryRegistry creates a registry seeded with repos.
func NewMemoryRegistry(repos ...domain.Repository) *MemoryRegistry {
	r := &MemoryRegistry{repos: make(map[string]domain.Repository, len(repos))}
	for _, repo := range repos {
		r.repos[repo.ID] = repo
	}
	return r
}

// Lookup returns the repository registered under repoID.
func (r *MemoryRegistry) Lookup(repoID string) (domain.Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repos[repoID]
	if !ok {
		return domain.Repository{}, fmt.Errorf("%w: %s", domain.ErrUnknownRepository, repoID)
	}
	return repo, nil
}

// List returns every repository sorted by id.
func (r *MemoryRegistry) List() ([]domain.Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedRepos(r.repos), nil
}

// Put adds or replaces a repository.
func (r *MemoryRegistry) Put(repo domain.Repository) {
	r.mu.Lock()
	r.repos[repo.ID] = repo
	r.mu.Unlock()
}

// Delete removes a repository.
func (r *MemoryRegistry) Delete(repoID string) {
	r.mu.Lock()
	delete(r.repos, repoID)
	r.mu.Unlock()
}

func sortedRepos(m map[string]domain.Repository) []domain.Repository {
	out := make([]domain.Repository, 0, len(m))
	for _, repo := range m {
		out = append(out, repo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
