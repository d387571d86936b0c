package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/compozy/gitdeck/internal/domain"
	"github.com/go-git/go-git/v5"
	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// RegistrySchemaVersion defines the current schema version for registry files
	RegistrySchemaVersion = "1.0.0"
	// RegistryFilePermissions defines the permissions for registry files
	RegistryFilePermissions = 0600
	// RegistryDirPermissions defines the permissions for the registry directory
	RegistryDirPermissions = 0700
	// LockTimeout defines the maximum time to wait for a lock
	LockTimeout = 30 * time.Second
	// LockRetryInterval defines the interval between lock retry attempts
	LockRetryInterval = 100 * time.Millisecond
)

// ErrNotGitRepository indicates the path is not inside a git working copy.
var ErrNotGitRepository = errors.New("not a git working copy")

// RegistryMetadata contains metadata about the registry file
type RegistryMetadata struct {
	SchemaVersion string    `json:"schema_version"`
	Checksum      string    `json:"checksum"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// registryFile is the on-disk layout
type registryFile struct {
	Metadata     RegistryMetadata    `json:"metadata"`
	Repositories []domain.Repository `json:"repositories"`
}

// FileRegistry persists tracked repositories as a checksummed JSON file.
// Writes take a cross-process flock when backed by the OS filesystem.
type FileRegistry struct {
	fs     afero.Fs
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	repos map[string]domain.Repository
}

// NewFileRegistry opens the registry at path, creating nothing until the first write.
func NewFileRegistry(ctx context.Context, fs afero.Fs, path string, logger *zap.Logger) (*FileRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &FileRegistry{
		fs:     fs,
		path:   path,
		logger: logger,
		repos:  make(map[string]domain.Repository),
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Lookup returns the repository registered under repoID.
func (r *FileRegistry) Lookup(repoID string) (domain.Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repos[repoID]
	if !ok {
		return domain.Repository{}, fmt.Errorf("%w: %s", domain.ErrUnknownRepository, repoID)
	}
	return repo, nil
}

// List returns every repository sorted by id.
func (r *FileRegistry) List() ([]domain.Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedRepos(r.repos), nil
}

// Reload re-reads the registry file.
func (r *FileRegistry) Reload(ctx context.Context) error {
	return r.withLock(ctx, func() error {
		repos, err := r.read()
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.repos = repos
		r.mu.Unlock()
		return nil
	})
}

// Add discovers the working copy containing path and registers it. An empty
// id defaults to the base name of the working copy root.
func (r *FileRegistry) Add(ctx context.Context, id, path string) (domain.Repository, error) {
	root, err := DiscoverWorkingCopy(path)
	if err != nil {
		return domain.Repository{}, err
	}
	if strings.TrimSpace(id) == "" {
		id = filepath.Base(root)
	}
	repo := domain.Repository{ID: id, Path: root}
	err = r.update(ctx, func(repos map[string]domain.Repository) error {
		if existing, ok := repos[id]; ok && existing.Path != root {
			return fmt.Errorf("repository id %q already tracks %s", id, existing.Path)
		}
		repos[id] = repo
		return nil
	})
	if err != nil {
		return domain.Repository{}, err
	}
	r.logger.Info("repository tracked", zap.String("repo", id), zap.String("path", root))
	return repo, nil
}

// Remove untracks repoID.
func (r *FileRegistry) Remove(ctx context.Context, repoID string) error {
	return r.update(ctx, func(repos map[string]domain.Repository) error {
		if _, ok := repos[repoID]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownRepository, repoID)
		}
		delete(repos, repoID)
		return nil
	})
}

// DiscoverWorkingCopy returns the root of the working copy containing path.
func DiscoverWorkingCopy(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", fmt.Errorf("%w: %s", ErrNotGitRepository, abs)
		}
		return "", fmt.Errorf("failed to open git repository at %s: %w", abs, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotGitRepository, abs, err)
	}
	return wt.Filesystem.Root(), nil
}

func (r *FileRegistry) update(ctx context.Context, mutate func(map[string]domain.Repository) error) error {
	return r.withLock(ctx, func() error {
		repos, err := r.read()
		if err != nil {
			return err
		}
		if err := mutate(repos); err != nil {
			return err
		}
		if err := r.write(repos); err != nil {
			return err
		}
		r.mu.Lock()
		r.repos = repos
		r.mu.Unlock()
		return nil
	})
}

func (r *FileRegistry) read() (map[string]domain.Repository, error) {
	repos := make(map[string]domain.Repository)
	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return repos, nil
		}
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry file: %w", err)
	}
	if file.Metadata.SchemaVersion != RegistrySchemaVersion {
		return nil, fmt.Errorf("incompatible schema version: expected %s, got %s",
			RegistrySchemaVersion, file.Metadata.SchemaVersion)
	}
	checksum, err := checksumRepos(file.Repositories)
	if err != nil {
		return nil, err
	}
	if checksum != file.Metadata.Checksum {
		return nil, fmt.Errorf("registry checksum mismatch: data may be corrupted")
	}
	for _, repo := range file.Repositories {
		repos[repo.ID] = repo
	}
	return repos, nil
}

func (r *FileRegistry) write(repos map[string]domain.Repository) error {
	if err := r.fs.MkdirAll(filepath.Dir(r.path), RegistryDirPermissions); err != nil {
		return fmt.Errorf("failed to ensure registry directory: %w", err)
	}
	list := sortedRepos(repos)
	checksum, err := checksumRepos(list)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(registryFile{
		Metadata: RegistryMetadata{
			SchemaVersion: RegistrySchemaVersion,
			Checksum:      checksum,
			UpdatedAt:     time.Now().UTC(),
		},
		Repositories: list,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	tempFile := r.path + ".tmp"
	if err := afero.WriteFile(r.fs, tempFile, data, RegistryFilePermissions); err != nil {
		return fmt.Errorf("failed to write temp registry file: %w", err)
	}
	if err := r.fs.Rename(tempFile, r.path); err != nil {
		if removeErr := r.fs.Remove(tempFile); removeErr != nil {
			r.logger.Warn("failed to remove temp registry file", zap.Error(removeErr))
		}
		return fmt.Errorf("failed to rename registry file: %w", err)
	}
	return nil
}

// withLock serializes fn against other processes when the registry lives on
// the OS filesystem; in-memory filesystems only need the process mutex.
func (r *FileRegistry) withLock(ctx context.Context, fn func() error) error {
	if _, ok := r.fs.(*afero.OsFs); !ok {
		return fn()
	}
	if err := r.fs.MkdirAll(filepath.Dir(r.path), RegistryDirPermissions); err != nil {
		return fmt.Errorf("failed to ensure registry directory: %w", err)
	}
	lock := flock.New(r.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, LockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, LockRetryInterval)
	if err != nil {
		return fmt.Errorf("failed to acquire registry lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("could not acquire registry lock within timeout")
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			r.logger.Warn("failed to unlock registry", zap.Error(unlockErr))
		}
	}()
	return fn()
}

func checksumRepos(repos []domain.Repository) (string, error) {
	data, err := json.Marshal(repos)
	if err != nil {
		return "", fmt.Errorf("failed to marshal registry for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
