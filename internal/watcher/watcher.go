// Package watcher schedules status refreshes when a tracked working copy
// changes on disk.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/compozy/gitdeck/internal/domain"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces bursts of filesystem events into one refresh.
const DefaultDebounce = 300 * time.Millisecond

// ignoredDirs are never watched inside a working tree.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".cache":       true,
}

// ignoredGitPaths churn without changing status.
var ignoredGitPaths = []string{"objects", "logs", "index.lock", "FETCH_HEAD", "gc.pid"}

type repoWatch struct {
	repo    domain.Repository
	watcher *fsnotify.Watcher
	timer   *time.Timer
	done    chan struct{}
}

// Watcher keeps one fsnotify watcher per repository and calls onChange with
// the repository id after events settle for the debounce interval.
type Watcher struct {
	mu       sync.Mutex
	repos    map[string]*repoWatch
	onChange func(repoID string)
	debounce time.Duration
	logger   *zap.Logger
}

// New creates a watcher. A non-positive debounce uses DefaultDebounce.
func New(onChange func(repoID string), debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		repos:    make(map[string]*repoWatch),
		onChange: onChange,
		debounce: debounce,
		logger:   logger,
	}
}

// Watch starts watching repo. Watching an already watched id is a no-op.
func (w *Watcher) Watch(repo domain.Repository) error {
	w.mu.Lock()
	if _, ok := w.repos[repo.ID]; ok {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher for %s: %w", repo.ID, err)
	}
	if err := addTree(fsw, repo.Path); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", repo.Path, err)
	}
	gitDir := filepath.Join(repo.Path, ".git")
	if info, statErr := os.Stat(gitDir); statErr == nil && info.IsDir() {
		if err := fsw.Add(gitDir); err != nil {
			w.logger.Warn("failed to watch git dir", zap.String("repo", repo.ID), zap.Error(err))
		}
	}
	rw := &repoWatch{repo: repo, watcher: fsw, done: make(chan struct{})}
	w.mu.Lock()
	if _, ok := w.repos[repo.ID]; ok {
		w.mu.Unlock()
		_ = fsw.Close()
		return nil
	}
	w.repos[repo.ID] = rw
	w.mu.Unlock()
	go w.observe(rw)
	w.logger.Debug("watching repository", zap.String("repo", repo.ID), zap.String("path", repo.Path))
	return nil
}

// Unwatch stops watching repoID and drops any pending refresh.
func (w *Watcher) Unwatch(repoID string) {
	w.mu.Lock()
	rw, ok := w.repos[repoID]
	if ok {
		delete(w.repos, repoID)
		if rw.timer != nil {
			rw.timer.Stop()
		}
	}
	w.mu.Unlock()
	if ok {
		_ = rw.watcher.Close()
		<-rw.done
	}
}

// Watched returns the ids currently watched.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.repos))
	for id := range w.repos {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every watch.
func (w *Watcher) Close() {
	for _, id := range w.Watched() {
		w.Unwatch(id)
	}
}

func (w *Watcher) observe(rw *repoWatch) {
	defer close(rw.done)
	for {
		select {
		case ev, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if isIgnored(rw.repo.Path, ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !isGitPath(rw.repo.Path, ev.Name) {
					if err := addTree(rw.watcher, ev.Name); err != nil {
						w.logger.Debug("failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			w.schedule(rw)
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.String("repo", rw.repo.ID), zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(rw *repoWatch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if current, ok := w.repos[rw.repo.ID]; !ok || current != rw {
		return
	}
	if rw.timer != nil {
		rw.timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		current, ok := w.repos[rw.repo.ID]
		fire := ok && current == rw && rw.timer == timer
		if fire {
			rw.timer = nil
		}
		w.mu.Unlock()
		if fire && w.onChange != nil {
			w.onChange(rw.repo.ID)
		}
	})
	rw.timer = timer
}

// addTree watches root and every directory below it except ignored ones.
func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func isGitPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator))
}

// isIgnored filters events that do not change what status reports.
func isIgnored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if parts[0] == ".git" {
		if len(parts) == 1 {
			return true
		}
		for _, ignored := range ignoredGitPaths {
			if parts[1] == ignored {
				return true
			}
		}
		return strings.HasSuffix(path, ".lock")
	}
	for _, part := range parts {
		if ignoredDirs[part] {
			return true
		}
	}
	return false
}
