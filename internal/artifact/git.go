package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/logging"
)

const defaultAuthor = "storyforge"

// GitRecorder commits each task's output into a repository at the output
// root, initializing the repository on first use.
type GitRecorder struct {
	dir    string
	author string
	email  string
	now    func() time.Time
	logger *logging.Logger

	mu sync.Mutex
}

// NewGitRecorder creates a recorder for the repository at dir
func NewGitRecorder(dir, author string, logger *logging.Logger) *GitRecorder {
	if author == "" {
		author = defaultAuthor
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GitRecorder{
		dir:    dir,
		author: author,
		email:  author + "@localhost",
		now:    time.Now,
		logger: logger.Named("git"),
	}
}

func (g *GitRecorder) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(g.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return git.PlainInit(g.dir, false)
	}
	return repo, err
}

// Record stages the task directory and commits it. It returns the commit
// hash, or "" when nothing changed.
func (g *GitRecorder) Record(ctx context.Context, taskID string, fileCount int) (string, error) {
	if err := validateName(taskID); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := g.open()
	if err != nil {
		return "", fmt.Errorf("open repository %s: %w", g.dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{Path: taskID}); err != nil {
		return "", fmt.Errorf("stage %s: %w", taskID, err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	if !hasStaged(status) {
		g.logger.Debug(ctx, "nothing to commit", zap.String("task_id", taskID))
		return "", nil
	}

	msg := fmt.Sprintf("storyforge: %s (%d files)", taskID, fileCount)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		AllowEmptyCommits: false,
		Author: &object.Signature{
			Name:  g.author,
			Email: g.email,
			When:  g.now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	g.logger.Info(ctx, "task output committed", zap.String("task_id", taskID), zap.String("commit", hash.String()))
	return hash.String(), nil
}

// hasStaged ignores untracked files outside the staged task directory
func hasStaged(status git.Status) bool {
	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			return true
		}
	}
	return false
}
