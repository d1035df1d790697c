// internal/gitclone/clone.go
package gitclone

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"

	apperrors "repo-cadence-collector/internal/errors"
)

// DefaultMaxBytes caps how large a working copy may grow before it is
// rejected for analysis.
const DefaultMaxBytes = 2 << 30 // 2 GiB

// Cloner produces shallow, single-branch checkouts under a base directory.
// Each worker gets its own directory so concurrent clones never collide.
type Cloner struct {
	baseDir  string
	timeout  time.Duration
	maxBytes int64
	logger   *slog.Logger
}

func NewCloner(baseDir string, timeout time.Duration, maxBytes int64, logger *slog.Logger) *Cloner {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Cloner{
		baseDir:  baseDir,
		timeout:  timeout,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Clone checks out the default branch of owner/name at depth 1 and returns
// the checkout directory. Oversized results are removed and reported as a
// resource limit error.
func (c *Cloner) Clone(ctx context.Context, owner, name string, workerID int) (string, error) {
	dir := filepath.Join(c.baseDir, fmt.Sprintf("%s_%s_%d", owner, name, workerID))
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("prepare clone dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cloneURL := fmt.Sprintf("https://github.com/%s/%s.git", owner, name)
	c.logger.Info("cloning repository", slog.String("url", cloneURL), slog.Int("worker", workerID))

	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          cloneURL,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	})
	if err != nil {
		c.Cleanup(dir)
		return "", fmt.Errorf("clone %s/%s: %w", owner, name, err)
	}

	size, err := dirSize(dir)
	if err != nil {
		c.Cleanup(dir)
		return "", fmt.Errorf("measure clone %s/%s: %w", owner, name, err)
	}
	if size > c.maxBytes {
		c.Cleanup(dir)
		return "", &apperrors.ResourceLimitError{SizeBytes: size, LimitBytes: c.maxBytes}
	}

	return dir, nil
}

// Cleanup removes a checkout. Object files under .git may be read-only,
// so a failed removal retries after loosening permissions.
func (c *Cloner) Cleanup(dir string) {
	if err := os.RemoveAll(dir); err == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		_ = os.Chmod(path, 0o700)
		return nil
	})
	if err := os.RemoveAll(dir); err != nil {
		c.logger.Warn("failed to clean up clone", slog.String("dir", dir), slog.Any("error", err))
	}
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
