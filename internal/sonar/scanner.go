// internal/sonar/scanner.go
package sonar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	apperrors "repo-cadence-collector/internal/errors"
)

// DefaultScannerImage is the container image used to run analyses.
const DefaultScannerImage = "sonarsource/sonar-scanner-cli"

// Scanner runs sonar-scanner inside a container against a checked-out
// source tree. Each invocation is bounded by the configured timeout.
type Scanner struct {
	image   string
	host    string
	token   string
	timeout time.Duration
	logger  *slog.Logger
}

func NewScanner(image, host, token string, timeout time.Duration, logger *slog.Logger) *Scanner {
	if image == "" {
		image = DefaultScannerImage
	}
	return &Scanner{
		image:   image,
		host:    host,
		token:   token,
		timeout: timeout,
		logger:  logger,
	}
}

// Scan analyzes sourceDir under the given project key. The directory is
// mounted read-only into the scanner container.
func (s *Scanner) Scan(ctx context.Context, projectKey, sourceDir string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{
		"run", "--rm",
		"--network", "host",
		"-e", "SONAR_HOST_URL=" + s.host,
		"-e", "SONAR_TOKEN=" + s.token,
		"-v", sourceDir + ":/usr/src:ro",
		s.image,
		"-Dsonar.projectKey=" + projectKey,
		"-Dsonar.sources=.",
		"-Dsonar.scm.disabled=true",
	}

	s.logger.Info("starting scan", slog.String("project", projectKey), slog.String("dir", sourceDir))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &apperrors.ScannerError{ProjectKey: projectKey, Err: fmt.Errorf("scan exceeded %s", s.timeout)}
		}
		return &apperrors.ScannerError{ProjectKey: projectKey, Err: fmt.Errorf("%w: %s", err, truncate(stderr.String(), 512))}
	}

	s.logger.Info("scan finished",
		slog.String("project", projectKey),
		slog.Duration("took", time.Since(start)))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
