// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	apperrors "repo-cadence-collector/internal/errors"
	"repo-cadence-collector/internal/model"
)

const perPageMax = 100

// Client is a wrapper around the go-github client. Every call runs through
// the shared retry state machine, so callers never see a raw rate-limit or
// transient error.
type Client struct {
	gh        *github.Client
	logger    *slog.Logger
	policy    retryPolicy
	pagePause time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMaxAttempts caps the transient-error retry budget per request.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.policy.maxAttempts = n }
}

// WithBackoff sets the transient-error backoff schedule.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.policy.initialBackoff = initial
		c.policy.maxBackoff = max
	}
}

// WithRateLimitMargin sets the safety margin added to the advertised
// rate-limit reset instant.
func WithRateLimitMargin(d time.Duration) Option {
	return func(c *Client) { c.policy.rateLimitMargin = d }
}

// WithPagePause sets the politeness pause between successive search pages.
func WithPagePause(d time.Duration) Option {
	return func(c *Client) { c.pagePause = d }
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger, opts ...Option) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	c := &Client{
		gh:     github.NewClient(tc),
		logger: logger,
		policy: defaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns up to maxResults repositories matching the query, sorted by
// stars descending. Pagination is handled internally; fewer upstream matches
// return fewer results without error. A failure mid-pagination returns the
// pages gathered so far together with the error.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]model.RepositorySummary, error) {
	var results []model.RepositorySummary

	opts := &github.SearchOptions{
		Sort:  "stars",
		Order: "desc",
		ListOptions: github.ListOptions{
			PerPage: min(perPageMax, maxResults),
		},
	}

	for len(results) < maxResults {
		remaining := maxResults - len(results)
		opts.PerPage = min(perPageMax, remaining)

		var page []*github.Repository
		var nextPage int
		err := c.execute(ctx, "search repositories", func() error {
			c.logger.Debug("Searching repositories", "query", query, "page", opts.Page)
			res, resp, err := c.gh.Search.Repositories(ctx, query, opts)
			if err != nil {
				return err
			}
			page = res.Repositories
			nextPage = resp.NextPage
			return nil
		})
		if err != nil {
			return results, fmt.Errorf("search %q: %w", query, err)
		}

		for _, repo := range page {
			results = append(results, toSummary(repo))
		}
		if nextPage == 0 || len(page) == 0 {
			break
		}
		opts.Page = nextPage

		if c.pagePause > 0 {
			if err := sleepCtx(ctx, c.pagePause); err != nil {
				return results, err
			}
		}
	}

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// GetDetails fetches the record-shaped detail view for one repository. A
// missing or inaccessible repository returns ErrNotFound, which callers treat
// as "no data", not as a batch failure.
func (c *Client) GetDetails(ctx context.Context, owner, name string) (*model.RepositoryDetails, error) {
	var repo *github.Repository
	err := c.execute(ctx, "get repository", func() error {
		r, _, err := c.gh.Repositories.Get(ctx, owner, name)
		if err != nil {
			return err
		}
		repo = r
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	total, err := c.releaseCount(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	return &model.RepositoryDetails{
		Summary:       toSummary(repo),
		TotalReleases: total,
	}, nil
}

// GetAllReleases fetches the complete release history for a repository,
// paginating until the upstream reports no further pages.
func (c *Client) GetAllReleases(ctx context.Context, owner, name string) ([]model.ReleaseEvent, error) {
	var events []model.ReleaseEvent

	opts := &github.ListOptions{PerPage: perPageMax}
	for {
		var page []*github.RepositoryRelease
		var nextPage int
		err := c.execute(ctx, "list releases", func() error {
			c.logger.Debug("Fetching releases page", "owner", owner, "repo", name, "page", opts.Page)
			releases, resp, err := c.gh.Repositories.ListReleases(ctx, owner, name, opts)
			if err != nil {
				return err
			}
			page = releases
			nextPage = resp.NextPage
			return nil
		})
		if err != nil {
			if isNotFound(err) {
				return nil, apperrors.ErrNotFound
			}
			return nil, err
		}

		for _, rel := range page {
			events = append(events, toReleaseEvent(rel))
		}
		if nextPage == 0 {
			break
		}
		opts.Page = nextPage
	}

	return events, nil
}

// ContributorCount returns the number of contributors, anonymous ones
// included. It requests a single item per page and reads the total off the
// Link header's last page, which costs one call regardless of size.
func (c *Client) ContributorCount(ctx context.Context, owner, name string) (int, error) {
	opts := &github.ListContributorsOptions{
		Anon:        "true",
		ListOptions: github.ListOptions{PerPage: 1},
	}

	var count int
	err := c.execute(ctx, "count contributors", func() error {
		contributors, resp, err := c.gh.Repositories.ListContributors(ctx, owner, name, opts)
		if err != nil {
			return err
		}
		if resp.LastPage > 0 {
			count = resp.LastPage
		} else {
			count = len(contributors)
		}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return 0, apperrors.ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

// releaseCount uses the same last-page trick to get the total release count.
func (c *Client) releaseCount(ctx context.Context, owner, name string) (int, error) {
	opts := &github.ListOptions{PerPage: 1}

	var count int
	err := c.execute(ctx, "count releases", func() error {
		releases, resp, err := c.gh.Repositories.ListReleases(ctx, owner, name, opts)
		if err != nil {
			return err
		}
		if resp.LastPage > 0 {
			count = resp.LastPage
		} else {
			count = len(releases)
		}
		return nil
	})
	return count, err
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) &&
		ghErr.Response != nil &&
		ghErr.Response.StatusCode == http.StatusNotFound
}

// toSummary translates a github.Repository to our internal summary model.
func toSummary(r *github.Repository) model.RepositorySummary {
	return model.RepositorySummary{
		Owner:    r.GetOwner().GetLogin(),
		Name:     r.GetName(),
		Stars:    r.GetStargazersCount(),
		Forks:    r.GetForksCount(),
		Language: r.Language,
	}
}

// toReleaseEvent translates a github.RepositoryRelease to a release event.
func toReleaseEvent(r *github.RepositoryRelease) model.ReleaseEvent {
	ev := model.ReleaseEvent{CreatedAt: r.GetCreatedAt().Time}
	if r.PublishedAt != nil {
		t := r.PublishedAt.Time
		ev.PublishedAt = &t
	}
	return ev
}
