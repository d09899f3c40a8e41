// Package github wraps the GitHub API behind the read-only surface the sync
// work units consume: org members and pull-request history with reviews.
package github

import (
	"context"
	"time"

	gh "github.com/google/go-github/v55/github"
	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Member is one organization member.
type Member struct {
	Login string
	Name  string
}

// PullRequest is one pull request with enough history for metric
// aggregation. Reviewers are the distinct logins that submitted a review.
type PullRequest struct {
	Repo      string
	Number    int
	Title     string
	Author    string
	Additions int
	Deletions int
	Reviewers []string
	CreatedAt time.Time
	MergedAt  time.Time
	UpdatedAt time.Time
}

// Client defines the GitHub operations used by the sync work units.
type Client interface {
	ListMembers(ctx context.Context, org string) ([]Member, error)
	// ListPullRequests returns PRs for one repo updated at or after since,
	// newest first, resuming an incremental sync from that watermark.
	ListPullRequests(ctx context.Context, org, repo string, since time.Time) ([]PullRequest, error)
}

// ClientOption configures the GitHub client.
type ClientOption func(*ghClient)

// WithRateLimit overrides the default request rate (2 req/s).
func WithRateLimit(rps float64) ClientOption {
	return func(c *ghClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type ghClient struct {
	inner   *gh.Client
	limiter *rate.Limiter
}

// NewClient creates a GitHub client authenticated with a static token.
// Requests are throttled to stay under the provider's secondary limits.
func NewClient(token string, opts ...ClientOption) Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)

	c := &ghClient{
		inner:   gh.NewClient(tc),
		limiter: rate.NewLimiter(2, 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ghClient) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

func (c *ghClient) ListMembers(ctx context.Context, org string) ([]Member, error) {
	var all []Member
	opts := &gh.ListMembersOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	for {
		if err := c.wait(ctx); err != nil {
			return nil, eris.Wrap(err, "github: rate wait")
		}

		users, resp, err := c.inner.Organizations.ListMembers(ctx, org, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "github: list members for %s", org)
		}

		for _, u := range users {
			all = append(all, Member{
				Login: u.GetLogin(),
				Name:  u.GetName(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

func (c *ghClient) ListPullRequests(ctx context.Context, org, repo string, since time.Time) ([]PullRequest, error) {
	var all []PullRequest
	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	for {
		if err := c.wait(ctx); err != nil {
			return nil, eris.Wrap(err, "github: rate wait")
		}

		prs, resp, err := c.inner.PullRequests.List(ctx, org, repo, opts)
		if err != nil {
			// Empty repositories report 409; treat as no history.
			if resp != nil && resp.StatusCode == 409 {
				return all, nil
			}
			return nil, eris.Wrapf(err, "github: list pull requests for %s/%s", org, repo)
		}

		done := false
		for _, pr := range prs {
			if !since.IsZero() && pr.GetUpdatedAt().Time.Before(since) {
				// Results are sorted by updated desc; everything past the
				// watermark is older.
				done = true
				break
			}

			reviewers, err := c.listReviewers(ctx, org, repo, pr.GetNumber())
			if err != nil {
				return nil, err
			}
			// The list payload carries no additions/deletions; only the
			// single-PR endpoint does.
			additions, deletions, err := c.prSize(ctx, org, repo, pr.GetNumber())
			if err != nil {
				return nil, err
			}

			all = append(all, PullRequest{
				Repo:      repo,
				Number:    pr.GetNumber(),
				Title:     pr.GetTitle(),
				Author:    pr.GetUser().GetLogin(),
				Additions: additions,
				Deletions: deletions,
				Reviewers: reviewers,
				CreatedAt: pr.GetCreatedAt().Time,
				MergedAt:  pr.GetMergedAt().Time,
				UpdatedAt: pr.GetUpdatedAt().Time,
			})
		}

		if done || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

func (c *ghClient) prSize(ctx context.Context, org, repo string, number int) (int, int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, 0, eris.Wrap(err, "github: rate wait")
	}

	detail, _, err := c.inner.PullRequests.Get(ctx, org, repo, number)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "github: get pull request %s/%s#%d", org, repo, number)
	}
	return detail.GetAdditions(), detail.GetDeletions(), nil
}

func (c *ghClient) listReviewers(ctx context.Context, org, repo string, number int) ([]string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "github: rate wait")
	}

	reviews, _, err := c.inner.PullRequests.ListReviews(ctx, org, repo, number, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, eris.Wrapf(err, "github: list reviews for %s/%s#%d", org, repo, number)
	}

	seen := make(map[string]bool)
	var logins []string
	for _, r := range reviews {
		login := r.GetUser().GetLogin()
		if login == "" || seen[login] {
			continue
		}
		seen[login] = true
		logins = append(logins, login)
	}
	return logins, nil
}
