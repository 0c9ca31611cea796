package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v60/github"
	"github.com/samber/lo"
)

// GitHubAdapter exposes repository inspection and pull request creation as
// catalog tools. Calls are scoped to one owner; the repo comes from the
// tool arguments.
type GitHubAdapter struct {
	client *github.Client
	owner  string
	logger *slog.Logger
}

// NewGitHubAdapter builds the adapter around an authenticated client.
func NewGitHubAdapter(token, owner string) *GitHubAdapter {
	return &GitHubAdapter{
		client: github.NewClient(nil).WithAuthToken(token),
		owner:  owner,
		logger: slog.Default().With("component", "github-tools"),
	}
}

// NewGitHubAdapterWithClient is the test constructor.
func NewGitHubAdapterWithClient(client *github.Client, owner string) *GitHubAdapter {
	return &GitHubAdapter{
		client: client,
		owner:  owner,
		logger: slog.Default().With("component", "github-tools"),
	}
}

// Register adds the GitHub tools to the catalog.
func (a *GitHubAdapter) Register(c *Catalog) {
	repoProp := Property{Type: "string", Description: "Repository name (without owner)"}

	c.MustRegister(Descriptor{
		Name:         "list_prs",
		Description:  "List pull requests in a repository, newest first. Use state=closed with the since filter to find recently merged changes.",
		Category:     CategoryRead,
		TargetSystem: "github",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"repo":  repoProp,
				"state": {Type: "string", Description: "PR state filter", Enum: []string{"open", "closed", "all"}},
				"limit": {Type: "integer", Description: "Maximum PRs to return (default 20)"},
			},
			Required: []string{"repo"},
		},
	}, a.listPRs)

	c.MustRegister(Descriptor{
		Name:         "list_issues",
		Description:  "List issues in a repository, newest first.",
		Category:     CategoryRead,
		TargetSystem: "github",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"repo":   repoProp,
				"state":  {Type: "string", Description: "Issue state filter", Enum: []string{"open", "closed", "all"}},
				"labels": {Type: "string", Description: "Comma-separated label filter"},
				"limit":  {Type: "integer", Description: "Maximum issues to return (default 20)"},
			},
			Required: []string{"repo"},
		},
	}, a.listIssues)

	c.MustRegister(Descriptor{
		Name:         "search_code",
		Description:  "Search code in the organization's repositories.",
		Category:     CategoryRead,
		TargetSystem: "github",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"query": {Type: "string", Description: "Code search query"},
				"repo":  {Type: "string", Description: "Restrict search to one repository"},
			},
			Required: []string{"query"},
		},
	}, a.searchCode)

	c.MustRegister(Descriptor{
		Name:         "get_file",
		Description:  "Fetch one file's content from a repository at a ref.",
		Category:     CategoryRead,
		TargetSystem: "github",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"repo": repoProp,
				"path": {Type: "string", Description: "File path in the repository"},
				"ref":  {Type: "string", Description: "Branch, tag or SHA (default branch when empty)"},
			},
			Required: []string{"repo", "path"},
		},
	}, a.getFile)

	c.MustRegister(Descriptor{
		Name:         "create_pull_request",
		Description:  "Open a pull request from an existing branch.",
		Category:     CategoryWrite,
		TargetSystem: "github",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"repo":  repoProp,
				"title": {Type: "string", Description: "PR title"},
				"body":  {Type: "string", Description: "PR description"},
				"head":  {Type: "string", Description: "Source branch"},
				"base":  {Type: "string", Description: "Target branch"},
			},
			Required: []string{"repo", "title", "head", "base"},
		},
	}, a.createPullRequest)
}

func (a *GitHubAdapter) listPRs(ctx context.Context, args map[string]any) (*Result, error) {
	repo := StringArg(args, "repo")
	limit := IntArg(args, "limit", 20)
	state := StringArg(args, "state")
	if state == "" {
		state = "open"
	}

	prs, _, err := a.client.PullRequests.List(ctx, a.owner, repo, &github.PullRequestListOptions{
		State:       state,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, classifyGitHubError(err)
	}
	if len(prs) > limit {
		prs = prs[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d pull requests in %s/%s (state=%s)\n", len(prs), a.owner, repo, state)
	for _, pr := range prs {
		mergedAt := ""
		if pr.MergedAt != nil {
			mergedAt = " merged=" + pr.MergedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "#%d [%s] %s by %s updated=%s%s\n",
			lo.FromPtr(pr.Number), lo.FromPtr(pr.State), lo.FromPtr(pr.Title),
			lo.FromPtr(pr.User.Login),
			lo.FromPtr(pr.UpdatedAt).Format(time.RFC3339), mergedAt)
	}
	return TextResult(b.String()), nil
}

func (a *GitHubAdapter) listIssues(ctx context.Context, args map[string]any) (*Result, error) {
	repo := StringArg(args, "repo")
	limit := IntArg(args, "limit", 20)
	state := StringArg(args, "state")
	if state == "" {
		state = "open"
	}

	opts := &github.IssueListByRepoOptions{
		State:       state,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: limit},
	}
	if labels := StringArg(args, "labels"); labels != "" {
		opts.Labels = strings.Split(labels, ",")
	}

	issues, _, err := a.client.Issues.ListByRepo(ctx, a.owner, repo, opts)
	if err != nil {
		return nil, classifyGitHubError(err)
	}

	var b strings.Builder
	count := 0
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		if count >= limit {
			break
		}
		count++
		fmt.Fprintf(&b, "#%d [%s] %s updated=%s\n",
			lo.FromPtr(issue.Number), lo.FromPtr(issue.State), lo.FromPtr(issue.Title),
			lo.FromPtr(issue.UpdatedAt).Format(time.RFC3339))
	}
	return TextResult(fmt.Sprintf("%d issues in %s/%s (state=%s)\n%s", count, a.owner, repo, state, b.String())), nil
}

func (a *GitHubAdapter) searchCode(ctx context.Context, args map[string]any) (*Result, error) {
	query := StringArg(args, "query")
	if repo := StringArg(args, "repo"); repo != "" {
		query = fmt.Sprintf("%s repo:%s/%s", query, a.owner, repo)
	} else {
		query = fmt.Sprintf("%s org:%s", query, a.owner)
	}

	result, _, err := a.client.Search.Code(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 30},
	})
	if err != nil {
		return nil, classifyGitHubError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d code matches for %q\n", lo.FromPtr(result.Total), query)
	for _, cr := range result.CodeResults {
		fmt.Fprintf(&b, "%s: %s\n", lo.FromPtr(cr.Repository.FullName), lo.FromPtr(cr.Path))
	}
	return TextResult(b.String()), nil
}

func (a *GitHubAdapter) getFile(ctx context.Context, args map[string]any) (*Result, error) {
	repo := StringArg(args, "repo")
	path := StringArg(args, "path")

	opts := &github.RepositoryContentGetOptions{Ref: StringArg(args, "ref")}
	file, _, _, err := a.client.Repositories.GetContents(ctx, a.owner, repo, path, opts)
	if err != nil {
		return nil, classifyGitHubError(err)
	}
	if file == nil {
		return nil, NewNotFoundError("%s is a directory, not a file", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, NewUpstreamError("failed to decode %s: %v", path, err)
	}
	return TextResult(content), nil
}

func (a *GitHubAdapter) createPullRequest(ctx context.Context, args map[string]any) (*Result, error) {
	repo := StringArg(args, "repo")

	pr, _, err := a.client.PullRequests.Create(ctx, a.owner, repo, &github.NewPullRequest{
		Title: github.String(StringArg(args, "title")),
		Body:  github.String(StringArg(args, "body")),
		Head:  github.String(StringArg(args, "head")),
		Base:  github.String(StringArg(args, "base")),
	})
	if err != nil {
		return nil, classifyGitHubError(err)
	}
	a.logger.Info("Created pull request",
		"repo", repo, "number", lo.FromPtr(pr.Number), "url", lo.FromPtr(pr.HTMLURL))
	return TextResult(fmt.Sprintf("created PR #%d: %s", lo.FromPtr(pr.Number), lo.FromPtr(pr.HTMLURL))), nil
}

// MergedPull is the correlator's view of a merged pull request.
type MergedPull struct {
	Number   int
	Title    string
	URL      string
	MergedAt time.Time
}

// MergedPulls returns pulls merged at or after since, newest first. Used to
// correlate incidents with recent deploys.
func (a *GitHubAdapter) MergedPulls(ctx context.Context, repo string, since time.Time) ([]MergedPull, error) {
	prs, _, err := a.client.PullRequests.List(ctx, a.owner, repo, &github.PullRequestListOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 50},
	})
	if err != nil {
		return nil, classifyGitHubError(err)
	}

	var out []MergedPull
	for _, pr := range prs {
		if pr.MergedAt == nil || pr.MergedAt.Time.Before(since) {
			continue
		}
		out = append(out, MergedPull{
			Number:   lo.FromPtr(pr.Number),
			Title:    lo.FromPtr(pr.Title),
			URL:      lo.FromPtr(pr.HTMLURL),
			MergedAt: pr.MergedAt.Time,
		})
	}
	return out, nil
}

func classifyGitHubError(err error) *ToolError {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *github.RateLimitError:
		return NewThrottledError("github rate limit exceeded, resets at %s", e.Rate.Reset.Format(time.RFC3339))
	case *github.AbuseRateLimitError:
		return NewThrottledError("github secondary rate limit: %s", e.Message)
	case *github.ErrorResponse:
		if e.Response != nil {
			return ClassifyHTTPStatus(e.Response.StatusCode, e.Message)
		}
		return NewUpstreamError("%s", e.Message)
	default:
		return AsToolError(err)
	}
}
