package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	jira "github.com/andygrunwald/go-jira"
)

// JiraAdapter exposes issue tracking as catalog tools and as typed methods
// for the ticket correlator. The catalog tools exist so the model (and the
// audit trail) can reach Jira; the correlator calls the typed methods
// through the same client.
type JiraAdapter struct {
	client  *jira.Client
	project string
	logger  *slog.Logger
}

// NewJiraAdapter builds the adapter with API-token basic auth.
func NewJiraAdapter(baseURL, email, apiToken, project string) (*JiraAdapter, error) {
	transport := jira.BasicAuthTransport{
		Username: email,
		Password: apiToken,
	}
	client, err := jira.NewClient(transport.Client(), baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build jira client: %w", err)
	}
	return &JiraAdapter{
		client:  client,
		project: project,
		logger:  slog.Default().With("component", "jira-tools"),
	}, nil
}

// NewJiraAdapterWithClient is the test constructor.
func NewJiraAdapterWithClient(client *jira.Client, project string) *JiraAdapter {
	return &JiraAdapter{
		client:  client,
		project: project,
		logger:  slog.Default().With("component", "jira-tools"),
	}
}

// Project returns the default project key.
func (a *JiraAdapter) Project() string { return a.project }

// Register adds the Jira tools to the catalog.
func (a *JiraAdapter) Register(c *Catalog) {
	c.MustRegister(Descriptor{
		Name:         "search_issues",
		Description:  "Search issues with a JQL query.",
		Category:     CategoryRead,
		TargetSystem: "jira",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"jql":   {Type: "string", Description: "JQL query"},
				"limit": {Type: "integer", Description: "Maximum issues to return (default 20)"},
			},
			Required: []string{"jql"},
		},
	}, a.searchIssues)

	c.MustRegister(Descriptor{
		Name:         "create_issue",
		Description:  "Create an issue in the incident project.",
		Category:     CategoryWrite,
		TargetSystem: "jira",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"summary":     {Type: "string", Description: "Issue summary"},
				"description": {Type: "string", Description: "Issue description"},
				"issue_type":  {Type: "string", Description: "Issue type (default Bug)"},
				"priority":    {Type: "string", Description: "Priority name", Enum: []string{"Blocker", "Critical", "Major", "Minor"}},
			},
			Required: []string{"summary", "description"},
		},
	}, a.createIssue)

	c.MustRegister(Descriptor{
		Name:         "add_issue_comment",
		Description:  "Add a comment to an existing issue.",
		Category:     CategoryWrite,
		TargetSystem: "jira",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"key":  {Type: "string", Description: "Issue key, e.g. OPS-123"},
				"body": {Type: "string", Description: "Comment body"},
			},
			Required: []string{"key", "body"},
		},
	}, a.addIssueComment)

	c.MustRegister(Descriptor{
		Name:         "update_issue",
		Description:  "Update an issue's summary, description or priority.",
		Category:     CategoryWrite,
		TargetSystem: "jira",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"key":         {Type: "string", Description: "Issue key"},
				"summary":     {Type: "string", Description: "New summary"},
				"description": {Type: "string", Description: "New description"},
				"priority":    {Type: "string", Description: "New priority name"},
			},
			Required: []string{"key"},
		},
	}, a.updateIssue)

	c.MustRegister(Descriptor{
		Name:         "transition_issue",
		Description:  "Move an issue to a new workflow status by transition name.",
		Category:     CategoryWrite,
		TargetSystem: "jira",
		InputSchema: &Schema{
			Properties: map[string]Property{
				"key":        {Type: "string", Description: "Issue key"},
				"transition": {Type: "string", Description: "Transition name, e.g. Done"},
			},
			Required: []string{"key", "transition"},
		},
	}, a.transitionIssue)
}

func (a *JiraAdapter) searchIssues(ctx context.Context, args map[string]any) (*Result, error) {
	jql := StringArg(args, "jql")
	limit := IntArg(args, "limit", 20)

	issues, resp, err := a.client.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{MaxResults: limit})
	if err != nil {
		return nil, classifyJiraError(resp, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d issues for %q\n", len(issues), jql)
	for _, issue := range issues {
		status, priority := "", ""
		if issue.Fields.Status != nil {
			status = issue.Fields.Status.Name
		}
		if issue.Fields.Priority != nil {
			priority = issue.Fields.Priority.Name
		}
		fmt.Fprintf(&b, "%s [%s/%s] %s\n", issue.Key, status, priority, issue.Fields.Summary)
	}
	return TextResult(b.String()), nil
}

func (a *JiraAdapter) createIssue(ctx context.Context, args map[string]any) (*Result, error) {
	issueType := StringArg(args, "issue_type")
	if issueType == "" {
		issueType = "Bug"
	}
	key, err := a.CreateTicket(ctx,
		StringArg(args, "summary"),
		StringArg(args, "description"),
		issueType,
		StringArg(args, "priority"))
	if err != nil {
		return nil, err
	}
	return TextResult(fmt.Sprintf("created issue %s", key)), nil
}

func (a *JiraAdapter) addIssueComment(ctx context.Context, args map[string]any) (*Result, error) {
	key := StringArg(args, "key")
	if err := a.AddTicketComment(ctx, key, StringArg(args, "body")); err != nil {
		return nil, err
	}
	return TextResult(fmt.Sprintf("commented on %s", key)), nil
}

func (a *JiraAdapter) updateIssue(ctx context.Context, args map[string]any) (*Result, error) {
	key := StringArg(args, "key")

	fields := &jira.IssueFields{}
	changed := false
	if s := StringArg(args, "summary"); s != "" {
		fields.Summary = s
		changed = true
	}
	if d := StringArg(args, "description"); d != "" {
		fields.Description = d
		changed = true
	}
	if p := StringArg(args, "priority"); p != "" {
		fields.Priority = &jira.Priority{Name: p}
		changed = true
	}
	if !changed {
		return nil, NewValidationError("update_issue requires at least one of summary, description, priority")
	}

	_, resp, err := a.client.Issue.UpdateWithContext(ctx, &jira.Issue{Key: key, Fields: fields})
	if err != nil {
		return nil, classifyJiraError(resp, err)
	}
	a.logger.Info("Updated issue", "key", key)
	return TextResult(fmt.Sprintf("updated issue %s", key)), nil
}

func (a *JiraAdapter) transitionIssue(ctx context.Context, args map[string]any) (*Result, error) {
	key := StringArg(args, "key")
	name := StringArg(args, "transition")

	transitions, resp, err := a.client.Issue.GetTransitionsWithContext(ctx, key)
	if err != nil {
		return nil, classifyJiraError(resp, err)
	}
	for _, t := range transitions {
		if strings.EqualFold(t.Name, name) {
			if resp, err := a.client.Issue.DoTransitionWithContext(ctx, key, t.ID); err != nil {
				return nil, classifyJiraError(resp, err)
			}
			a.logger.Info("Transitioned issue", "key", key, "transition", t.Name)
			return TextResult(fmt.Sprintf("transitioned %s via %q", key, t.Name)), nil
		}
	}
	return nil, NewValidationError("issue %s has no transition named %q", key, name)
}

// Ticket is the correlator's view of an existing issue.
type Ticket struct {
	Key      string
	Summary  string
	Status   string
	Priority string
	Resolved bool
}

// FindBySummary returns the newest unresolved-or-resolved issue whose
// summary matches exactly, or nil when none exists.
func (a *JiraAdapter) FindBySummary(ctx context.Context, summary string) (*Ticket, error) {
	jql := fmt.Sprintf(`project = %q AND summary ~ %q ORDER BY created DESC`, a.project, summary)
	issues, resp, err := a.client.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{MaxResults: 10})
	if err != nil {
		return nil, classifyJiraError(resp, err)
	}
	// The ~ operator is a text match; require summary equality so
	// "[prod] api: CrashLoopBackOff" never matches "[prod] api-gateway: ...".
	for _, issue := range issues {
		if issue.Fields.Summary != summary {
			continue
		}
		t := &Ticket{Key: issue.Key, Summary: issue.Fields.Summary}
		if issue.Fields.Status != nil {
			t.Status = issue.Fields.Status.Name
			cat := issue.Fields.Status.StatusCategory.Key
			t.Resolved = cat == "done" || issue.Fields.Resolution != nil
		}
		if issue.Fields.Priority != nil {
			t.Priority = issue.Fields.Priority.Name
		}
		return t, nil
	}
	return nil, nil
}

// CreateTicket creates an issue and returns its key.
func (a *JiraAdapter) CreateTicket(ctx context.Context, summary, description, issueType, priority string) (string, error) {
	fields := &jira.IssueFields{
		Project:     jira.Project{Key: a.project},
		Type:        jira.IssueType{Name: issueType},
		Summary:     summary,
		Description: description,
	}
	if priority != "" {
		fields.Priority = &jira.Priority{Name: priority}
	}
	issue, resp, err := a.client.Issue.CreateWithContext(ctx, &jira.Issue{Fields: fields})
	if err != nil {
		return "", classifyJiraError(resp, err)
	}
	a.logger.Info("Created issue", "key", issue.Key, "summary", summary)
	return issue.Key, nil
}

// AddTicketComment appends a comment to an issue.
func (a *JiraAdapter) AddTicketComment(ctx context.Context, key, body string) error {
	_, resp, err := a.client.Issue.AddCommentWithContext(ctx, key, &jira.Comment{Body: body})
	if err != nil {
		return classifyJiraError(resp, err)
	}
	a.logger.Info("Commented on issue", "key", key)
	return nil
}

// TicketComments returns the comment bodies of an issue, oldest first.
func (a *JiraAdapter) TicketComments(ctx context.Context, key string) ([]string, error) {
	issue, resp, err := a.client.Issue.GetWithContext(ctx, key, &jira.GetQueryOptions{Fields: "comment"})
	if err != nil {
		return nil, classifyJiraError(resp, err)
	}
	if issue.Fields == nil || issue.Fields.Comments == nil {
		return nil, nil
	}
	bodies := make([]string, 0, len(issue.Fields.Comments.Comments))
	for _, c := range issue.Fields.Comments.Comments {
		bodies = append(bodies, c.Body)
	}
	return bodies, nil
}

func classifyJiraError(resp *jira.Response, err error) *ToolError {
	if err == nil {
		return nil
	}
	if resp != nil && resp.Response != nil {
		return ClassifyHTTPStatus(resp.StatusCode, err.Error())
	}
	return AsToolError(err)
}
