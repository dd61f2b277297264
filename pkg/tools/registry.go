package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"chatloom/pkg/logger"
	"chatloom/pkg/models"
	"chatloom/pkg/store"
)

const (
	defaultWindowHours = 24
	maxAlertLimit      = 50
)

// BuildTools returns the tool map for one request, each tool a closure over
// the immutable ToolContext so concurrent requests never share scope. All
// queries are read-only and workspace-scoped. workspace_overview is
// suggested (in guidance text only) as the first call; nothing enforces
// ordering.
func BuildTools(tc ToolContext) map[string]Tool {
	return map[string]Tool{
		"workspace_overview": workspaceOverviewTool(tc),
		"list_alerts":        listAlertsTool(tc),
		"my_open_items":      myOpenItemsTool(tc),
	}
}

// RepoOverview summarizes one monitored repo's alert counts.
type RepoOverview struct {
	Name         string `json:"name"`
	URL          string `json:"url,omitempty"`
	Open         int    `json:"open"`
	Acknowledged int    `json:"acknowledged"`
	Resolved     int    `json:"resolved"`
}

// OverviewResult is the workspace_overview structured result.
type OverviewResult struct {
	Workspace string         `json:"workspace"`
	Repos     []RepoOverview `json:"repos"`
	Note      string         `json:"note,omitempty"`
}

type overviewInput struct{}

func workspaceOverviewTool(tc ToolContext) Tool {
	return Tool{
		Name: "workspace_overview",
		Description: "Summarize the monitored repositories in the current workspace with alert counts per state. " +
			"Call this first to learn which repositories exist before drilling into alerts.",
		Parameters: schemaFor(&overviewInput{}),
		Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
			res := OverviewResult{Workspace: tc.WorkspaceID, Repos: []RepoOverview{}}
			repos, err := store.ListRepos(tc.WorkspaceID)
			if err != nil {
				logger.Warn("tool_overview_repos_failed", "workspace", tc.WorkspaceID, "error", err.Error())
				res.Note = "repository lookup failed; results may be incomplete"
				return res, nil
			}
			alerts, err := store.ListAlerts(tc.WorkspaceID, 0)
			if err != nil {
				logger.Warn("tool_overview_alerts_failed", "workspace", tc.WorkspaceID, "error", err.Error())
				res.Note = "alert lookup failed; counts omitted"
				alerts = nil
			}
			counts := map[string]*RepoOverview{}
			for _, r := range repos {
				counts[r.Name] = &RepoOverview{Name: r.Name, URL: r.URL}
			}
			for _, a := range alerts {
				ov, ok := counts[a.Repo]
				if !ok {
					continue
				}
				switch a.State {
				case models.AlertStateOpen:
					ov.Open++
				case models.AlertStateAcknowledged:
					ov.Acknowledged++
				case models.AlertStateResolved:
					ov.Resolved++
				}
			}
			for _, r := range repos {
				res.Repos = append(res.Repos, *counts[r.Name])
			}
			return res, nil
		},
		ToModelOutput: renderOverview,
	}
}

func renderOverview(result any) string {
	res, ok := result.(OverviewResult)
	if !ok {
		return "no overview available"
	}
	var b strings.Builder
	if len(res.Repos) == 0 {
		b.WriteString("The workspace monitors no repositories.")
	} else {
		fmt.Fprintf(&b, "The workspace monitors %d repositories:\n", len(res.Repos))
		for _, r := range res.Repos {
			name := r.Name
			if r.URL != "" {
				name = fmt.Sprintf("[%s](%s)", r.Name, r.URL)
			}
			fmt.Fprintf(&b, "- %s: %d open, %d acknowledged, %d resolved alerts\n",
				name, r.Open, r.Acknowledged, r.Resolved)
		}
	}
	if res.Note != "" {
		fmt.Fprintf(&b, "\nNote: %s", res.Note)
	}
	return b.String()
}

// AlertItem is one rendered alert row.
type AlertItem struct {
	ID       string  `json:"id"`
	Repo     string  `json:"repo"`
	Title    string  `json:"title"`
	State    string  `json:"state"`
	Assignee string  `json:"assignee,omitempty"`
	AgeHours float64 `json:"ageHours"`
	Link     string  `json:"link,omitempty"`
}

// AlertsResult is the list_alerts / my_open_items structured result.
type AlertsResult struct {
	Alerts    []AlertItem `json:"alerts"`
	Truncated bool        `json:"truncated"`
	Note      string      `json:"note,omitempty"`
}

type listAlertsInput struct {
	// WindowHours limits results to alerts created in the last N hours.
	WindowHours int `json:"windowHours,omitempty" jsonschema:"description=How many hours back to look (default 24)"`
	// Limit caps the number of returned alerts (server caps at 50).
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum number of alerts to return"`
	// State filters to open, acknowledged or resolved alerts.
	State string `json:"state,omitempty" jsonschema:"description=Filter by alert state,enum=open,enum=acknowledged,enum=resolved"`
	// Repo filters to a single repository by name.
	Repo string `json:"repo,omitempty" jsonschema:"description=Filter by repository name"`
}

func listAlertsTool(tc ToolContext) Tool {
	return Tool{
		Name: "list_alerts",
		Description: "List alerts raised against the workspace's monitored repositories within a time window, " +
			"optionally filtered by state or repository. Use workspace_overview first to learn repository names.",
		Parameters: schemaFor(&listAlertsInput{}),
		Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
			var in listAlertsInput
			if err := decodeInput(input, &in); err != nil {
				return AlertsResult{Alerts: []AlertItem{}, Note: "input not understood: " + err.Error()}, nil
			}
			return queryAlerts(tc, in)
		},
		ToModelOutput: renderAlerts,
	}
}

type myOpenItemsInput struct {
	// Limit caps the number of returned items (server caps at 50).
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum number of items to return"`
}

func myOpenItemsTool(tc ToolContext) Tool {
	return Tool{
		Name: "my_open_items",
		Description: "List the unresolved alerts assigned to the current user across the workspace's " +
			"monitored repositories.",
		Parameters: schemaFor(&myOpenItemsInput{}),
		Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
			var in myOpenItemsInput
			if err := decodeInput(input, &in); err != nil {
				return AlertsResult{Alerts: []AlertItem{}, Note: "input not understood: " + err.Error()}, nil
			}
			// open items stay relevant far longer than fresh alerts
			res, err := queryAlerts(tc, listAlertsInput{Limit: in.Limit, WindowHours: 24 * 30})
			if err != nil {
				return res, err
			}
			mine := []AlertItem{}
			for _, a := range res.Alerts {
				if a.Assignee == tc.UserID && a.State != models.AlertStateResolved {
					mine = append(mine, a)
				}
			}
			res.Alerts = mine
			return res, nil
		},
		ToModelOutput: renderAlerts,
	}
}

func queryAlerts(tc ToolContext, in listAlertsInput) (AlertsResult, error) {
	res := AlertsResult{Alerts: []AlertItem{}}

	window := in.WindowHours
	if window <= 0 {
		window = defaultWindowHours
	}
	limit := in.Limit
	if limit <= 0 || limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	now := time.Now().UTC()
	sinceTS := now.Add(-time.Duration(window) * time.Hour).UnixNano()

	repos, err := store.ListRepos(tc.WorkspaceID)
	if err != nil {
		logger.Warn("tool_alerts_repos_failed", "workspace", tc.WorkspaceID, "error", err.Error())
		res.Note = "repository lookup failed"
		return res, nil
	}
	repoURLs := map[string]string{}
	for _, r := range repos {
		repoURLs[r.Name] = r.URL
	}

	alerts, err := store.ListAlerts(tc.WorkspaceID, sinceTS)
	if err != nil {
		logger.Warn("tool_alerts_failed", "workspace", tc.WorkspaceID, "error", err.Error())
		res.Note = "alert lookup failed"
		return res, nil
	}

	for _, a := range alerts {
		if in.State != "" && a.State != in.State {
			continue
		}
		if in.Repo != "" && a.Repo != in.Repo {
			continue
		}
		if _, monitored := repoURLs[a.Repo]; !monitored {
			continue
		}
		item := AlertItem{
			ID:       a.ID,
			Repo:     a.Repo,
			Title:    a.Title,
			State:    a.State,
			Assignee: a.AssigneeID,
			AgeHours: now.Sub(time.Unix(0, a.CreatedTS)).Hours(),
		}
		if url := repoURLs[a.Repo]; url != "" {
			item.Link = fmt.Sprintf("%s/alerts/%s", strings.TrimRight(url, "/"), a.ID)
		}
		res.Alerts = append(res.Alerts, item)
	}
	// newest first reads better in a transcript
	sort.SliceStable(res.Alerts, func(i, j int) bool {
		return res.Alerts[i].AgeHours < res.Alerts[j].AgeHours
	})
	if len(res.Alerts) > limit {
		res.Alerts = res.Alerts[:limit]
		res.Truncated = true
	}
	return res, nil
}

func renderAlerts(result any) string {
	res, ok := result.(AlertsResult)
	if !ok {
		return "no alerts available"
	}
	var b strings.Builder
	if len(res.Alerts) == 0 {
		b.WriteString("No matching alerts found.")
	} else {
		byState := map[string][]AlertItem{}
		order := []string{}
		for _, a := range res.Alerts {
			if _, seen := byState[a.State]; !seen {
				order = append(order, a.State)
			}
			byState[a.State] = append(byState[a.State], a)
		}
		for _, state := range order {
			fmt.Fprintf(&b, "%s:\n", strings.ToUpper(state[:1])+state[1:])
			for _, a := range byState[state] {
				title := a.Title
				if a.Link != "" {
					title = fmt.Sprintf("[%s](%s)", a.Title, a.Link)
				}
				fmt.Fprintf(&b, "- %s (%s, %.1fh old", title, a.Repo, a.AgeHours)
				if a.Assignee != "" {
					fmt.Fprintf(&b, ", assigned to %s", a.Assignee)
				}
				b.WriteString(")\n")
			}
		}
	}
	if res.Truncated {
		b.WriteString("\nThe list was truncated; narrow the window or filters to see more.")
	}
	if res.Note != "" {
		fmt.Fprintf(&b, "\nNote: %s", res.Note)
	}
	return b.String()
}
