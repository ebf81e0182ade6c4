package domain

// IssueStatus is the tracker-side status of a subject or subtask
type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "open"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusBlocked    IssueStatus = "blocked"
	IssueStatusClosed     IssueStatus = "closed"
)

// Issue is a tracked item: a subject work is performed against, or one of its subtasks
type Issue struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Status      IssueStatus `json:"status"`
	Priority    int         `json:"priority,omitempty"`
	IssueType   string      `json:"issue_type,omitempty"`
	Labels      []string    `json:"labels,omitempty"`
	ParentID    string      `json:"parent,omitempty"`
}

// Closed reports whether the issue is already done
func (i Issue) Closed() bool {
	return i.Status == IssueStatusClosed
}

// SubtaskSummary counts a subject's subtasks by completion
type SubtaskSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}
