package ports

import (
	"context"

	"github.com/garymjr/beadworks/internal/domain"
)

// ListFilter narrows a tracker listing
type ListFilter struct {
	Status   domain.IssueStatus
	ParentID string
	Labels   []string
	Limit    int
}

// CreateIssueRequest describes a new tracker issue
type CreateIssueRequest struct {
	Title       string
	Description string
	IssueType   string
	Priority    int
	ParentID    string
	Labels      []string
}

// UpdateIssueRequest carries optional field changes; empty fields are left untouched
type UpdateIssueRequest struct {
	Status      domain.IssueStatus
	Title       string
	Description string
	Priority    *int
}

// Tracker is the request/response boundary to the external issue tracker
type Tracker interface {
	List(ctx context.Context, filter ListFilter) ([]domain.Issue, error)
	Show(ctx context.Context, id string) (*domain.Issue, error)
	Create(ctx context.Context, req CreateIssueRequest) (*domain.Issue, error)
	Update(ctx context.Context, id string, req UpdateIssueRequest) (*domain.Issue, error)
	Close(ctx context.Context, id, reason string) error
	Reopen(ctx context.Context, id string) error
	AddComment(ctx context.Context, id, text string) error
	// Subtasks returns the subject's children in tracker order with a completion summary
	Subtasks(ctx context.Context, id string) ([]domain.Issue, domain.SubtaskSummary, error)
	Search(ctx context.Context, query string) ([]domain.Issue, error)
}
