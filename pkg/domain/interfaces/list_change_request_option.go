package interfaces

import "github.com/secmon-lab/changegate/pkg/domain/types"

// ListChangeRequestOption is a functional option for filtering change requests in List
type ListChangeRequestOption func(*listChangeRequestConfig)

type listChangeRequestConfig struct {
	status      *types.ChangeStatus
	submittedBy *types.UserID
	assignee    *types.UserID
}

// WithStatus filters change requests by status
func WithStatus(status types.ChangeStatus) ListChangeRequestOption {
	return func(c *listChangeRequestConfig) {
		c.status = &status
	}
}

// WithSubmittedBy filters change requests by submitter
func WithSubmittedBy(id types.UserID) ListChangeRequestOption {
	return func(c *listChangeRequestConfig) {
		c.submittedBy = &id
	}
}

// WithAssignee filters change requests by assigned technician
func WithAssignee(id types.UserID) ListChangeRequestOption {
	return func(c *listChangeRequestConfig) {
		c.assignee = &id
	}
}

// BuildListChangeRequestConfig builds a listChangeRequestConfig from options
func BuildListChangeRequestConfig(opts ...ListChangeRequestOption) *listChangeRequestConfig {
	cfg := &listChangeRequestConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Status returns the status filter value, or nil if not set
func (c *listChangeRequestConfig) Status() *types.ChangeStatus {
	return c.status
}

// SubmittedBy returns the submitter filter value, or nil if not set
func (c *listChangeRequestConfig) SubmittedBy() *types.UserID {
	return c.submittedBy
}

// Assignee returns the assignee filter value, or nil if not set
func (c *listChangeRequestConfig) Assignee() *types.UserID {
	return c.assignee
}
