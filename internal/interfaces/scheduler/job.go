package scheduler

import "context"

// Job is a unit of work run by the worker pool.
type Job interface {
	// Execute runs the job. The context carries the per-job timeout.
	Execute(ctx context.Context) error

	// Tenant names the tenant the job works for, "*" for cross-tenant jobs.
	Tenant() string

	// Description is a human-readable label for logs and spans.
	Description() string
}
