package domain

import (
	"time"

	"github.com/google/uuid"
)

// Trigger fires a graph materialization on a recurring five-field cron
// schedule. NextRunAt is the persisted due instant: firing compares against
// it, never against wall-clock deltas, so schedules survive restarts.
//
// A trigger materializes either its stored Template or, when the template is
// empty, a graph generated from Description at fire time.
type Trigger struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Expr        string      `json:"expr"`
	Description string      `json:"description,omitempty"`
	Template    []GraphNode `json:"template,omitempty"`
	Enabled     bool        `json:"enabled"`
	NextRunAt   time.Time   `json:"nextRunAt"`
	LastRunAt   *time.Time  `json:"lastRunAt,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// NewTrigger creates an enabled trigger; NextRunAt is set by the scheduler
// once the expression has been validated.
func NewTrigger(name, expr string) *Trigger {
	now := time.Now().UTC()
	return &Trigger{
		ID:        uuid.New().String(),
		Name:      name,
		Expr:      expr,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
