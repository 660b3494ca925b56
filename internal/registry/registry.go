// Package registry persists the set of configured integrations: the catalog
// namespaces the planner may route steps to.
package registry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no integration with the given id exists.
var ErrNotFound = errors.New("integration not found")

// Integration is one configured platform: its retrieval namespace, display
// name and the base address its operations are issued against.
type Integration struct {
	ID          string    `json:"integration_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	APIBase     string    `json:"api_base"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Registry is the integration store boundary.
type Registry interface {
	Create(ctx context.Context, in Integration) (Integration, error)
	Get(ctx context.Context, id string) (Integration, error)
	List(ctx context.Context) ([]Integration, error)
	Delete(ctx context.Context, id string) error
}
