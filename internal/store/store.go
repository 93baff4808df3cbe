// Package store persists response records, alerts and dynamic configuration.
package store

import (
	"context"
	"errors"
	"time"

	"emotrack-go/internal/types"
)

var ErrNotFound = errors.New("record not found")

// Store is the persistence surface the pipeline depends on.
type Store interface {
	GetResponse(ctx context.Context, id int64) (*types.ResponseRecord, error)
	CreateResponse(ctx context.Context, r *types.ResponseRecord) error
	// SaveResponse overwrites every field of an existing record.
	SaveResponse(ctx context.Context, r *types.ResponseRecord) error
	// RecentResponses returns up to limit of the newest COMPLETED responses
	// for a child, ordered oldest first.
	RecentResponses(ctx context.Context, childID int64, limit int) ([]types.ResponseRecord, error)

	CreateAlert(ctx context.Context, a *types.AlertRecord) error
	RecentAlertExists(ctx context.Context, childID int64, ruleType types.RuleType, ruleVersion string, since time.Time) (bool, error)
	ListAlerts(ctx context.Context, childID int64, limit int) ([]types.AlertRecord, error)

	ConfigOverrides(ctx context.Context, prefix string) (map[string]string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// UnitOfWork runs fn against a transactional Store. The transaction
// commits when fn returns nil and rolls back otherwise.
type UnitOfWork interface {
	Store
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
