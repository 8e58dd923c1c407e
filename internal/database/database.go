// Package database provides the data access layer with support for multiple backends.
package database

import (
	"context"

	"github.com/lorepin/lorepin/internal/models"
)

// Store defines the interface for data persistence.
//
// Getters return (nil, nil) when the entity does not exist. Updates are
// compare-and-swap on status: they report false when the stored status no
// longer matches the expected one.
type Store interface {
	// Moderation queue
	CreateQueueItem(ctx context.Context, item *models.ModerationQueueItem) error
	GetQueueItem(ctx context.Context, id string) (*models.ModerationQueueItem, error)
	ListQueueItems(ctx context.Context, filter models.QueueFilter) ([]*models.ModerationQueueItem, error)
	UpdateQueueItem(ctx context.Context, item *models.ModerationQueueItem, expected models.QueueStatus) (bool, error)
	ListPendingVideoItems(ctx context.Context, limit int) ([]*models.ModerationQueueItem, error)

	// Challenges
	CreateChallenge(ctx context.Context, c *models.Challenge) error
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)
	ListChallenges(ctx context.Context, filter models.ChallengeFilter) ([]*models.Challenge, error)
	UpdateChallenge(ctx context.Context, c *models.Challenge, expected models.ChallengeStatus) (bool, error)
	DeleteChallenge(ctx context.Context, id string) (bool, error)
	IncrementChallengeViews(ctx context.Context, id string) (bool, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate() error
}
