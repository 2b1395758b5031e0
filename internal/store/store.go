// Package store persists click events and serves the read queries behind
// the API and map endpoints.
package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/lexking/tracker/internal/event"
)

// Query caps. The API and the map page are distinct consumers with distinct
// limits.
const (
	APILimit = 1000
	MapLimit = 2000
)

// Appender is the write side of the event pipeline. Store appends
// synchronously; QueuePublisher hands the event to the ingest worker
// instead. Which one the handler gets is configuration (APPEND_MODE).
type Appender interface {
	Append(ctx context.Context, ev *event.ClickEvent) error
}

// Store is the gorm-backed event log.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the logs table.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&event.ClickEvent{})
}

// Append inserts one event and fills in its store-assigned id. The insert is
// the only write path; rows are never updated or deleted.
func (s *Store) Append(ctx context.Context, ev *event.ClickEvent) error {
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("failed to append click event: %w", err)
	}
	return nil
}

// AppendBatch inserts a batch of events in one transaction. Used by the
// ingest worker; a failure leaves no partial batch behind.
func (s *Store) AppendBatch(ctx context.Context, events []event.ClickEvent) error {
	if len(events) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(events, 100).Error
	})
	if err != nil {
		return fmt.Errorf("failed to append click event batch: %w", err)
	}
	return nil
}

// RecentByCode returns up to limit events for code, most recent first. The
// surrogate id is the ordering key, not the caller-assigned timestamp.
func (s *Store) RecentByCode(ctx context.Context, code string, limit int) ([]event.ClickEvent, error) {
	var events []event.ClickEvent
	err := s.db.WithContext(ctx).
		Where("code = ?", code).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query click events: %w", err)
	}
	return events, nil
}
