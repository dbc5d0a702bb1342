package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

type AnalyticsRepositoryInterface interface {
	RecordEvent(ctx context.Context, e *model.AnalyticsEvent) error
	HasEvent(ctx context.Context, channelID int, contact, eventType string) (bool, error)
}

type AnalyticsRepository struct {
	DB *sql.DB
}

func (r *AnalyticsRepository) RecordEvent(ctx context.Context, e *model.AnalyticsEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	query := `INSERT INTO analytics_events (channel_id, type, contact, payload, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	return r.DB.QueryRowContext(ctx, query, e.ChannelID, e.Type, e.Contact, e.Payload, e.CreatedAt).Scan(&e.ID)
}

// HasEvent reports whether an event of the type was recorded for the
// contact on the channel.
func (r *AnalyticsRepository) HasEvent(ctx context.Context, channelID int, contact, eventType string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM analytics_events WHERE channel_id=$1 AND contact=$2 AND type=$3)`
	err := r.DB.QueryRowContext(ctx, query, channelID, contact, eventType).Scan(&exists)
	return exists, err
}

var _ AnalyticsRepositoryInterface = (*AnalyticsRepository)(nil)
