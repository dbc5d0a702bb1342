package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

type QueuedMessageRepositoryInterface interface {
	Create(ctx context.Context, msg *model.QueuedMessage) error
	GetByID(ctx context.Context, id int) (*model.QueuedMessage, error)
	ListPendingByChannel(ctx context.Context, channelID int, now time.Time) ([]*model.QueuedMessage, error)
	MarkSent(ctx context.Context, id int, externalID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int, errorMessage string) (bool, error)
	MarkDelivered(ctx context.Context, channelID int, externalID string, at time.Time) (*model.QueuedMessage, error)
	MarkResponded(ctx context.Context, channelID int, recipient string, at time.Time) (*model.QueuedMessage, error)
	CountPending(ctx context.Context, campaignID int) (int, error)
}

type QueuedMessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, campaign_id, channel_id, recipient, body, media_url, status, external_id, error_message,
	scheduled_at, sent_at, delivered_at, responded_at, created_at`

func scanMessage(row rowScanner) (*model.QueuedMessage, error) {
	var m model.QueuedMessage
	var campaignID sql.NullInt64
	err := row.Scan(&m.ID, &campaignID, &m.ChannelID, &m.Recipient, &m.Body, &m.MediaURL, &m.Status, &m.ExternalID,
		&m.ErrorMessage, &m.ScheduledAt, &m.SentAt, &m.DeliveredAt, &m.RespondedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if campaignID.Valid {
		id := int(campaignID.Int64)
		m.CampaignID = &id
	}
	return &m, nil
}

func (r *QueuedMessageRepository) Create(ctx context.Context, msg *model.QueuedMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ScheduledAt.IsZero() {
		msg.ScheduledAt = msg.CreatedAt
	}
	if msg.Status == "" {
		msg.Status = model.MessagePending
	}
	query := `
        INSERT INTO queued_messages (campaign_id, channel_id, recipient, body, media_url, status, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, msg.CampaignID, msg.ChannelID, msg.Recipient, msg.Body, msg.MediaURL,
		msg.Status, msg.ScheduledAt, msg.CreatedAt).Scan(&msg.ID)
}

func (r *QueuedMessageRepository) GetByID(ctx context.Context, id int) (*model.QueuedMessage, error) {
	m, err := scanMessage(r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM queued_messages WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("queued message %d: %w", id, appErrors.ErrNotFound)
		}
		return nil, err
	}
	return m, nil
}

// ListPendingByChannel returns due pending messages in enqueue order.
// Messages of campaigns that are not sending (paused, failed) are left out.
func (r *QueuedMessageRepository) ListPendingByChannel(ctx context.Context, channelID int, now time.Time) ([]*model.QueuedMessage, error) {
	query := `
        SELECT q.id, q.campaign_id, q.channel_id, q.recipient, q.body, q.media_url, q.status, q.external_id,
               q.error_message, q.scheduled_at, q.sent_at, q.delivered_at, q.responded_at, q.created_at
        FROM queued_messages q
        LEFT JOIN campaigns c ON c.id = q.campaign_id
        WHERE q.channel_id = $1
          AND q.status = 'pending'
          AND q.scheduled_at <= $2
          AND (q.campaign_id IS NULL OR c.status = 'sending')
        ORDER BY q.id
    `
	rows, err := r.DB.QueryContext(ctx, query, channelID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.QueuedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkSent moves a pending message to sent. A message that already left
// pending is not touched.
func (r *QueuedMessageRepository) MarkSent(ctx context.Context, id int, externalID string, at time.Time) (bool, error) {
	query := `UPDATE queued_messages SET status='sent', external_id=$1, sent_at=$2 WHERE id=$3 AND status='pending'`
	res, err := r.DB.ExecContext(ctx, query, externalID, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *QueuedMessageRepository) MarkFailed(ctx context.Context, id int, errorMessage string) (bool, error) {
	query := `UPDATE queued_messages SET status='failed', error_message=$1 WHERE id=$2 AND status='pending'`
	res, err := r.DB.ExecContext(ctx, query, errorMessage, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkDelivered applies a delivery receipt. It returns nil when no sent
// message carries the external id.
func (r *QueuedMessageRepository) MarkDelivered(ctx context.Context, channelID int, externalID string, at time.Time) (*model.QueuedMessage, error) {
	query := `
        UPDATE queued_messages SET status='delivered', delivered_at=$1
        WHERE channel_id=$2 AND external_id=$3 AND status='sent'
        RETURNING ` + messageColumns
	m, err := scanMessage(r.DB.QueryRowContext(ctx, query, at, channelID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// MarkResponded flags the most recent campaign message sent to the
// recipient that has not been responded to yet.
func (r *QueuedMessageRepository) MarkResponded(ctx context.Context, channelID int, recipient string, at time.Time) (*model.QueuedMessage, error) {
	query := `
        UPDATE queued_messages SET responded_at=$1
        WHERE id = (
            SELECT id FROM queued_messages
            WHERE channel_id=$2 AND recipient=$3 AND campaign_id IS NOT NULL
              AND status IN ('sent', 'delivered') AND responded_at IS NULL
            ORDER BY sent_at DESC, id DESC
            LIMIT 1
        )
        RETURNING ` + messageColumns
	m, err := scanMessage(r.DB.QueryRowContext(ctx, query, at, channelID, recipient))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *QueuedMessageRepository) CountPending(ctx context.Context, campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queued_messages WHERE campaign_id=$1 AND status='pending'`, campaignID).Scan(&n)
	return n, err
}

var _ QueuedMessageRepositoryInterface = (*QueuedMessageRepository)(nil)
