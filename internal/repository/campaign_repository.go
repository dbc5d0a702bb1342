package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	Update(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit, channelID int, status string) ([]*model.Campaign, int, error)

	// Lifecycle
	TransitionStatus(ctx context.Context, id int, from []string, to, errorMessage string) (bool, error)
	ScheduleAt(ctx context.Context, id int, at time.Time) (bool, error)
	CancelSchedule(ctx context.Context, id int) (bool, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	Expand(ctx context.Context, id int, from []string, msgs []*model.QueuedMessage) error

	// Counters
	IncrementCounters(ctx context.Context, id int, sent, delivered, responded int) error
	GetCampaignStats(ctx context.Context, id int) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, channel_id, status, base_template, recipient_groups, media_url, rate_limit,
	scheduled_at, total_recipients, messages_sent, messages_delivered, messages_responded, error_message,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var groups pq.StringArray
	err := row.Scan(&c.ID, &c.Name, &c.ChannelID, &c.Status, &c.BaseTemplate, &groups, &c.MediaURL, &c.RateLimit,
		&c.ScheduledAt, &c.TotalRecipients, &c.MessagesSent, &c.MessagesDelivered, &c.MessagesResponded, &c.ErrorMessage,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.RecipientGroups = []string(groups)
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.RecipientGroups == nil {
		c.RecipientGroups = []string{}
	}
	query := `
        INSERT INTO campaigns (name, channel_id, status, base_template, recipient_groups, media_url, rate_limit, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, c.Name, c.ChannelID, c.Status, c.BaseTemplate, pq.Array(c.RecipientGroups),
		c.MediaURL, c.RateLimit, c.ScheduledAt, c.CreatedAt).Scan(&c.ID)
}

// Update changes the editable fields of a draft campaign.
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	query := `
        UPDATE campaigns
        SET name=$1, base_template=$2, recipient_groups=$3, media_url=$4, rate_limit=$5, scheduled_at=$6, updated_at=NOW()
        WHERE id=$7 AND status='draft'
    `
	res, err := r.DB.ExecContext(ctx, query, c.Name, c.BaseTemplate, pq.Array(c.RecipientGroups), c.MediaURL, c.RateLimit,
		c.ScheduledAt, c.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("campaign %d is not a draft: %w", c.ID, appErrors.ErrInvalidTransition)
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit, channelID int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if channelID != 0 {
		where += fmt.Sprintf(" AND channel_id=$%d", argPos)
		args = append(args, channelID)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ====================== Lifecycle ======================

// TransitionStatus moves the campaign to `to` only if its current status is
// one of `from`. It reports whether the row changed.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int, from []string, to, errorMessage string) (bool, error) {
	query := `UPDATE campaigns SET status=$1, error_message=$2, updated_at=NOW() WHERE id=$3 AND status = ANY($4)`
	res, err := r.DB.ExecContext(ctx, query, to, errorMessage, id, pq.Array(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *CampaignRepository) ScheduleAt(ctx context.Context, id int, at time.Time) (bool, error) {
	query := `UPDATE campaigns SET status='scheduled', scheduled_at=$1, updated_at=NOW() WHERE id=$2 AND status='draft'`
	res, err := r.DB.ExecContext(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelSchedule returns a scheduled campaign to draft. Once expansion has
// claimed the row the status is no longer 'scheduled' and nothing changes.
func (r *CampaignRepository) CancelSchedule(ctx context.Context, id int) (bool, error) {
	query := `UPDATE campaigns SET status='draft', scheduled_at=NULL, updated_at=NOW() WHERE id=$1 AND status='scheduled'`
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *CampaignRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE status='scheduled' AND scheduled_at <= $1
        ORDER BY scheduled_at, id`
	rows, err := r.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, c)
	}
	return due, rows.Err()
}

// Expand inserts every queued message and marks the campaign sending in one
// transaction. The campaign row is locked first so a concurrent cancel
// either wins before expansion or becomes a no-op.
func (r *CampaignRepository) Expand(ctx context.Context, id int, from []string, msgs []*model.QueuedMessage) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.NewCampaignNotFound(id)
		}
		return err
	}
	if !contains(from, status) {
		return fmt.Errorf("campaign %d is %s: %w", id, status, appErrors.ErrInvalidTransition)
	}

	if len(msgs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO queued_messages (campaign_id, channel_id, recipient, body, media_url, status, scheduled_at, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
            RETURNING id`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range msgs {
			if err := stmt.QueryRowContext(ctx, m.CampaignID, m.ChannelID, m.Recipient, m.Body, m.MediaURL,
				m.Status, m.ScheduledAt, m.CreatedAt).Scan(&m.ID); err != nil {
				return fmt.Errorf("insert message for %s: %w", m.Recipient, err)
			}
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE campaigns SET status='sending', total_recipients=$1, error_message='', updated_at=NOW() WHERE id=$2`,
		len(msgs), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ====================== Counters ======================

func (r *CampaignRepository) IncrementCounters(ctx context.Context, id int, sent, delivered, responded int) error {
	query := `
        UPDATE campaigns
        SET messages_sent = LEAST(messages_sent + $1, total_recipients),
            messages_delivered = messages_delivered + $2,
            messages_responded = messages_responded + $3,
            updated_at = NOW()
        WHERE id = $4
    `
	_, err := r.DB.ExecContext(ctx, query, sent, delivered, responded, id)
	return err
}

func (r *CampaignRepository) GetCampaignStats(ctx context.Context, id int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM queued_messages WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"total": 0, "pending": 0, "sent": 0, "delivered": 0, "failed": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
