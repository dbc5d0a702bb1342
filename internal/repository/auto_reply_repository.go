package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

type AutoReplyRepositoryInterface interface {
	Create(ctx context.Context, rule *model.AutoReplyRule) error
	Update(ctx context.Context, rule *model.AutoReplyRule) error
	Delete(ctx context.Context, id int) error
	GetByID(ctx context.Context, id int) (*model.AutoReplyRule, error)
	ListByChannel(ctx context.Context, channelID int, activeOnly bool) ([]*model.AutoReplyRule, error)
}

type AutoReplyRepository struct {
	DB *sql.DB
}

const ruleColumns = `id, channel_id, name, keywords, trigger_type, response_template, delay_seconds, active,
	business_hours_start, business_hours_end, created_at, updated_at`

func scanRule(row rowScanner) (*model.AutoReplyRule, error) {
	var rule model.AutoReplyRule
	var keywords pq.StringArray
	err := row.Scan(&rule.ID, &rule.ChannelID, &rule.Name, &keywords, &rule.TriggerType, &rule.ResponseTemplate,
		&rule.DelaySeconds, &rule.Active, &rule.BusinessHoursStart, &rule.BusinessHoursEnd, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rule.Keywords = []string(keywords)
	return &rule, nil
}

func (r *AutoReplyRepository) Create(ctx context.Context, rule *model.AutoReplyRule) error {
	now := time.Now()
	rule.CreatedAt, rule.UpdatedAt = now, now
	if rule.Keywords == nil {
		rule.Keywords = []string{}
	}
	query := `
        INSERT INTO auto_reply_rules (channel_id, name, keywords, trigger_type, response_template, delay_seconds, active,
            business_hours_start, business_hours_end, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, rule.ChannelID, rule.Name, pq.Array(rule.Keywords), rule.TriggerType,
		rule.ResponseTemplate, rule.DelaySeconds, rule.Active, rule.BusinessHoursStart, rule.BusinessHoursEnd,
		rule.CreatedAt, rule.UpdatedAt).Scan(&rule.ID)
}

func (r *AutoReplyRepository) Update(ctx context.Context, rule *model.AutoReplyRule) error {
	rule.UpdatedAt = time.Now()
	if rule.Keywords == nil {
		rule.Keywords = []string{}
	}
	query := `
        UPDATE auto_reply_rules
        SET name=$1, keywords=$2, trigger_type=$3, response_template=$4, delay_seconds=$5, active=$6,
            business_hours_start=$7, business_hours_end=$8, updated_at=$9
        WHERE id=$10
    `
	res, err := r.DB.ExecContext(ctx, query, rule.Name, pq.Array(rule.Keywords), rule.TriggerType, rule.ResponseTemplate,
		rule.DelaySeconds, rule.Active, rule.BusinessHoursStart, rule.BusinessHoursEnd, rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewRuleNotFound(rule.ID)
	}
	return nil
}

func (r *AutoReplyRepository) Delete(ctx context.Context, id int) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM auto_reply_rules WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewRuleNotFound(id)
	}
	return nil
}

func (r *AutoReplyRepository) GetByID(ctx context.Context, id int) (*model.AutoReplyRule, error) {
	rule, err := scanRule(r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM auto_reply_rules WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewRuleNotFound(id)
	}
	return rule, err
}

// ListByChannel returns the channel's rules in evaluation order.
func (r *AutoReplyRepository) ListByChannel(ctx context.Context, channelID int, activeOnly bool) ([]*model.AutoReplyRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM auto_reply_rules WHERE channel_id=$1`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY id`

	rows, err := r.DB.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*model.AutoReplyRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

var _ AutoReplyRepositoryInterface = (*AutoReplyRepository)(nil)
