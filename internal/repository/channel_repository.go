package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/gateway"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

type ChannelRepositoryInterface interface {
	gateway.ChannelStore
	CreateChannel(ctx context.Context, ch *model.Channel) error
	GetChannel(ctx context.Context, id int) (*model.Channel, error)
}

type ChannelRepository struct {
	DB *sql.DB
}

func (r *ChannelRepository) CreateChannel(ctx context.Context, ch *model.Channel) error {
	if ch.Status == "" {
		ch.Status = model.ChannelDisconnected
	}
	query := `INSERT INTO channels (name, address, status, updated_at) VALUES ($1, $2, $3, NOW()) RETURNING id, updated_at`
	return r.DB.QueryRowContext(ctx, query, ch.Name, ch.Address, ch.Status).Scan(&ch.ID, &ch.UpdatedAt)
}

func (r *ChannelRepository) GetChannel(ctx context.Context, id int) (*model.Channel, error) {
	var ch model.Channel
	err := r.DB.QueryRowContext(ctx, `SELECT id, name, address, status, updated_at FROM channels WHERE id=$1`, id).
		Scan(&ch.ID, &ch.Name, &ch.Address, &ch.Status, &ch.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %d: %w", id, appErrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *ChannelRepository) ListChannels(ctx context.Context) ([]*model.Channel, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, address, status, updated_at FROM channels ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*model.Channel
	for rows.Next() {
		var ch model.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Address, &ch.Status, &ch.UpdatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, &ch)
	}
	return channels, rows.Err()
}

func (r *ChannelRepository) UpdateChannelStatus(ctx context.Context, id int, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE channels SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("channel %d: %w", id, appErrors.ErrNotFound)
	}
	return nil
}

var _ ChannelRepositoryInterface = (*ChannelRepository)(nil)
