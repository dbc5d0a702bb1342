package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

var messageCols = []string{"id", "campaign_id", "channel_id", "recipient", "body", "media_url", "status", "external_id",
	"error_message", "scheduled_at", "sent_at", "delivered_at", "responded_at", "created_at"}

func newMessageRepo(t *testing.T) (*QueuedMessageRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &QueuedMessageRepository{DB: db}, mock
}

func TestQueuedMessageRepository_CreateDefaults(t *testing.T) {
	repo, mock := newMessageRepo(t)
	mock.ExpectQuery("INSERT INTO queued_messages").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	msg := &model.QueuedMessage{ChannelID: 1, Recipient: "+1", Body: "hi"}
	require.NoError(t, repo.Create(context.Background(), msg))
	assert.Equal(t, model.MessagePending, msg.Status)
	assert.Equal(t, msg.CreatedAt, msg.ScheduledAt)
	assert.Nil(t, msg.CampaignID)
}

func TestQueuedMessageRepository_ListPendingByChannel(t *testing.T) {
	repo, mock := newMessageRepo(t)
	now := time.Now()

	mock.ExpectQuery("FROM queued_messages q\\s+LEFT JOIN campaigns c").
		WithArgs(3, now).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow(1, 9, 3, "+1", "a", "", "pending", "", "", now, nil, nil, nil, now).
			AddRow(2, nil, 3, "+2", "b", "", "pending", "", "", now, nil, nil, nil, now))

	msgs, err := repo.ListPendingByChannel(context.Background(), 3, now)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 9, msgs[0].GroupKey())
	assert.Equal(t, 0, msgs[1].GroupKey())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueuedMessageRepository_MarkSentOnlyFromPending(t *testing.T) {
	repo, mock := newMessageRepo(t)
	at := time.Now()
	mock.ExpectExec("UPDATE queued_messages SET status='sent'").
		WithArgs("ext-1", at, 5).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkSent(context.Background(), 5, "ext-1", at)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueuedMessageRepository_MarkDelivered(t *testing.T) {
	repo, mock := newMessageRepo(t)
	at := time.Now()

	mock.ExpectQuery("UPDATE queued_messages SET status='delivered'").
		WithArgs(at, 1, "ext-1").
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow(4, 2, 1, "+1", "a", "", "delivered", "ext-1", "", at, at, at, nil, at))
	mock.ExpectQuery("UPDATE queued_messages SET status='delivered'").
		WithArgs(at, 1, "unknown").
		WillReturnRows(sqlmock.NewRows(messageCols))

	m, err := repo.MarkDelivered(context.Background(), 1, "ext-1", at)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 2, *m.CampaignID)

	m, err = repo.MarkDelivered(context.Background(), 1, "unknown", at)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestQueuedMessageRepository_GetByIDNotFound(t *testing.T) {
	repo, mock := newMessageRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM queued_messages WHERE id=").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(messageCols))

	_, err := repo.GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
