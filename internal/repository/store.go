package repository

import "database/sql"

// Store groups the repositories the engine and API depend on.
type Store struct {
	Campaigns CampaignRepositoryInterface
	Messages  QueuedMessageRepositoryInterface
	Contacts  ContactRepositoryInterface
	Rules     AutoReplyRepositoryInterface
	Channels  ChannelRepositoryInterface
	Analytics AnalyticsRepositoryInterface
}

// NewPostgresStore builds a Store over a lib/pq connection pool.
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Campaigns: &CampaignRepository{DB: db},
		Messages:  &QueuedMessageRepository{DB: db},
		Contacts:  &ContactRepository{DB: db},
		Rules:     &AutoReplyRepository{DB: db},
		Channels:  &ChannelRepository{DB: db},
		Analytics: &AnalyticsRepository{DB: db},
	}
}
