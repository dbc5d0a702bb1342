package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

// MockCampaignPaginationRepo only implements listing; any other call panics.
type MockCampaignPaginationRepo struct {
	repository.CampaignRepositoryInterface

	gotChannel int
	gotStatus  string
}

func (m *MockCampaignPaginationRepo) ListCampaigns(ctx context.Context, offset, limit, channelID int, status string) ([]*model.Campaign, int, error) {
	m.gotChannel, m.gotStatus = channelID, status
	all := []*model.Campaign{
		{ID: 5, Name: "C5"},
		{ID: 4, Name: "C4"},
		{ID: 3, Name: "C3"},
		{ID: 2, Name: "C2"},
		{ID: 1, Name: "C1"},
	}

	start := offset
	end := offset + limit

	if start >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	if end > len(all) {
		end = len(all)
	}

	return all[start:end], len(all), nil
}

func TestPagination(t *testing.T) {
	repo := &MockCampaignPaginationRepo{}
	svc := &service.CampaignService{CampaignRepo: repo, Log: logger.NewNop()}
	ctx := context.Background()
	pageSize := 2

	page1, pagination1, err := svc.ListCampaigns(ctx, 1, pageSize, 0, "")
	require.NoError(t, err)
	page2, _, err := svc.ListCampaigns(ctx, 2, pageSize, 0, "")
	require.NoError(t, err)

	assert.Equal(t, 5, pagination1["total_count"])
	assert.Equal(t, 3, pagination1["total_pages"])
	require.Len(t, page1, 2)
	require.Len(t, page2, 2)

	// descending order, no overlap between pages
	assert.Greater(t, page1[0].ID, page1[1].ID)
	assert.Greater(t, page2[0].ID, page2[1].ID)
	assert.NotEqual(t, page1[1].ID, page2[0].ID)

	page3, pagination3, err := svc.ListCampaigns(ctx, 3, pageSize, 7, "sending")
	require.NoError(t, err)
	assert.Len(t, page3, 1)
	assert.Equal(t, 5, pagination3["total_count"])
	assert.Equal(t, 7, repo.gotChannel)
	assert.Equal(t, "sending", repo.gotStatus)
}

func TestPaginationClampsPageSize(t *testing.T) {
	svc := &service.CampaignService{CampaignRepo: &MockCampaignPaginationRepo{}, Log: logger.NewNop()}

	_, pagination, err := svc.ListCampaigns(context.Background(), 0, 500, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 1, pagination["page"])
	assert.Equal(t, 100, pagination["page_size"])
}
