package gateway

import (
	"context"
	"sort"
	"sync"

	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

// ChannelStore is the persistence the registry syncs from.
type ChannelStore interface {
	ListChannels(ctx context.Context) ([]*model.Channel, error)
	UpdateChannelStatus(ctx context.Context, id int, status string) error
}

// Registry tracks channel connection status. The dispatch loop only
// iterates connected channels.
type Registry struct {
	store ChannelStore

	mu       sync.RWMutex
	channels map[int]string
}

func NewRegistry(store ChannelStore) *Registry {
	return &Registry{store: store, channels: make(map[int]string)}
}

// Register adds a channel with the given status.
func (r *Registry) Register(channelID int, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channelID] = status
}

// Deregister forgets a channel.
func (r *Registry) Deregister(channelID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, channelID)
}

// SetStatus persists a status change when a store is set, then records it.
// Unknown channels are rejected by the store and left unregistered.
func (r *Registry) SetStatus(ctx context.Context, channelID int, status string) error {
	if r.store != nil {
		if err := r.store.UpdateChannelStatus(ctx, channelID, status); err != nil {
			return err
		}
	}
	r.Register(channelID, status)
	return nil
}

// Status returns the known status, "" for unknown channels.
func (r *Registry) Status(channelID int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[channelID]
}

// IsConnected reports whether the channel can send right now.
func (r *Registry) IsConnected(channelID int) bool {
	return r.Status(channelID) == model.ChannelConnected
}

// Connected returns connected channel ids in ascending order.
func (r *Registry) Connected() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.channels))
	for id, status := range r.channels {
		if status == model.ChannelConnected {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Sync refreshes the in-memory view from the store. Channels removed from
// the store are deregistered.
func (r *Registry) Sync(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	channels, err := r.store.ListChannels(ctx)
	if err != nil {
		return err
	}
	seen := make(map[int]bool, len(channels))
	for _, c := range channels {
		r.Register(c.ID, c.Status)
		seen[c.ID] = true
	}
	for _, id := range r.known() {
		if !seen[id] {
			r.Deregister(id)
		}
	}
	return nil
}

func (r *Registry) known() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	return ids
}
