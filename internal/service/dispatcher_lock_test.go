package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unclebandit/campaign-dispatcher/internal/gateway"
	"github.com/unclebandit/campaign-dispatcher/internal/lock"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

const dispatchLockKey = "dispatch"

// useRedisLock swaps the dispatcher onto a miniredis backed lock and returns
// a second worker's lock on the same key.
func (h *harness) useRedisLock(ttl time.Duration) (*miniredis.Miniredis, *lock.RedisLock) {
	h.t.Helper()
	mr := miniredis.RunT(h.t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h.t.Cleanup(func() { client.Close() })

	h.dispatcher.Lock = lock.NewRedisLock(client, dispatchLockKey, ttl)
	h.dispatcher.LockTTL = ttl
	return mr, lock.NewRedisLock(client, dispatchLockKey, ttl)
}

func (h *harness) tickUnderLock() service.TickResult {
	h.t.Helper()
	var res service.TickResult
	ran, err := lock.WithLock(h.ctx, h.dispatcher.Lock, func(ctx context.Context) {
		res = h.dispatcher.Tick(ctx)
	})
	require.NoError(h.t, err)
	require.True(h.t, ran)
	return res
}

func TestDispatchKeepsLockAcrossLongBatch(t *testing.T) {
	h := newHarness(t)
	mr, rival := h.useRedisLock(2 * time.Minute)

	// 99 gaps of 2s outlast the 2m TTL unless the lock is renewed
	var stolenAt int
	sends := 0
	h.dispatcher.Sleep = func(ctx context.Context, d time.Duration) error {
		mr.FastForward(d)
		if ok, err := rival.Acquire(ctx); err == nil && ok && stolenAt == 0 {
			stolenAt = sends
		}
		return ctx.Err()
	}
	h.dispatcher.Gateway = gateway.GatewayFunc(func(ctx context.Context, channelID int, recipient, body, mediaURL string) (string, error) {
		sends++
		return "ext-" + recipient, nil
	})

	ch := h.addChannel(model.ChannelConnected)
	c := h.launch(ch, 100, 100)

	res := h.tickUnderLock()
	assert.Equal(t, 100, res.Sent)
	assert.Zero(t, stolenAt, "second worker took the lock after send #%d", stolenAt)
	assert.Equal(t, model.CampaignCompleted, h.campaign(c.ID).Status)
}

func TestDispatchStopsWhenLockIsLost(t *testing.T) {
	h := newHarness(t)
	mr, rival := h.useRedisLock(time.Minute)

	sleeps := 0
	h.dispatcher.Sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		if sleeps == 3 {
			// the lock expires and another worker takes it
			mr.Del("lock:" + dispatchLockKey)
			ok, err := rival.Acquire(ctx)
			require.NoError(t, err)
			require.True(t, ok)
		}
		return ctx.Err()
	}

	ch := h.addChannel(model.ChannelConnected)
	c := h.launch(ch, 10, 10)

	res := h.tickUnderLock()
	assert.Equal(t, 3, res.Sent)
	assert.Empty(t, res.Completed)
	assert.Len(t, h.gateway.Sent(), 3)

	pending := 0
	for _, m := range h.messagesFor(c.ID) {
		if m.Status == model.MessagePending {
			pending++
		}
	}
	assert.Equal(t, 7, pending)
	assert.Equal(t, model.CampaignSending, h.campaign(c.ID).Status)

	// releasing our stale lock must not free the new owner's
	ok, err := h.dispatcher.Lock.Acquire(h.ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDispatchConcurrentChannelsRenewLock(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.ConcurrentChannels = true
	mr, rival := h.useRedisLock(time.Minute)

	stolen := make(chan struct{}, 1)
	h.dispatcher.Sleep = func(ctx context.Context, d time.Duration) error {
		mr.FastForward(d)
		if ok, err := rival.Acquire(ctx); err == nil && ok {
			select {
			case stolen <- struct{}{}:
			default:
			}
		}
		return ctx.Err()
	}

	a := h.addChannel(model.ChannelConnected)
	b := h.addChannel(model.ChannelConnected)
	h.launch(a, 40, 40)
	h.launch(b, 41, 41)

	res := h.tickUnderLock()
	assert.Equal(t, 81, res.Sent)
	assert.Empty(t, stolen)
}

func TestDispatchStopsWhenChannelDisconnectsMidBatch(t *testing.T) {
	h := newHarness(t)
	ch := h.addChannel(model.ChannelConnected)
	c := h.launch(ch, 10, 4)

	h.dispatcher.Sleep = func(ctx context.Context, d time.Duration) error {
		return h.registry.SetStatus(ctx, ch, model.ChannelDisconnected)
	}

	res := h.dispatcher.Tick(h.ctx)
	assert.Equal(t, 1, res.Sent)
	assert.Empty(t, res.Completed)
	assert.Equal(t, model.CampaignSending, h.campaign(c.ID).Status)

	res = h.dispatcher.Tick(h.ctx)
	assert.Zero(t, res.Channels)
	assert.Zero(t, res.Sent)
}

func TestDispatchLogsWhetherFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	core, logs := observer.New(zap.WarnLevel)
	h.dispatcher.Log = &logger.Logger{Log: zap.New(core)}

	ch := h.addChannel(model.ChannelConnected)
	h.launch(ch, 10, 2)
	h.dispatcher.Gateway = gateway.GatewayFunc(func(ctx context.Context, channelID int, recipient, body, mediaURL string) (string, error) {
		return "", &gateway.SendError{ChannelID: channelID, Recipient: recipient, Retryable: true, Err: errors.New("gateway timeout")}
	})

	res := h.dispatcher.Tick(h.ctx)
	assert.Equal(t, 2, res.Failed)

	failures := logs.FilterMessage("Send failed").All()
	require.Len(t, failures, 2)
	for _, e := range failures {
		assert.Equal(t, true, e.ContextMap()["retryable"])
		assert.Equal(t, int64(ch), e.ContextMap()["channelID"])
	}
}
