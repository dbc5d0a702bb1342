package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatcher/internal/gateway"
	"github.com/unclebandit/campaign-dispatcher/internal/lock"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/queue"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
)

// Dispatcher drains pending messages of every connected channel on a
// fixed tick. Rate limits are counted per tick, so the real send rate can
// exceed the nominal one by up to one batch at tick boundaries.
type Dispatcher struct {
	MessageRepo  repository.QueuedMessageRepositoryInterface
	CampaignRepo repository.CampaignRepositoryInterface
	Gateway      gateway.Gateway
	Registry     *gateway.Registry
	Lock         lock.Lock
	Queue        queue.Queue
	Log          *logger.Logger

	Interval           time.Duration
	InterMessageDelay  time.Duration
	DefaultRateLimit   int
	LockTTL            time.Duration
	ConcurrentChannels bool

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// TickResult summarizes one dispatch tick.
type TickResult struct {
	Channels  int
	Sent      int
	Failed    int
	Completed []int
}

func (r *TickResult) merge(o TickResult) {
	r.Sent += o.Sent
	r.Failed += o.Failed
	r.Completed = append(r.Completed, o.Completed...)
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, dur)
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Dispatcher) defaultLimit() int {
	if d.DefaultRateLimit > 0 {
		return d.DefaultRateLimit
	}
	return model.DefaultRateLimit
}

// Tick runs one drain cycle over the connected channels.
func (d *Dispatcher) Tick(ctx context.Context) TickResult {
	if err := d.Registry.Sync(ctx); err != nil {
		d.Log.Warn("Channel sync failed, using last known status", zap.Error(err))
	}
	channels := d.Registry.Connected()
	result := TickResult{Channels: len(channels)}

	if !d.ConcurrentChannels {
		for _, ch := range channels {
			if ctx.Err() != nil || !d.extendLock(ctx) {
				break
			}
			result.merge(d.dispatchChannel(ctx, ch))
		}
		sort.Ints(result.Completed)
		return result
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(channelID int) {
			defer wg.Done()
			r := d.dispatchChannel(ctx, channelID)
			mu.Lock()
			result.merge(r)
			mu.Unlock()
		}(ch)
	}
	wg.Wait()
	sort.Ints(result.Completed)
	return result
}

// extendLock keeps a TTL based lock alive across long ticks and reports
// whether it is still ours. Locks without a TTL are always held.
func (d *Dispatcher) extendLock(ctx context.Context) bool {
	ext, ok := d.Lock.(interface {
		Extend(ctx context.Context, ttl time.Duration) (bool, error)
	})
	if !ok || d.LockTTL <= 0 {
		return true
	}
	held, err := ext.Extend(ctx, d.LockTTL)
	if err != nil || !held {
		d.Log.Warn("Dispatcher lock lost, stopping", zap.Bool("held", held), zap.Error(err))
		return false
	}
	return true
}

// selectBatch picks this tick's messages in creation order. Each campaign
// (and the ad-hoc group) is held to its own limit, and the channel as a
// whole to the largest limit present.
func (d *Dispatcher) selectBatch(pending []*model.QueuedMessage, campaigns map[int]*model.Campaign) []*model.QueuedMessage {
	limits := make(map[int]int)
	channelCap := 0
	for _, m := range pending {
		key := m.GroupKey()
		if _, seen := limits[key]; seen {
			continue
		}
		limit := d.defaultLimit()
		if c, ok := campaigns[key]; ok && c.RateLimit > 0 {
			limit = c.RateLimit
		}
		limits[key] = limit
		if limit > channelCap {
			channelCap = limit
		}
	}

	used := make(map[int]int)
	batch := make([]*model.QueuedMessage, 0, channelCap)
	for _, m := range pending {
		if len(batch) >= channelCap {
			break
		}
		key := m.GroupKey()
		if used[key] >= limits[key] {
			continue
		}
		used[key]++
		batch = append(batch, m)
	}
	return batch
}

func (d *Dispatcher) dispatchChannel(ctx context.Context, channelID int) TickResult {
	var result TickResult
	log := d.Log.With(zap.Int("channelID", channelID))

	pending, err := d.MessageRepo.ListPendingByChannel(ctx, channelID, d.now())
	if err != nil {
		log.Error("Failed to fetch pending messages", zap.Error(err))
		return result
	}
	if len(pending) == 0 {
		return result
	}

	campaigns := make(map[int]*model.Campaign)
	for _, m := range pending {
		key := m.GroupKey()
		if key == 0 {
			continue
		}
		if _, ok := campaigns[key]; ok {
			continue
		}
		c, err := d.CampaignRepo.GetByID(ctx, key)
		if err != nil {
			log.Warn("Failed to load campaign, using default rate limit", zap.Int("campaignID", key), zap.Error(err))
			continue
		}
		campaigns[key] = c
	}

	batch := d.selectBatch(pending, campaigns)
	touched := make(map[int]bool)
	for i, msg := range batch {
		if i > 0 && d.InterMessageDelay > 0 {
			if err := d.sleep(ctx, d.InterMessageDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		// renew before every send; a batch can outlive the lock TTL
		if !d.extendLock(ctx) {
			break
		}
		if !d.Registry.IsConnected(channelID) {
			log.Info("Channel disconnected mid-batch, leaving the rest pending")
			break
		}
		if msg.CampaignID != nil && !d.stillSending(ctx, *msg.CampaignID) {
			continue
		}

		if d.send(ctx, log, msg) {
			result.Sent++
		} else {
			result.Failed++
		}
		if msg.CampaignID != nil {
			touched[*msg.CampaignID] = true
		}
	}

	for campaignID := range touched {
		if d.completeIfDrained(ctx, log, campaignID) {
			result.Completed = append(result.Completed, campaignID)
		}
	}
	log.Info("Channel drained",
		zap.Int("pending", len(pending)),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed))
	return result
}

// stillSending catches a pause issued while the batch is in flight.
func (d *Dispatcher) stillSending(ctx context.Context, campaignID int) bool {
	c, err := d.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		d.Log.Warn("Failed to recheck campaign status", zap.Int("campaignID", campaignID), zap.Error(err))
		return false
	}
	return c.Status == model.CampaignSending
}

// send delivers one message. A failure is recorded on the message and
// never returned to the caller.
func (d *Dispatcher) send(ctx context.Context, log *logger.Logger, msg *model.QueuedMessage) bool {
	externalID, err := d.Gateway.Send(ctx, msg.ChannelID, msg.Recipient, msg.Body, msg.MediaURL)
	if err != nil {
		var sendErr *gateway.SendError
		retryable := errors.As(err, &sendErr) && sendErr.Retryable
		log.Warn("Send failed",
			zap.Int("messageID", msg.ID),
			zap.String("recipient", msg.Recipient),
			zap.Bool("retryable", retryable),
			zap.Error(err))
		if _, markErr := d.MessageRepo.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
			log.Error("Failed to mark message failed", zap.Int("messageID", msg.ID), zap.Error(markErr))
		}
		msg.Status = model.MessageFailed
		msg.ErrorMessage = err.Error()
		queue.Emit(d.Queue, d.Log, queue.TopicMessageFailed, msg)
		return false
	}

	at := d.now()
	ok, err := d.MessageRepo.MarkSent(ctx, msg.ID, externalID, at)
	if err != nil {
		log.Error("Failed to mark message sent", zap.Int("messageID", msg.ID), zap.Error(err))
		return true
	}
	if !ok {
		return true
	}
	if msg.CampaignID != nil {
		if err := d.CampaignRepo.IncrementCounters(ctx, *msg.CampaignID, 1, 0, 0); err != nil {
			log.Error("Failed to increment sent counter", zap.Int("campaignID", *msg.CampaignID), zap.Error(err))
		}
	}
	msg.Status = model.MessageSent
	msg.ExternalID = externalID
	msg.SentAt = &at
	queue.Emit(d.Queue, d.Log, queue.TopicMessageSent, msg)
	return true
}

func (d *Dispatcher) completeIfDrained(ctx context.Context, log *logger.Logger, campaignID int) bool {
	remaining, err := d.MessageRepo.CountPending(ctx, campaignID)
	if err != nil {
		log.Error("Failed to count pending messages", zap.Int("campaignID", campaignID), zap.Error(err))
		return false
	}
	if remaining > 0 {
		return false
	}
	ok, err := d.CampaignRepo.TransitionStatus(ctx, campaignID, []string{model.CampaignSending}, model.CampaignCompleted, "")
	if err != nil {
		log.Error("Failed to complete campaign", zap.Int("campaignID", campaignID), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	log.Info("Campaign completed", zap.Int("campaignID", campaignID))
	if c, err := d.CampaignRepo.GetByID(ctx, campaignID); err == nil {
		queue.Emit(d.Queue, d.Log, queue.TopicCampaignCompleted, snapshot(c))
	}
	return true
}

// Run ticks until ctx is cancelled. A tick that cannot take the lock is
// skipped.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	d.Log.Info("Dispatcher started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.runOnce(ctx)
		select {
		case <-ctx.Done():
			d.Log.Info("Dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) {
	if d.Lock == nil {
		d.Tick(ctx)
		return
	}
	ran, err := lock.WithLock(ctx, d.Lock, func(ctx context.Context) { d.Tick(ctx) })
	if err != nil {
		d.Log.Warn("Dispatcher lock error", zap.Error(err))
		return
	}
	if !ran {
		d.Log.Debug("Dispatch tick skipped, lock held elsewhere")
	}
}
