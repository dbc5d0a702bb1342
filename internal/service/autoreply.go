package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/queue"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
	"github.com/unclebandit/campaign-dispatcher/internal/spintax"
)

// AutoReplyService owns the auto-reply rules and answers inbound messages.
// Replies are queued like any other message and go out through the
// dispatcher.
type AutoReplyService struct {
	RuleRepo    repository.AutoReplyRepositoryInterface
	MessageRepo repository.QueuedMessageRepositoryInterface
	ContactRepo repository.ContactRepositoryInterface
	Analytics   repository.AnalyticsRepositoryInterface
	Spintax     *spintax.Engine
	Queue       queue.Queue
	Log         *logger.Logger
	Location    *time.Location
	Now         func() time.Time
}

func (s *AutoReplyService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ====================== Matching ======================

// MatchRule returns the first active rule that matches, nil when none
// does. Rules outside their business hours are passed over.
func MatchRule(rules []*model.AutoReplyRule, text string, firstMessage bool, now time.Time) *model.AutoReplyRule {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, rule := range rules {
		if !rule.Active || !WithinBusinessHours(rule, now) {
			continue
		}
		if ruleMatches(rule, normalized, firstMessage) {
			return rule
		}
	}
	return nil
}

func ruleMatches(rule *model.AutoReplyRule, text string, firstMessage bool) bool {
	switch rule.TriggerType {
	case model.TriggerAny:
		return true
	case model.TriggerFirstMessage:
		return firstMessage
	}
	for _, kw := range rule.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		var hit bool
		switch rule.TriggerType {
		case model.TriggerContains:
			hit = strings.Contains(text, kw)
		case model.TriggerExact:
			hit = text == kw
		case model.TriggerStartsWith:
			hit = strings.HasPrefix(text, kw)
		case model.TriggerEndsWith:
			hit = strings.HasSuffix(text, kw)
		}
		if hit {
			return true
		}
	}
	return false
}

// WithinBusinessHours reports whether now falls in the rule's window. A
// rule without a window is always open. A window whose end is before its
// start wraps past midnight.
func WithinBusinessHours(rule *model.AutoReplyRule, now time.Time) bool {
	if rule.BusinessHoursStart == "" || rule.BusinessHoursEnd == "" {
		return true
	}
	start, err1 := parseClock(rule.BusinessHoursStart)
	end, err2 := parseClock(rule.BusinessHoursEnd)
	if err1 != nil || err2 != nil {
		return true
	}
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// HandleInbound records the inbound message and queues the reply of the
// first matching rule. It returns the queued reply, or nil.
func (s *AutoReplyService) HandleInbound(ctx context.Context, msg model.InboundMessage) (*model.QueuedMessage, error) {
	if msg.FromMe {
		return nil, nil
	}
	log := s.Log.With(zap.Int("channelID", msg.ChannelID), zap.String("from", msg.From))

	// Prior history has to be read before this message is recorded.
	seen, err := s.Analytics.HasEvent(ctx, msg.ChannelID, msg.From, model.AnalyticsMessageReceived)
	if err != nil {
		return nil, fmt.Errorf("check inbound history: %w", err)
	}
	if err := s.Analytics.RecordEvent(ctx, &model.AnalyticsEvent{
		ChannelID: msg.ChannelID,
		Type:      model.AnalyticsMessageReceived,
		Contact:   msg.From,
		Payload:   msg.Text,
	}); err != nil {
		log.Warn("Failed to record inbound message", zap.Error(err))
	}

	rules, err := s.RuleRepo.ListByChannel(ctx, msg.ChannelID, true)
	if err != nil {
		return nil, fmt.Errorf("load auto-reply rules: %w", err)
	}
	now := s.now()
	local := now
	if s.Location != nil {
		local = now.In(s.Location)
	}
	rule := MatchRule(rules, msg.Text, !seen, local)
	if rule == nil {
		return nil, nil
	}

	reply := &model.QueuedMessage{
		ChannelID:   msg.ChannelID,
		Recipient:   msg.From,
		Body:        RenderMessage(s.Spintax, rule.ResponseTemplate, s.fieldsFor(ctx, msg.From)),
		Status:      model.MessagePending,
		ScheduledAt: now.Add(time.Duration(rule.DelaySeconds) * time.Second),
		CreatedAt:   now,
	}
	if err := s.MessageRepo.Create(ctx, reply); err != nil {
		return nil, fmt.Errorf("queue auto-reply: %w", err)
	}

	if err := s.Analytics.RecordEvent(ctx, &model.AnalyticsEvent{
		ChannelID: msg.ChannelID,
		Type:      model.AnalyticsAutoReply,
		Contact:   msg.From,
		Payload:   rule.Name,
	}); err != nil {
		log.Warn("Failed to record auto-reply", zap.Error(err))
	}
	log.Info("Auto-reply matched", zap.Int("ruleID", rule.ID), zap.Int("messageID", reply.ID))
	queue.Emit(s.Queue, s.Log, queue.TopicRuleMatched, map[string]any{
		"rule_id":    rule.ID,
		"channel_id": msg.ChannelID,
		"recipient":  msg.From,
		"message_id": reply.ID,
	})
	return reply, nil
}

// fieldsFor returns placeholder values for a sender. Unknown senders only
// have a phone.
func (s *AutoReplyService) fieldsFor(ctx context.Context, from string) map[string]string {
	if s.ContactRepo != nil {
		c, err := s.ContactRepo.GetByPhone(ctx, from)
		if err == nil {
			return c.Fields()
		}
		if !errors.Is(err, appErrors.ErrNotFound) {
			s.Log.Warn("Failed to look up sender", zap.String("from", from), zap.Error(err))
		}
	}
	return map[string]string{"phone": from}
}

// ====================== Rule CRUD ======================

// RuleInput is the editable part of an auto-reply rule.
type RuleInput struct {
	Name               string
	Keywords           []string
	TriggerType        string
	ResponseTemplate   string
	DelaySeconds       int
	Active             bool
	BusinessHoursStart string
	BusinessHoursEnd   string
}

func validateRule(in RuleInput) error {
	verr := &appErrors.ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		verr.Add("name", "is required")
	}
	if !statusIn(in.TriggerType, model.TriggerTypes) {
		verr.Add("trigger_type", fmt.Sprintf("must be one of %s", strings.Join(model.TriggerTypes, ", ")))
	} else if model.NeedsKeywords(in.TriggerType) && !hasKeyword(in.Keywords) {
		verr.Add("keywords", "at least one keyword is required for "+in.TriggerType)
	}
	if strings.TrimSpace(in.ResponseTemplate) == "" {
		verr.Add("response_template", "is required")
	} else if errs := ValidateTemplate(in.ResponseTemplate); len(errs) > 0 {
		verr.Add("response_template", strings.Join(errs, "; "))
	}
	if in.DelaySeconds < 0 {
		verr.Add("delay_seconds", "cannot be negative")
	}
	if (in.BusinessHoursStart == "") != (in.BusinessHoursEnd == "") {
		verr.Add("business_hours", "start and end must be set together")
	} else if in.BusinessHoursStart != "" {
		if _, err := parseClock(in.BusinessHoursStart); err != nil {
			verr.Add("business_hours_start", "must be HH:MM")
		}
		if _, err := parseClock(in.BusinessHoursEnd); err != nil {
			verr.Add("business_hours_end", "must be HH:MM")
		}
	}
	return verr.OrNil()
}

func hasKeyword(keywords []string) bool {
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" {
			return true
		}
	}
	return false
}

func (in RuleInput) apply(rule *model.AutoReplyRule) {
	rule.Name = strings.TrimSpace(in.Name)
	rule.Keywords = in.Keywords
	rule.TriggerType = in.TriggerType
	rule.ResponseTemplate = in.ResponseTemplate
	rule.DelaySeconds = in.DelaySeconds
	rule.Active = in.Active
	rule.BusinessHoursStart = in.BusinessHoursStart
	rule.BusinessHoursEnd = in.BusinessHoursEnd
}

func (s *AutoReplyService) CreateRule(ctx context.Context, channelID int, in RuleInput) (*model.AutoReplyRule, error) {
	if err := validateRule(in); err != nil {
		return nil, err
	}
	rule := &model.AutoReplyRule{ChannelID: channelID}
	in.apply(rule)
	if err := s.RuleRepo.Create(ctx, rule); err != nil {
		return nil, err
	}
	queue.Emit(s.Queue, s.Log, queue.TopicRuleChanged, rule)
	return rule, nil
}

func (s *AutoReplyService) UpdateRule(ctx context.Context, id int, in RuleInput) (*model.AutoReplyRule, error) {
	if err := validateRule(in); err != nil {
		return nil, err
	}
	rule, err := s.RuleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(rule)
	if err := s.RuleRepo.Update(ctx, rule); err != nil {
		return nil, err
	}
	queue.Emit(s.Queue, s.Log, queue.TopicRuleChanged, rule)
	return rule, nil
}

func (s *AutoReplyService) DeleteRule(ctx context.Context, id int) error {
	if err := s.RuleRepo.Delete(ctx, id); err != nil {
		return err
	}
	queue.Emit(s.Queue, s.Log, queue.TopicRuleChanged, map[string]any{"id": id, "deleted": true})
	return nil
}

func (s *AutoReplyService) GetRule(ctx context.Context, id int) (*model.AutoReplyRule, error) {
	return s.RuleRepo.GetByID(ctx, id)
}

// ListRules returns the channel's rules in match order.
func (s *AutoReplyService) ListRules(ctx context.Context, channelID int) ([]*model.AutoReplyRule, error) {
	rules, err := s.RuleRepo.ListByChannel(ctx, channelID, false)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []*model.AutoReplyRule{}
	}
	return rules, nil
}
