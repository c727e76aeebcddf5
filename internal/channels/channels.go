// Package channels propagates supporter membership changes to the chat
// system, which consumes them from a Kafka topic.
package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/baharkarakas/supportpay/internal/models"
	"github.com/baharkarakas/supportpay/internal/repository"
)

type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

type Event struct {
	Action      Action    `json:"action"`
	ChannelID   string    `json:"channel_id"`
	CreatorID   string    `json:"creator_id"`
	SupporterID string    `json:"supporter_id"`
	TierLevel   int       `json:"tier_level,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Syncer decides which channels a membership change touches.
type Syncer struct {
	channels repository.Channels
	pub      Publisher
	now      func() time.Time
}

func NewSyncer(channels repository.Channels, pub Publisher) *Syncer {
	return &Syncer{channels: channels, pub: pub, now: time.Now}
}

// Add grants access to every channel of the creator that tier satisfies.
func (s *Syncer) Add(ctx context.Context, supporterID, creatorID string, tier int) (int, error) {
	list, err := s.channels.ListByCreator(ctx, creatorID)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	now := s.now().UTC()
	var events []Event
	for _, c := range list {
		if !c.Allows(tier) {
			continue
		}
		events = append(events, Event{Action: ActionAdd, ChannelID: c.ID, CreatorID: creatorID,
			SupporterID: supporterID, TierLevel: tier, OccurredAt: now})
	}
	return s.publish(ctx, events)
}

// Remove revokes access to every tier-gated channel of the creator.
func (s *Syncer) Remove(ctx context.Context, supporterID, creatorID string) (int, error) {
	list, err := s.channels.ListByCreator(ctx, creatorID)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	now := s.now().UTC()
	var events []Event
	for _, c := range list {
		if !gated(c) {
			continue
		}
		events = append(events, Event{Action: ActionRemove, ChannelID: c.ID, CreatorID: creatorID,
			SupporterID: supporterID, OccurredAt: now})
	}
	return s.publish(ctx, events)
}

func gated(c models.Channel) bool { return c.MinTier > 0 }

func (s *Syncer) publish(ctx context.Context, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if err := s.pub.Publish(ctx, events...); err != nil {
		return 0, fmt.Errorf("publish %d channel events: %w", len(events), err)
	}
	return len(events), nil
}
