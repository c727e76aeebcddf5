package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/baharkarakas/supportpay/internal/gateway"
	"github.com/baharkarakas/supportpay/internal/metrics"
	"github.com/baharkarakas/supportpay/internal/models"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

type UnsubscribeInput struct {
	SupporterID string
	CreatorID   string
	Reason      string
	// CancelUpstream also cancels the provider-side subscription.
	CancelUpstream bool
	SuppressEmails bool
	// Expired marks the subscription expired instead of cancelled, for
	// deletions the provider already performed.
	Expired bool
}

type UnsubscribeResult struct {
	SupporterDeactivated  bool `json:"supporterDeactivated"`
	SubscriptionCancelled bool `json:"subscriptionCancelled"`
	ChannelsRemoved       int  `json:"channelsRemoved"`
}

type Reversal struct {
	memberships   repo.Memberships
	subscriptions repo.Subscriptions
	suppressions  repo.Suppressions
	gateways      *gateway.Registry
	channels      ChannelSync
	dir           directory
	log           *slog.Logger
}

func NewReversal(r repo.Repositories, gw *gateway.Registry, ch ChannelSync, n Notifier, log *slog.Logger) *Reversal {
	return &Reversal{
		memberships:   r.Memberships,
		subscriptions: r.Subscriptions,
		suppressions:  r.Suppressions,
		gateways:      gw,
		channels:      ch,
		dir:           directory{users: r.Users, suppressions: r.Suppressions, notifier: n},
		log:           log,
	}
}

// Unsubscribe ends a supporter's membership with a creator. Deactivation
// is authoritative: later steps may fail (reported as *FanoutError) but
// never undo it. Calling it again for an inactive pair is a no-op.
func (r *Reversal) Unsubscribe(ctx context.Context, in UnsubscribeInput) (UnsubscribeResult, error) {
	if in.SupporterID == "" || in.CreatorID == "" {
		return UnsubscribeResult{}, fmt.Errorf("%w: supporter and creator are required", ErrInvalidInput)
	}
	log := r.log.With("supporter_id", in.SupporterID, "creator_id", in.CreatorID)

	var res UnsubscribeResult
	deactivated, err := r.memberships.Deactivate(ctx, in.SupporterID, in.CreatorID)
	if err != nil {
		return UnsubscribeResult{}, fmt.Errorf("deactivate membership: %w", err)
	}
	res.SupporterDeactivated = deactivated

	f := &fanout{id: in.SupporterID + "/" + in.CreatorID, log: log}

	f.run(LegSubscription, func() error {
		cancelled, err := r.endSubscription(ctx, in, f)
		res.SubscriptionCancelled = cancelled
		return err
	})

	defer func() { metrics.Reversals.WithLabelValues(strconv.FormatBool(res.SupporterDeactivated)).Inc() }()
	if !res.SupporterDeactivated && !res.SubscriptionCancelled {
		log.Info("unsubscribe was a no-op")
		return res, f.err()
	}

	f.run(LegChannels, func() error {
		n, err := r.channels.Remove(ctx, in.SupporterID, in.CreatorID)
		res.ChannelsRemoved = n
		return err
	})

	if in.SuppressEmails {
		f.run(LegSuppression, func() error {
			return r.suppressions.Suppress(ctx, in.SupporterID, in.CreatorID, in.Reason)
		})
	} else {
		f.run(LegNotifyFan, func() error {
			_, err := r.dir.notify(ctx, in.SupporterID, in.SupporterID, in.CreatorID, models.SubscriptionCancelled{
				CreatorName: r.dir.displayName(ctx, in.CreatorID),
				Reason:      in.Reason,
			})
			return err
		})
	}

	log.Info("unsubscribed", "deactivated", res.SupporterDeactivated,
		"subscription_cancelled", res.SubscriptionCancelled, "channels_removed", res.ChannelsRemoved)
	return res, f.err()
}

// endSubscription moves the live subscription, if any, to its terminal
// status. An upstream cancel failure is recorded as its own leg.
func (r *Reversal) endSubscription(ctx context.Context, in UnsubscribeInput, f *fanout) (bool, error) {
	sub, err := r.subscriptions.GetLiveByPair(ctx, in.SupporterID, in.CreatorID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	to := models.SubCancelled
	if in.Expired {
		to = models.SubExpired
	}
	if _, err := r.subscriptions.Transition(ctx, sub.ID, sub.Status, to, models.SubscriptionPatch{}); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	if in.CancelUpstream && !in.Expired && sub.ExternalID != "" {
		f.run(LegUpstream, func() error {
			adapter, err := r.gateways.Get(sub.Gateway)
			if err != nil {
				return err
			}
			err = adapter.CancelSubscription(ctx, sub.ExternalID)
			if errors.Is(err, gateway.ErrUnsupported) {
				return nil
			}
			return err
		})
	}
	return true, nil
}
