package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/baharkarakas/supportpay/internal/models"
	repo "github.com/baharkarakas/supportpay/internal/repository"
)

// Notifier accepts email jobs for delivery.
type Notifier interface {
	EnqueueOrSend(ctx context.Context, job models.EmailJob) error
}

// ChannelSync grants and revokes chat channel access.
type ChannelSync interface {
	Add(ctx context.Context, supporterID, creatorID string, tier int) (int, error)
	Remove(ctx context.Context, supporterID, creatorID string) (int, error)
}

// directory resolves recipients and names for notifications about one
// supporter/creator pair.
type directory struct {
	users        repo.Users
	suppressions repo.Suppressions
	notifier     Notifier
}

func (d directory) displayName(ctx context.Context, userID string) string {
	u, err := d.users.GetByID(ctx, userID)
	if err != nil || u.DisplayName == "" {
		return userID
	}
	return u.DisplayName
}

// notify sends n to userID unless the supporter/creator pair is
// suppressed. It reports whether a job was handed to the notifier.
func (d directory) notify(ctx context.Context, userID, supporterID, creatorID string, n models.Notification) (bool, error) {
	suppressed, err := d.suppressions.IsSuppressed(ctx, supporterID, creatorID)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	if suppressed {
		return false, nil
	}
	u, err := d.users.GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("look up recipient %s: %w", userID, err)
	}
	if u.Email == "" {
		return false, errors.New("recipient has no email address")
	}
	job, err := models.NewEmailJob(u.Email, n)
	if err != nil {
		return false, err
	}
	if err := d.notifier.EnqueueOrSend(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}
