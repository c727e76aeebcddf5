package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/baharkarakas/supportpay/internal/models"
	"github.com/baharkarakas/supportpay/internal/repository/memory"
)

type recordingPublisher struct {
	events []Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, events ...Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, events...)
	return nil
}

func newStore() *memory.Store {
	st := memory.New()
	st.AddChannel(models.Channel{ID: "general", CreatorID: "c1", Name: "general", MinTier: 0})
	st.AddChannel(models.Channel{ID: "silver", CreatorID: "c1", Name: "silver", MinTier: 1})
	st.AddChannel(models.Channel{ID: "gold", CreatorID: "c1", Name: "gold", MinTier: 3})
	st.AddChannel(models.Channel{ID: "other", CreatorID: "c2", Name: "other", MinTier: 1})
	return st
}

func TestAddFiltersByTier(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSyncer(newStore().Repositories().Channels, pub)

	n, err := s.Add(context.Background(), "s1", "c1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("added %d channels, want 2", n)
	}
	for _, e := range pub.events {
		if e.ChannelID == "gold" || e.Action != ActionAdd || e.SupporterID != "s1" {
			t.Fatalf("unexpected event %+v", e)
		}
	}
}

func TestRemoveOnlyGatedChannels(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSyncer(newStore().Repositories().Channels, pub)

	n, err := s.Remove(context.Background(), "s1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("removed %d channels, want 2", n)
	}
	for _, e := range pub.events {
		if e.ChannelID == "general" || e.Action != ActionRemove {
			t.Fatalf("unexpected event %+v", e)
		}
	}
}

func TestPublishFailureReportsZero(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	s := NewSyncer(newStore().Repositories().Channels, pub)

	n, err := s.Add(context.Background(), "s1", "c1", 5)
	if err == nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestNoChannelsIsNoop(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("must not be called")}
	s := NewSyncer(memory.New().Repositories().Channels, pub)
	if n, err := s.Remove(context.Background(), "s1", "nobody"); err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}
