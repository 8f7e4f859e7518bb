package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/m-mizutani/gt"
	"github.com/redis/go-redis/v9"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/service/stream"
)

func newNotification(recipient types.UserID) *model.Notification {
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	return &model.Notification{
		ID:          types.NewNotificationID(),
		RecipientID: recipient,
		TicketID:    "CR-20240115-0001",
		FromStatus:  types.ChangeStatusSubmitted,
		ToStatus:    types.ChangeStatusReviewed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func receive(t *testing.T, ch <-chan *model.Notification) *model.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		gt.Bool(t, ok).True()
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
		return nil
	}
}

func testBroker(t *testing.T, broker interfaces.NotificationBroker) {
	ctx := context.Background()

	alice, cancelAlice, err := broker.Subscribe(ctx, "alice")
	gt.NoError(t, err).Required()
	defer cancelAlice()

	bob, cancelBob, err := broker.Subscribe(ctx, "bob")
	gt.NoError(t, err).Required()
	defer cancelBob()

	n := newNotification("alice")
	gt.NoError(t, broker.Publish(ctx, n)).Required()

	got := receive(t, alice)
	gt.Value(t, got.ID).Equal(n.ID)
	gt.Value(t, got.ToStatus).Equal(types.ChangeStatusReviewed)

	select {
	case <-bob:
		t.Fatal("bob received alice's notification")
	case <-time.After(100 * time.Millisecond):
	}

	t.Run("cancel closes the channel", func(t *testing.T) {
		cancelAlice()
		select {
		case _, ok := <-alice:
			gt.Bool(t, ok).False()
		case <-time.After(5 * time.Second):
			t.Fatal("channel not closed")
		}
	})
}

func TestHub(t *testing.T) {
	hub := stream.NewHub()
	testBroker(t, hub)

	t.Run("context cancel unsubscribes", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		_, _, err := hub.Subscribe(ctx, "carol")
		gt.NoError(t, err).Required()
		gt.Number(t, hub.Subscribers("carol")).Equal(1)

		cancel()
		deadline := time.Now().Add(5 * time.Second)
		for hub.Subscribers("carol") != 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		gt.Number(t, hub.Subscribers("carol")).Equal(0)
	})

	t.Run("publish without subscribers", func(t *testing.T) {
		gt.NoError(t, hub.Publish(context.Background(), newNotification("nobody")))
	})
}

func TestRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	broker := stream.NewRedisBrokerWithClient(client, stream.WithChannelPrefix("test:"))
	defer func() { _ = broker.Close() }()

	testBroker(t, broker)
}

func TestNewRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)

	broker, err := stream.NewRedisBroker(context.Background(), "redis://"+mr.Addr())
	gt.NoError(t, err).Required()
	gt.NoError(t, broker.Close())

	_, err = stream.NewRedisBroker(context.Background(), "not-a-url")
	gt.Value(t, err).NotNil()
}
