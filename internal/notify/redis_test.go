package notify

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"content-orchestrator/internal/models"
)

func newTestNotifier(t *testing.T) *Redis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesProjectSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := newTestNotifier(t)

	sub, err := n.Subscribe(ctx, "p1")
	require.NoError(t, err)
	defer sub.Close()

	want := Event{
		Event:     EventUpdate,
		Table:     models.TableKeywords,
		ProjectID: "p1",
		EntityID:  "kw1",
		Status:    models.KeywordReady,
	}
	require.NoError(t, n.Publish(ctx, want))

	require.Equal(t, want, recv(t, sub))
}

func TestSubscriptionIsProjectScoped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := newTestNotifier(t)

	subA, err := n.Subscribe(ctx, "p1")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := n.Subscribe(ctx, "p2")
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, n.Publish(ctx, Event{
		Event:     EventInsert,
		Table:     models.TableBriefs,
		ProjectID: "p2",
		EntityID:  "b1",
		Status:    models.BriefGenerated,
	}))

	got := recv(t, subB)
	require.Equal(t, "b1", got.EntityID)

	select {
	case ev := <-subA.Events():
		t.Fatalf("unexpected cross-project event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	n := NewRedis(client)

	sub, err := n.Subscribe(ctx, "p1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, ChannelFor("p1"), "not json").Err())
	require.NoError(t, n.Publish(ctx, Event{
		Event:     EventUpdate,
		Table:     models.TableKeywords,
		ProjectID: "p1",
		EntityID:  "kw1",
		Status:    models.KeywordFailed,
	}))

	// Only the well-formed event arrives.
	got := recv(t, sub)
	require.Equal(t, "kw1", got.EntityID)
}
