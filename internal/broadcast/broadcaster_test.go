package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/haldvik/skribo/internal/document"
)

func receive(t *testing.T, stream <-chan SyncMessage) SyncMessage {
	t.Helper()
	select {
	case message := <-stream:
		return message
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
		return SyncMessage{}
	}
}

func assertQuiet(t *testing.T, stream <-chan SyncMessage) {
	t.Helper()
	select {
	case message := <-stream:
		t.Fatalf("unexpected message: %+v", message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	broadcaster := NewBroadcaster()
	snapshot := document.New()
	snapshot.QuickNote = "hello"

	stream, unsubscribe := broadcaster.Subscribe(context.Background(), "local", snapshot)
	defer unsubscribe()

	message := receive(t, stream)
	if message.Type != MessageTypeSync {
		t.Fatalf("unexpected type %q", message.Type)
	}
	if message.Data.QuickNote != "hello" {
		t.Fatalf("unexpected snapshot: %+v", message.Data)
	}
	assertQuiet(t, stream)
}

func TestSubscribeStartsFromTheLastPublishedState(t *testing.T) {
	broadcaster := NewBroadcaster()

	published := document.New()
	published.QuickNote = "current"
	broadcaster.Publish("local", published)

	// A snapshot taken before the publish must not win over the newer
	// broadcast state.
	stale := document.New()
	stale.QuickNote = "stale"
	stream, unsubscribe := broadcaster.Subscribe(context.Background(), "local", stale)
	defer unsubscribe()

	message := receive(t, stream)
	if message.Data.QuickNote != "current" {
		t.Fatalf("expected the last published state first, got %q", message.Data.QuickNote)
	}
	assertQuiet(t, stream)
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	broadcaster := NewBroadcaster()
	streams := make([]<-chan SyncMessage, 0, 3)
	for index := 0; index < 3; index++ {
		stream, unsubscribe := broadcaster.Subscribe(context.Background(), "local", document.New())
		defer unsubscribe()
		receive(t, stream)
		streams = append(streams, stream)
	}

	update := document.New()
	update.QuickNote = "update"
	broadcaster.Publish("local", update)

	for index, stream := range streams {
		message := receive(t, stream)
		if message.Data.QuickNote != "update" {
			t.Fatalf("subscriber %d: unexpected snapshot %+v", index, message.Data)
		}
		assertQuiet(t, stream)
	}
}

func TestPublishIsScopedToTheAccount(t *testing.T) {
	broadcaster := NewBroadcaster()
	localStream, unsubscribeLocal := broadcaster.Subscribe(context.Background(), "local", document.New())
	defer unsubscribeLocal()
	otherStream, unsubscribeOther := broadcaster.Subscribe(context.Background(), "mara", document.New())
	defer unsubscribeOther()
	receive(t, localStream)
	receive(t, otherStream)

	broadcaster.Publish("local", document.New())

	receive(t, localStream)
	assertQuiet(t, otherStream)
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	broadcaster := NewBroadcaster()
	stream, unsubscribe := broadcaster.Subscribe(context.Background(), "local", document.New())
	receive(t, stream)

	unsubscribe()
	unsubscribe()

	if count := broadcaster.SubscriberCount("local"); count != 0 {
		t.Fatalf("expected no subscribers after unsubscribe, got %d", count)
	}
	broadcaster.Publish("local", document.New())
	assertQuiet(t, stream)
}

func TestContextCancelCleansUpSubscription(t *testing.T) {
	broadcaster := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	stream, _ := broadcaster.Subscribe(ctx, "local", document.New())
	receive(t, stream)

	cancel()

	deadline := time.Now().Add(time.Second)
	for broadcaster.SubscriberCount("local") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription survived context cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	broadcaster := NewBroadcaster()
	stream, unsubscribe := broadcaster.Subscribe(context.Background(), "local", document.New())
	defer unsubscribe()

	// Never drain; the buffer fills and publishes must still return.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for index := 0; index < 100; index++ {
			broadcaster.Publish("local", document.New())
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
	_ = stream
}

func TestEmptyAccountIDYieldsClosedStream(t *testing.T) {
	broadcaster := NewBroadcaster()
	stream, unsubscribe := broadcaster.Subscribe(context.Background(), "", document.New())
	defer unsubscribe()

	if _, open := <-stream; open {
		t.Fatalf("expected a closed stream for an empty account id")
	}
}
