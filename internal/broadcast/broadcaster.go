package broadcast

import (
	"context"
	"sync"

	"github.com/haldvik/skribo/internal/document"
)

// MessageTypeSync labels every message pushed to subscribers. Clients replace
// their whole state on receipt; there are no partial diffs.
const MessageTypeSync = "sync"

// SyncMessage is the wire shape pushed to every live subscriber.
type SyncMessage struct {
	Type string            `json:"type"`
	Data document.Document `json:"data"`
}

// Broadcaster fans the current document out to the live subscribers of each
// account. Slow subscribers drop messages rather than blocking the store.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	// latest holds the most recently published document per account, so a
	// subscriber registering concurrently with a mutation never starts from
	// a snapshot older than the last broadcast.
	latest     map[string]document.Document
	nextID     int64
	bufferSize int
}

type subscriber struct {
	id     int64
	stream chan SyncMessage
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[int64]*subscriber),
		latest:      make(map[string]document.Document),
		bufferSize:  16,
	}
}

// Subscribe registers a live connection for the account and immediately
// queues an initial snapshot for the new subscriber only: the last published
// document when one exists, otherwise the snapshot supplied by the caller.
// Registration and the initial queue are atomic with respect to Publish, so
// the subscriber's stream is monotone from its first message. The
// subscription ends when ctx is done or the returned cleanup runs; cleanup is
// idempotent.
func (b *Broadcaster) Subscribe(ctx context.Context, accountID string, snapshot document.Document) (<-chan SyncMessage, func()) {
	if accountID == "" {
		ch := make(chan SyncMessage)
		close(ch)
		return ch, func() {}
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscriber{
		id:     b.nextID,
		stream: make(chan SyncMessage, b.bufferSize),
	}
	if published, ok := b.latest[accountID]; ok {
		snapshot = published
	}
	sub.stream <- SyncMessage{Type: MessageTypeSync, Data: snapshot}
	if _, ok := b.subscribers[accountID]; !ok {
		b.subscribers[accountID] = make(map[int64]*subscriber)
	}
	b.subscribers[accountID][sub.id] = sub
	b.mu.Unlock()

	cleanup := func() {
		b.unregister(accountID, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish records the document as the account's latest state and sends it to
// every current subscriber. Sends never block; a full subscriber buffer drops
// the message.
func (b *Broadcaster) Publish(accountID string, doc document.Document) {
	if accountID == "" {
		return
	}
	message := SyncMessage{Type: MessageTypeSync, Data: doc}

	b.mu.Lock()
	b.latest[accountID] = doc
	for _, sub := range b.subscribers[accountID] {
		select {
		case sub.stream <- message:
		default:
		}
	}
	b.mu.Unlock()
}

// SubscriberCount reports the number of live subscriptions for an account.
func (b *Broadcaster) SubscriberCount(accountID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[accountID])
}

func (b *Broadcaster) unregister(accountID string, subscriberID int64) {
	b.mu.Lock()
	subscribers := b.subscribers[accountID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(b.subscribers, accountID)
		}
	}
	b.mu.Unlock()
}
