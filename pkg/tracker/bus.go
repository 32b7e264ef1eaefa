package tracker

import (
	"sync"

	"github.com/stablemesh/cctp-middleware/pkg/store"
)

// Update is a progress event for a transfer. Updates are published after the
// corresponding store write, in write order.
type Update struct {
	ID          string               `json:"id"`
	Status      store.TransferStatus `json:"status"`
	Progress    string               `json:"progress,omitempty"`
	Message     string               `json:"message,omitempty"`
	Error       string               `json:"error,omitempty"`
	TxHash      string               `json:"tx_hash,omitempty"`
	Attestation string               `json:"attestation,omitempty"`
}

const subscriberBuffer = 16

type subscriber struct {
	id string // empty subscribes to all transfers
	ch chan Update
}

// Bus fans transfer updates out to subscribers. Slow subscribers drop
// updates rather than block publishers.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of updates for a single transfer and a cancel
// function. The channel is closed on cancel or bus shutdown.
func (b *Bus) Subscribe(transferID string) (<-chan Update, func()) {
	return b.subscribe(transferID)
}

// SubscribeAll returns a channel receiving updates for every transfer.
func (b *Bus) SubscribeAll() (<-chan Update, func()) {
	return b.subscribe("")
}

func (b *Bus) subscribe(transferID string) (<-chan Update, func()) {
	sub := &subscriber{id: transferID, ch: make(chan Update, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers an update to matching subscribers without blocking.
func (b *Bus) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if sub.id != "" && sub.id != u.ID {
			continue
		}
		select {
		case sub.ch <- u:
		default:
			// Subscriber is not keeping up; it still gets later updates.
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*subscriber]struct{})
}
