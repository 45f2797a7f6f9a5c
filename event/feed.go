// Copyright 2019 The klaytn Authors
// This file is part of the chainscope library.
//
// The chainscope library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The chainscope library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the chainscope library. If not, see <http://www.gnu.org/licenses/>.

package event

import (
	"sync"

	"github.com/klaytn/chainscope/log"
)

var logger = log.NewModuleLogger(log.EventBus)

// ChainEventType names one result group of a successful import.
type ChainEventType string

const (
	ChainEventAddresses            ChainEventType = "addresses"
	ChainEventCoinBalances         ChainEventType = "address_coin_balances"
	ChainEventBlocks               ChainEventType = "blocks"
	ChainEventInternalTransactions ChainEventType = "internal_transactions"
	ChainEventLogs                 ChainEventType = "logs"
	ChainEventTokenTransfers       ChainEventType = "token_transfers"
	ChainEventTransactions         ChainEventType = "transactions"
)

// ChainEvent is the notification fanned out after a successful import.
type ChainEvent struct {
	Type          ChainEventType
	BroadcastType string
	Payload       interface{}
}

// Subscription receives chain events for a set of event types.
type Subscription struct {
	feed  *Feed
	ch    chan ChainEvent
	types map[ChainEventType]struct{}
	once  sync.Once
}

// Chan returns the delivery channel.
func (s *Subscription) Chan() <-chan ChainEvent { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.remove(s)
		close(s.ch)
	})
}

func (s *Subscription) wants(t ChainEventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Feed is the in-process chain_event registry. Delivery is fire-and-forget
// and at-most-once: a subscriber with a full channel misses the event.
type Feed struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: map[*Subscription]struct{}{}}
}

// Subscribe registers a consumer for the given event types; no types means
// every type. buffer sizes the delivery channel.
func (f *Feed) Subscribe(buffer int, types ...ChainEventType) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{
		feed:  f,
		ch:    make(chan ChainEvent, buffer),
		types: map[ChainEventType]struct{}{},
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

func (f *Feed) remove(sub *Subscription) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

// Post delivers the event to every matching subscriber without blocking.
func (f *Feed) Post(ev ChainEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			logger.Warn("dropping chain event for slow subscriber", "type", ev.Type)
		}
	}
}
