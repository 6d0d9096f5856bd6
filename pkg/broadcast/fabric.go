// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package broadcast

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/caliberhq/caliber/pkg/id"
)

// DefaultCapacity is the per-subscriber buffer size New falls back to when
// given a non-positive capacity.
const DefaultCapacity = 1000

// Subscriber is one connected, authenticated client. A nil TenantID (IsNil)
// subscriber is never used in practice (every WS connection authenticates
// to exactly one tenant), but the fabric does not assume it.
type Subscriber struct {
	id       int64
	tenantID id.ID
	ch       chan Event
	lagged   atomic.Bool
}

// ID returns the subscriber's fabric-assigned handle, stable for its
// lifetime.
func (s *Subscriber) ID() int64 { return s.id }

// Recv is the channel subscribers read events from.
func (s *Subscriber) Recv() <-chan Event { return s.ch }

// Fabric is the single multi-producer/multi-consumer broadcast channel that
// fans events out to tenant-filtered subscribers. Publish never blocks on a
// slow subscriber: when a subscriber's buffer is full, the oldest buffered
// event is dropped to make room and the subscriber is marked lagged, which
// synthesizes a single Error{"Lagged: events dropped"} event on the next
// successful delivery. Dropped events are not counted, so that message
// carries no number.
type Fabric struct {
	mu          sync.RWMutex
	subscribers map[int64]*Subscriber
	nextID      int64
	capacity    int
}

// New constructs a Fabric with the given per-subscriber buffer capacity.
func New(capacity int) *Fabric {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Fabric{subscribers: make(map[int64]*Subscriber), capacity: capacity}
}

// Subscribe registers a new subscriber tagged with tenant and returns a
// handle whose Recv channel receives Publish'd events that pass the tenant
// filter.
func (f *Fabric) Subscribe(tenant id.ID) *Subscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub := &Subscriber{id: f.nextID, tenantID: tenant, ch: make(chan Event, f.capacity)}
	f.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe removes sub from the fabric. Safe to call more than once.
func (f *Fabric) Unsubscribe(sub *Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscribers[sub.id]; ok {
		delete(f.subscribers, sub.id)
		close(sub.ch)
	}
}

// Publish delivers event to every subscriber whose tenant filter it passes:
// an event bound to a tenant (directly or via entity metadata) is delivered
// only to that tenant's subscribers; an event with no binding at all (or one
// of the explicitly global types) is delivered to everyone. Publish never
// blocks: a full subscriber buffer drops its oldest entry and marks the
// subscriber lagged ("slow subscribers cannot stall
// producers").
func (f *Fabric) Publish(event Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	tenant, bound := event.ResolvedTenant()
	for _, sub := range f.subscribers {
		if bound && !event.Type.IsGlobal() && sub.tenantID != tenant {
			continue
		}
		f.deliver(sub, event)
	}
}

// PublishTo delivers event only to sub, bypassing the tenant filter. Used by
// the WS handshake to send a subscriber's own Connected frame.
func (f *Fabric) PublishTo(sub *Subscriber, event Event) {
	f.deliver(sub, event)
}

func (f *Fabric) deliver(sub *Subscriber, event Event) {
	if sub.lagged.CompareAndSwap(true, false) {
		select {
		case sub.ch <- lagEvent(0):
		default:
			f.dropOldestAndSend(sub, lagEvent(0))
		}
	}
	select {
	case sub.ch <- event:
	default:
		f.dropOldestAndSend(sub, event)
	}
}

// dropOldestAndSend drops the oldest buffered event (if any) to make room,
// marks the subscriber lagged, and enqueues event. Never blocks.
func (f *Fabric) dropOldestAndSend(sub *Subscriber, event Event) {
	select {
	case <-sub.ch:
	default:
	}
	sub.lagged.Store(true)
	select {
	case sub.ch <- event:
	default:
		// Buffer refilled concurrently by another publisher; give up rather
		// than block; the next successful deliver will carry the Lagged
		// marker forward.
	}
}

func lagEvent(dropped int) Event {
	msg := "Lagged: events dropped"
	if dropped > 0 {
		msg = fmt.Sprintf("Lagged: %d events dropped", dropped)
	}
	return Event{Type: EventError, Payload: map[string]any{"message": msg}}
}

// Count returns the number of currently connected subscribers, for metrics.
func (f *Fabric) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}
