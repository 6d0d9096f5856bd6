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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliberhq/caliber/pkg/id"
)

func TestFabric_TenantFilter(t *testing.T) {
	f := New(4)
	t1, t2 := id.New(), id.New()

	c1 := f.Subscribe(t1)
	c2 := f.Subscribe(t2)
	defer f.Unsubscribe(c1)
	defer f.Unsubscribe(c2)

	f.Publish(Event{
		Type:           EventArtifactCreated,
		Timestamp:      time.Now(),
		EntityMetadata: map[string]any{"tenant_id": t1},
	})

	select {
	case ev := <-c1.Recv():
		assert.Equal(t, EventArtifactCreated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("c1 did not receive event bound to its tenant")
	}

	select {
	case ev := <-c2.Recv():
		t.Fatalf("c2 unexpectedly received event for a different tenant: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFabric_GlobalEventsReachEveryone(t *testing.T) {
	f := New(4)
	t1, t2 := id.New(), id.New()
	c1 := f.Subscribe(t1)
	c2 := f.Subscribe(t2)
	defer f.Unsubscribe(c1)
	defer f.Unsubscribe(c2)

	f.Publish(New(EventConfigUpdated, id.Nil, nil))

	for _, c := range []*Subscriber{c1, c2} {
		select {
		case ev := <-c.Recv():
			assert.Equal(t, EventConfigUpdated, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive global event")
		}
	}
}

func TestFabric_SlowSubscriberLagsInsteadOfBlocking(t *testing.T) {
	f := New(2)
	tenant := id.New()
	sub := f.Subscribe(tenant)
	defer f.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			f.Publish(New(EventTurnCreated, tenant, nil))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	var sawLag bool
	drain := time.After(100 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-sub.Recv():
			if ev.Type == EventError {
				sawLag = true
			}
		case <-drain:
			break loop
		}
	}
	require.True(t, sawLag, "expected a synthetic Lagged error after overflowing the buffer")
}
