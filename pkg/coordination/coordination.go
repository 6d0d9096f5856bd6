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

package coordination

import (
	"github.com/caliberhq/caliber/pkg/broadcast"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/journal"
)

// Coordinator bundles every coordination primitive behind one construction
// point: a single top-level service struct wiring its sub-services' shared
// dependencies (journal + broadcast fabric) once.
type Coordinator struct {
	Locks       *LockManager
	Messages    *MessageBus
	Delegations *DelegationService
	Handoffs    *HandoffService
	Conflicts   *ConflictService
}

// Stores groups the Store[T] implementations Coordinator needs, one per
// coordination entity type. A process wiring CALIBER supplies concrete
// implementations (pkg/pgstore, or InMemoryStore for tests).
type Stores struct {
	Locks       Store[entity.Lock]
	Messages    Store[entity.Message]
	Delegations Store[entity.Delegation]
	Handoffs    Store[entity.Handoff]
	Conflicts   Store[entity.Conflict]
}

// New constructs a Coordinator over stores, journaling through j and
// broadcasting through fabric (fabric may be nil in tests that don't care
// about WS delivery).
func New(stores Stores, j journal.Journal, fabric *broadcast.Fabric) *Coordinator {
	return &Coordinator{
		Locks:       NewLockManager(stores.Locks, j, fabric),
		Messages:    NewMessageBus(stores.Messages, j, fabric),
		Delegations: NewDelegationService(stores.Delegations, j, fabric),
		Handoffs:    NewHandoffService(stores.Handoffs, j, fabric),
		Conflicts:   NewConflictService(stores.Conflicts, j),
	}
}

// NewInMemory constructs a Coordinator entirely over InMemoryStore, for
// tests and for processes that don't need durability.
func NewInMemory(j journal.Journal, fabric *broadcast.Fabric) *Coordinator {
	return New(Stores{
		Locks:       NewInMemoryStore[entity.Lock](),
		Messages:    NewInMemoryStore[entity.Message](),
		Delegations: NewInMemoryStore[entity.Delegation](),
		Handoffs:    NewInMemoryStore[entity.Handoff](),
		Conflicts:   NewInMemoryStore[entity.Conflict](),
	}, j, fabric)
}
