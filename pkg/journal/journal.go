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

package journal

import (
	"context"
	"time"

	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

// Entry is one recorded mutation.
type Entry struct {
	Sequence   int64
	Timestamp  time.Time
	EntityType entity.Type
	EntityID   id.ID
}

// Journal is the per-tenant watermark abstraction over mutations. All
// operations take tenant explicitly and suspend (take a context) because a
// concrete implementation may be backed by shared, out-of-process state.
type Journal interface {
	// CurrentWatermark returns the latest sequence for tenant.
	CurrentWatermark(ctx context.Context, tenant id.ID) (Watermark, error)
	// WatermarkAt returns the latest watermark whose entry has
	// timestamp <= t, or ok=false if the journal has been pruned past t.
	WatermarkAt(ctx context.Context, tenant id.ID, t time.Time) (w Watermark, ok bool, err error)
	// ChangesSince is the hot path: true iff an entry exists with
	// sequence > watermark.Sequence whose entity type is in entityTypes (or
	// entityTypes is empty, matching any type). Implementations optimize for
	// the "no changes" case.
	ChangesSince(ctx context.Context, tenant id.ID, watermark Watermark, entityTypes []entity.Type) (bool, error)
	// RecordChange increments tenant's sequence, appends an entry, and
	// returns the new watermark.
	RecordChange(ctx context.Context, tenant id.ID, entityType entity.Type, entityID id.ID) (Watermark, error)
	// Prune removes entries older than before.
	Prune(ctx context.Context, tenant id.ID, before time.Time) error
}
