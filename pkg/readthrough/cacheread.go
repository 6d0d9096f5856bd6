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

package readthrough

import (
	"time"

	"github.com/caliberhq/caliber/pkg/journal"
)

// CacheRead wraps a value with the freshness metadata a read-through read
// produced. It is the only way callers surface T; there is no accessor
// that strips this wrapper away.
type CacheRead[T any] struct {
	Value       T
	CachedAt    time.Time
	Watermark   *journal.Watermark
	WasCacheHit bool
}

// Staleness returns how old the cached value is as of now.
func (c CacheRead[T]) Staleness(now time.Time) time.Duration {
	return now.Sub(c.CachedAt)
}

// IsFreshAsOf reports whether the cached value was current as of t (i.e. it
// was cached no later than t).
func (c CacheRead[T]) IsFreshAsOf(t time.Time) bool {
	return !c.CachedAt.After(t)
}

// CacheReadMap transforms a CacheRead's value, preserving its freshness
// metadata. Defined as a free function because Go methods cannot introduce
// an additional type parameter.
func CacheReadMap[T, U any](c CacheRead[T], f func(T) U) CacheRead[U] {
	return CacheRead[U]{
		Value:       f(c.Value),
		CachedAt:    c.CachedAt,
		Watermark:   c.Watermark,
		WasCacheHit: c.WasCacheHit,
	}
}
