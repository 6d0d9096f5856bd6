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

// Package journal implements the per-tenant change journal:
// a watermark abstraction over mutations, consulted by pkg/readthrough on
// every Consistent read.
package journal

import "time"

// Watermark totally orders journal state by Sequence.
type Watermark struct {
	Sequence   int64
	ObservedAt time.Time
}

// Zero precedes all real watermarks.
func Zero() Watermark {
	return Watermark{Sequence: 0, ObservedAt: time.Time{}}
}

// Before reports whether w precedes other by sequence.
func (w Watermark) Before(other Watermark) bool {
	return w.Sequence < other.Sequence
}

// After reports whether w succeeds other by sequence.
func (w Watermark) After(other Watermark) bool {
	return w.Sequence > other.Sequence
}
