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

// Package eventdag implements CALIBER's append-only, positioned, correlated
// event store. It is the shared log that the change journal
// (pkg/journal) and the broadcast fabric (pkg/broadcast) are built on top of.
package eventdag

import (
	"time"

	"github.com/caliberhq/caliber/pkg/id"
)

// Kind discriminates an event's payload shape. CACHE_INVALIDATE_<Kind> kinds
// are produced by pkg/journal's DAG-backed journal, the only package in this
// module that appends to a DAG.
type Kind string

// Flags are bit flags carried on an event's header.
type Flags uint8

const (
	FlagNone         Flags = 0
	FlagRequiresAck  Flags = 1 << 0
	FlagCritical     Flags = 1 << 1
	FlagTransactional Flags = 1 << 2
)

// Has reports whether f includes flag.
func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Signal is an upstream-flowing notification.
type Signal string

const (
	SignalAck         Signal = "ack"
	SignalBackpressure Signal = "backpressure"
	SignalError       Signal = "error"
	SignalRetry       Signal = "retry"
)

// Position locates an event within its causal tree.
type Position struct {
	// Depth is the distance from the root along the parent chain.
	Depth int
	// Lane partitions parallel sub-flows sharing a parent.
	Lane int
	// Sequence is a globally monotonic counter assigned at append time.
	Sequence int64
}

// Header carries an event's identity, position, and routing metadata.
type Header struct {
	EventID       id.ID
	CorrelationID id.ID
	TimestampMicros int64
	Position      Position
	Kind          Kind
	Flags         Flags
	// Acknowledged is set by Acknowledge and cleared from the unacknowledged
	// working set when FlagRequiresAck was set at append time.
	Acknowledged bool
}

// Event is one entry in the DAG: a header plus an opaque JSON-serializable
// payload.
type Event struct {
	Header  Header
	Payload map[string]any
}

// TimestampMicrosNow returns the current unix time in microseconds, the unit
// event_DAG headers store timestamps in.
func TimestampMicrosNow() int64 {
	return time.Now().UTC().UnixMicro()
}
