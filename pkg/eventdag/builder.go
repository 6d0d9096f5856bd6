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

package eventdag

import "github.com/caliberhq/caliber/pkg/id"

// Builder carries the fields assigned to an event before it is
// ready to append: an optional parent, a lane, an optional correlation id,
// and flags. Build does not put the parent into the Event, so the call shape
// is dag.Append(builder.Parent(), builder.Build(kind, payload)).
type Builder struct {
	parent        *id.ID
	lane          int
	correlationID id.ID
	flags         Flags
}

// NewBuilder starts a builder for events in the given lane.
func NewBuilder(lane int) *Builder {
	return &Builder{lane: lane}
}

// WithParent sets the event's parent.
func (b *Builder) WithParent(parent id.ID) *Builder {
	b.parent = &parent
	return b
}

// WithCorrelation sets the correlation id linking this event to a causal
// chain that may span lanes. If unset, Build assigns a fresh one.
func (b *Builder) WithCorrelation(correlationID id.ID) *Builder {
	b.correlationID = correlationID
	return b
}

// WithFlags ORs additional flags onto the builder.
func (b *Builder) WithFlags(flags Flags) *Builder {
	b.flags |= flags
	return b
}

// Parent returns the builder's configured parent, if any.
func (b *Builder) Parent() *id.ID { return b.parent }

// Build produces a ready-to-append Event. The DAG assigns EventID and
// Position.Sequence on Append if left zero-valued.
func (b *Builder) Build(kind Kind, payload map[string]any) Event {
	correlation := b.correlationID
	if correlation.IsNil() {
		correlation = id.New()
	}
	return Event{
		Header: Header{
			CorrelationID:   correlation,
			TimestampMicros: TimestampMicrosNow(),
			Position:        Position{Lane: b.lane},
			Kind:            kind,
			Flags:           b.flags,
		},
		Payload: payload,
	}
}
