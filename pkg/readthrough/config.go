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

import "time"

// Config carries the cache's construction options. Every field is required at
// construction except in tests, where Default provides the single
// single top-level default that exists for tests.
type Config struct {
	DefaultMaxStaleness time.Duration
	JournalPollInterval time.Duration
	PrefetchEnabled     bool
	MaxEntriesPerTenant int
	EntryTTL            time.Duration
}

// Default returns a Config suitable for tests, the one sanctioned
// default intended for tests, never used in production wiring.
func Default() Config {
	return Config{
		DefaultMaxStaleness: 30 * time.Second,
		JournalPollInterval: 5 * time.Second,
		PrefetchEnabled:     false,
		MaxEntriesPerTenant: 100_000,
		EntryTTL:            time.Hour,
	}
}
