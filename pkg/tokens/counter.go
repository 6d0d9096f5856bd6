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

// Package tokens counts tokens for Scope.token_budget / Scope.tokens_used
// accounting and for Turn.token_count at append time, backed by tiktoken-go
// BPE encodings.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used whenever a caller doesn't name a model-specific
// encoding; cl100k_base covers the common GPT-3.5/4 family and is a
// reasonable universal estimate for agent-authored turn content.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens for a single named encoding, cached process-wide so
// repeated Scope/Turn accounting doesn't re-load the BPE ranks.
type Counter struct {
	mu       sync.RWMutex
	encoding *tiktoken.Tiktoken
	name     string
}

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*tiktoken.Tiktoken)
)

// NewCounter builds a Counter for the named tiktoken encoding (e.g.
// "cl100k_base", "o200k_base"), falling back to DefaultEncoding if name is
// empty.
func NewCounter(name string) (*Counter, error) {
	if name == "" {
		name = DefaultEncoding
	}

	cacheMu.RLock()
	enc, ok := cache[name]
	cacheMu.RUnlock()
	if ok {
		return &Counter{encoding: enc, name: name}, nil
	}

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("tokens: unknown encoding %q: %w", name, err)
	}

	cacheMu.Lock()
	cache[name] = enc
	cacheMu.Unlock()
	return &Counter{encoding: enc, name: name}, nil
}

// ForModel resolves model to its tiktoken encoding and builds a Counter; a
// model tiktoken does not know falls back to DefaultEncoding.
func ForModel(model string) (*Counter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return NewCounter(DefaultEncoding)
	}
	return &Counter{encoding: enc, name: model}, nil
}

// Count returns the exact token count of text under this Counter's
// encoding, the value stored in Turn.token_count and checked against
// Scope.token_budget/tokens_used.
func (c *Counter) Count(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.encoding.Encode(text, nil, nil))
}

// Name returns the encoding name this Counter was constructed with; for a
// Counter that ForModel built from a known model, it is the model name.
func (c *Counter) Name() string { return c.name }
