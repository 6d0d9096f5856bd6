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

package tokens

import (
	"testing"
)

func TestNewCounter(t *testing.T) {
	tests := []struct {
		name      string
		encoding  string
		wantError bool
	}{
		{
			name:      "default encoding",
			encoding:  "",
			wantError: false,
		},
		{
			name:      "cl100k_base",
			encoding:  "cl100k_base",
			wantError: false,
		},
		{
			name:      "unknown encoding",
			encoding:  "no_such_encoding",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter, err := NewCounter(tt.encoding)
			if (err != nil) != tt.wantError {
				t.Errorf("NewCounter() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && counter == nil {
				t.Error("NewCounter() returned nil counter")
			}
		})
	}
}

func TestCounter_Count(t *testing.T) {
	counter, err := NewCounter(DefaultEncoding)
	if err != nil {
		t.Fatalf("Failed to create counter: %v", err)
	}

	if got := counter.Count(""); got != 0 {
		t.Errorf("Count(empty) = %v, want 0", got)
	}

	short := counter.Count("hello")
	long := counter.Count("hello world, this is a longer piece of turn content")
	if short <= 0 {
		t.Errorf("Count(short) = %v, want > 0", short)
	}
	if long <= short {
		t.Errorf("Count(long) = %v, want > Count(short) = %v", long, short)
	}
}

func TestForModel_FallsBackToDefault(t *testing.T) {
	counter, err := ForModel("claude-3-5-sonnet")
	if err != nil {
		t.Fatalf("ForModel() error = %v", err)
	}
	if counter.Name() != DefaultEncoding {
		t.Errorf("ForModel() fallback encoding = %v, want %v", counter.Name(), DefaultEncoding)
	}
}
