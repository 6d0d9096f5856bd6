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

package server

import (
	"encoding/json"
	"net/http"

	"github.com/caliberhq/caliber/pkg/caliberr"
)

// errorBody is the wire shape of every REST error:
// {code, message, details?}.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func missingOption(name string) error {
	return caliberr.Validation("missing_required_field", "missing required field: "+name)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err's caliberr category to an HTTP status and serializes
// the stable {code, message, details} error shape. An error that is not a
// *caliberr.Error is treated as internal.
func writeError(w http.ResponseWriter, err error) {
	cerr, ok := caliberr.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Code:    "internal",
			Message: err.Error(),
		})
		return
	}
	body := errorBody{Code: cerr.Code, Message: cerr.Message, Details: cerr.Details}
	if cerr.Field != "" {
		if body.Details == nil {
			body.Details = map[string]any{}
		}
		body.Details["field"] = cerr.Field
	}
	if loc := cerr.Location.String(); loc != "" {
		if body.Details == nil {
			body.Details = map[string]any{}
		}
		body.Details["location"] = loc
	}
	writeJSON(w, cerr.Category.HTTPStatus(), body)
}

// decodeBody decodes a JSON request body into v, surfacing a validation
// error on malformed input.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return caliberr.Validation("invalid_request_body", err.Error())
	}
	return nil
}
