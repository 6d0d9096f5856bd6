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

package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// NewGateway builds an HTTP bridge over the mirror service using the
// grpc-gateway runtime mux: each RPC is exposed under /rpc/v1/<Method>,
// taking the request message as the POST body and the tenant from the same
// x-tenant-id header the REST surface uses. Handlers call the service
// in-process, so the bridge needs no client connection or generated stubs.
func NewGateway(svc *Service) (http.Handler, error) {
	mux := runtime.NewServeMux()

	type route struct {
		method string
		call   func(ctx context.Context, body []byte) (any, error)
	}

	routes := []route{
		{"GetTrajectory", func(ctx context.Context, body []byte) (any, error) {
			var req GetEntityRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			return svc.GetTrajectory(ctx, &req)
		}},
		{"ListTrajectories", func(ctx context.Context, _ []byte) (any, error) {
			return svc.ListTrajectories(ctx, &ListRequest{})
		}},
		{"GetArtifact", func(ctx context.Context, body []byte) (any, error) {
			var req GetEntityRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			return svc.GetArtifact(ctx, &req)
		}},
		{"AcquireLock", func(ctx context.Context, body []byte) (any, error) {
			var req AcquireLockRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			return svc.AcquireLock(ctx, &req)
		}},
		{"ReleaseLock", func(ctx context.Context, body []byte) (any, error) {
			var req ReleaseLockRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			return svc.ReleaseLock(ctx, &req)
		}},
		{"SendMessage", func(ctx context.Context, body []byte) (any, error) {
			var req SendMessageRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			return svc.SendMessage(ctx, &req)
		}},
		{"CallTool", func(ctx context.Context, body []byte) (any, error) {
			var req CallToolRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			return svc.CallTool(ctx, &req)
		}},
	}

	for _, rt := range routes {
		call := rt.call
		err := mux.HandlePath(http.MethodPost, "/rpc/v1/"+rt.method,
			func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					writeRPCError(w, status.Error(statusCodeInvalid, err.Error()))
					return
				}
				ctx := metadata.NewIncomingContext(r.Context(), metadata.New(map[string]string{
					"x-tenant-id": r.Header.Get("x-tenant-id"),
				}))
				resp, err := call(ctx, body)
				if err != nil {
					writeRPCError(w, err)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(resp)
			})
		if err != nil {
			return nil, err
		}
	}
	return mux, nil
}

const statusCodeInvalid = 3 // codes.InvalidArgument

// writeRPCError serializes a gRPC status (or plain error) as JSON with an
// HTTP status derived from the code, the same mapping the runtime uses for
// generated handlers.
func writeRPCError(w http.ResponseWriter, err error) {
	st, ok := status.FromError(err)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 13, "message": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	_ = json.NewEncoder(w).Encode(map[string]any{"code": int(st.Code()), "message": st.Message()})
}
