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

package broadcast

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caliberhq/caliber/pkg/id"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Authenticator resolves an incoming WS upgrade request to a tenant id,
// ("every request carries either X-API-Key header or
// Authorization: Bearer <jwt>... every tenant-scoped request carries
// x-tenant-id". Concrete token validation is an external collaborator per
// this package only needs the resolved tenant.
type Authenticator func(r *http.Request) (id.ID, error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP connections to the WS fabric and pumps fabric events
// to each connection for the WS surface (/api/v1/ws).
type Handler struct {
	fabric *Fabric
	auth   Authenticator
	logger *slog.Logger
}

// NewHandler constructs a Handler serving fabric, authenticating upgrades
// with auth.
func NewHandler(fabric *Fabric, auth Authenticator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{fabric: fabric, auth: auth, logger: logger}
}

// ServeHTTP implements the WS lifecycle: upgrade
// authenticates, the server emits Connected{tenant_id}, then the connection
// pumps fabric events to the client while draining client frames (ping/pong/
// text; text is ignored) until close, at which point the server logs the
// disconnect locally. No Disconnected event is published.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.auth(r)
	if err != nil {
		http.Error(w, `{"code":"forbidden","message":"unauthorized"}`, http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("broadcast: ws upgrade failed", "error", err)
		return
	}

	sub := h.fabric.Subscribe(tenant)
	defer h.fabric.Unsubscribe(sub)

	h.fabric.PublishTo(sub, New(EventConnected, tenant, map[string]any{"tenant_id": tenant.String()}))

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)

	h.logger.Info("broadcast: ws disconnected", "tenant_id", tenant.String())
}

// readPump drains client frames. Ping/pong are handled by gorilla's control
// handlers; any text frame is read and discarded ("client
// may send ping/pong/text (text ignored) until close").
func (h *Handler) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pumps subscriber events to the client and sends periodic pings
// while the connection is open.
func (h *Handler) writePump(conn *websocket.Conn, sub *Subscriber, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.Recv():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
